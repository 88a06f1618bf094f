package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gps-relay/internal/auth"
	"gps-relay/internal/config"
	"gps-relay/internal/hub"
	"gps-relay/internal/ingest"
	"gps-relay/internal/latest"
	"gps-relay/internal/logging"
	"gps-relay/internal/middleware"
	"gps-relay/internal/server"
	"gps-relay/internal/store"
	"gps-relay/internal/store/pgstore"
	"gps-relay/internal/store/postgrest"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer st.Close()

	wsHub := hub.New()
	svc := ingest.NewService(st, &latest.Slot{}, ingest.Options{
		PersistRawPoints: cfg.PersistRawPoints,
		Publisher:        wsHub,
	})

	limiter := middleware.NewRateLimiter(cfg.UploadRateLimit, time.Minute)
	defer limiter.Stop()

	if cfg.IngestSecret == "" {
		logging.Warn().Msg("INGEST_SECRET is empty; /upload accepts unauthenticated requests")
	}

	handler := server.NewHandler(server.Deps{
		Service:      svc,
		Store:        st,
		Hub:          wsHub,
		IngestSecret: cfg.IngestSecret,
		TokenConfig:  auth.DefaultTokenConfig(cfg.IngestSecret),
		RateLimiter:  limiter,
		CORSOrigins:  cfg.CORSOrigins,
	})

	return server.Run(ctx, cfg, handler)
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgREST:
		fields, err := postgrest.FieldNamesFor(cfg.FieldNames)
		if err != nil {
			return nil, err
		}
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			logging.Warn().Msg("SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY missing; store calls will fail")
		}
		return postgrest.New(postgrest.Options{
			BaseURL: cfg.SupabaseURL,
			APIKey:  cfg.SupabaseKey,
			Timeout: cfg.StoreTimeout,
			Fields:  fields,
		}), nil
	case config.StoreDriverPostgres:
		return pgstore.Open(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
	case config.StoreDriverMemory:
		return store.NewMemoryWithOptions(store.Options{StateFile: cfg.StoreStateFile}), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
