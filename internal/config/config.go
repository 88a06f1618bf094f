package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgREST = "postgrest"
	StoreDriverPostgres  = "postgres"
	StoreDriverMemory    = "memory"
)

type Config struct {
	Port        int
	GinMode     string
	TLSCertFile string
	TLSKeyFile  string

	StoreDriver    string
	SupabaseURL    string
	SupabaseKey    string
	DatabaseURL    string
	StoreStateFile string
	StoreTimeout   time.Duration
	FieldNames     string

	IngestSecret      string
	DeviceTokenExpiry time.Duration
	PersistRawPoints  bool
	UploadRateLimit   int
	CORSOrigins       []string

	LogLevel  string
	LogFormat string
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads the process environment, after merging a .env file from
// the working directory when one exists.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	return LoadConfigFromEnv(osEnv{})
}

// LoadConfigFromEnv never fails on missing store credentials; those surface
// per request as configuration errors.
func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:              8000,
		GinMode:           "release",
		StoreDriver:       StoreDriverPostgREST,
		StoreTimeout:      10 * time.Second,
		FieldNames:        "canonical",
		DeviceTokenExpiry: 365 * 24 * time.Hour,
		UploadRateLimit:   120,
		CORSOrigins:       []string{"*"},
		LogLevel:          "info",
		LogFormat:         "json",
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("STORE_DRIVER"); raw != "" {
		switch raw {
		case StoreDriverPostgREST, StoreDriverPostgres, StoreDriverMemory:
			cfg.StoreDriver = raw
		default:
			return Config{}, fmt.Errorf("invalid STORE_DRIVER %q", raw)
		}
	}

	cfg.SupabaseURL = strings.TrimRight(env.Getenv("SUPABASE_URL"), "/")
	cfg.SupabaseKey = env.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	cfg.DatabaseURL = env.Getenv("DATABASE_URL")
	cfg.StoreStateFile = env.Getenv("STORE_STATE_FILE")

	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=postgres")
	}

	if raw := env.Getenv("STORE_TIMEOUT_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid STORE_TIMEOUT_SECONDS")
		}
		cfg.StoreTimeout = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("STORE_FIELD_NAMES"); raw != "" {
		if raw != "canonical" && raw != "legacy" {
			return Config{}, fmt.Errorf("invalid STORE_FIELD_NAMES %q", raw)
		}
		cfg.FieldNames = raw
	}

	cfg.IngestSecret = env.Getenv("INGEST_SECRET")

	if raw := env.Getenv("DEVICE_TOKEN_EXPIRY_HOURS"); raw != "" {
		hours, err := strconv.Atoi(raw)
		if err != nil || hours <= 0 {
			return Config{}, fmt.Errorf("invalid DEVICE_TOKEN_EXPIRY_HOURS")
		}
		cfg.DeviceTokenExpiry = time.Duration(hours) * time.Hour
	}

	if raw := env.Getenv("PERSIST_RAW_POINTS"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid PERSIST_RAW_POINTS")
		}
		cfg.PersistRawPoints = v
	}

	if raw := env.Getenv("UPLOAD_RATE_LIMIT"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return Config{}, fmt.Errorf("invalid UPLOAD_RATE_LIMIT")
		}
		cfg.UploadRateLimit = limit
	}

	if raw := env.Getenv("CORS_ORIGINS"); raw != "" {
		origins := make([]string, 0)
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) > 0 {
			cfg.CORSOrigins = origins
		}
	}

	if raw := env.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := env.Getenv("LOG_FORMAT"); raw != "" {
		cfg.LogFormat = raw
	}

	return cfg, nil
}
