package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gps-relay/internal/auth"
	"gps-relay/internal/handler"
	"gps-relay/internal/hub"
	"gps-relay/internal/ingest"
	"gps-relay/internal/middleware"
)

type Deps struct {
	Service      *ingest.Service
	Store        handler.Pinger
	Hub          *hub.Hub
	IngestSecret string
	TokenConfig  auth.TokenConfig
	// RateLimiter guards /upload. Nil disables limiting.
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())

	if deps.Hub == nil {
		deps.Hub = hub.New()
	}

	statusHandler := &handler.StatusHandler{Store: deps.Store}
	r.GET("/", statusHandler.Root)
	r.GET("/healthz", statusHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	uploadHandler := &handler.UploadHandler{Service: deps.Service}
	r.POST("/upload",
		middleware.RateLimitMiddleware(deps.RateLimiter),
		middleware.RequireIngestSecret(deps.IngestSecret, deps.TokenConfig),
		uploadHandler.Upload,
	)

	latestHandler := &handler.LatestHandler{Slot: deps.Service.Latest()}
	r.GET("/latest", latestHandler.Latest)

	feedHandler := &handler.FeedHandler{Hub: deps.Hub, Slot: deps.Service.Latest()}
	r.GET("/ws", feedHandler.Serve)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	})

	return r
}

// NewHandler returns the router wrapped with CORS handling.
func NewHandler(deps Deps) http.Handler {
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	})(NewRouter(deps))
}
