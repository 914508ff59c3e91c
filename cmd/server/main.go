package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sandy-echo/echo-backend/internal/blob"
	"github.com/sandy-echo/echo-backend/internal/config"
	"github.com/sandy-echo/echo-backend/internal/handlers"
	appmw "github.com/sandy-echo/echo-backend/internal/middleware"
	"github.com/sandy-echo/echo-backend/internal/middleware/metrics"
	"github.com/sandy-echo/echo-backend/internal/services"
	"github.com/sandy-echo/echo-backend/internal/store"
	ws "github.com/sandy-echo/echo-backend/internal/websocket"
)

func main() {
	// Load configuration from environment
	cfg := config.Load()

	// Construct the thread store explicitly before accepting any traffic;
	// a constructed store is connected and ready, so requests can never
	// race a background initialization.
	threads, err := newThreadStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect thread store: %v", err)
	}
	defer threads.Close()

	blobs, err := newBlobStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	// Realtime hub fans events out to subscribed sessions
	hub := ws.NewHub()
	go hub.Run()

	// Initialize services
	voiceService := services.NewVoiceService(threads, blobs, hub, cfg.BaseURL, cfg.UploadTimeout)

	if cfg.CleanupEnabled {
		cleanupService := services.NewCleanupService(threads, blobs, cfg.CleanupInterval)
		go cleanupService.Start()
	}

	// Initialize handlers
	voiceHandler := handlers.NewVoiceHandler(voiceService)
	healthHandler := handlers.NewHealthHandler(threads)
	wsHandler := ws.NewHandler(hub)

	// Set up router with middleware
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(metrics.Middleware)

	if cfg.RateLimitEnabled {
		limiter := appmw.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		r.Use(limiter.Handler)
	}

	// CORS configuration - reads from CORS_ORIGINS env var
	corsOrigins := getCorsOrigins()
	log.Printf("CORS allowed origins: %v", corsOrigins)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics endpoints
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())

	// Realtime channel
	r.Get("/ws", wsHandler.ServeWS)

	// Audio playback
	r.Get("/play/{file}", voiceHandler.Play)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", voiceHandler.Upload)
		r.Get("/voice/{id}", voiceHandler.GetThread)
		r.Post("/open/{id}", voiceHandler.TrackOpen)
		r.Post("/play/{id}/{msgId}", voiceHandler.TrackPlay)
		r.Post("/request-reveal/{id}", voiceHandler.RequestReveal)
		r.Post("/approve-reveal/{id}", voiceHandler.ApproveReveal)
		r.Get("/dashboard/{senderId}", voiceHandler.Dashboard)
	})

	// Frontend shell, when a static dir is configured
	if cfg.StaticDir != "" {
		index := filepath.Join(cfg.StaticDir, "index.html")
		serveIndex := func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, index)
		}
		r.Get("/", serveIndex)
		r.Get("/v/{id}", serveIndex)
	}

	// Start server
	addr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("🚀 Echo backend starting on %s (store: %s, blobs: %s)", addr, cfg.StoreType, cfg.BlobBackend)
	log.Fatal(http.ListenAndServe(addr, r))
}

// newThreadStore builds the configured thread store backend.
func newThreadStore(cfg *config.Config) (store.ThreadStore, error) {
	switch cfg.StoreType {
	case "redis":
		return store.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	default:
		return store.NewMemoryStore(), nil
	}
}

// newBlobStore builds the configured audio blob backend.
func newBlobStore(cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3Store(blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return blob.NewFilesystemStore(cfg.UploadDir)
	}
}

// getCorsOrigins returns allowed CORS origins from environment or defaults
func getCorsOrigins() []string {
	originsEnv := os.Getenv("CORS_ORIGINS")
	if originsEnv == "" {
		// Default to localhost for development
		return []string{"http://localhost:5173", "http://localhost:3000"}
	}

	// Split comma-separated origins and trim whitespace
	origins := strings.Split(originsEnv, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	return origins
}
