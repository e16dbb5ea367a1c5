// ABOUTME: Entry point for the complyd central compliance server.
// ABOUTME: Handles configuration parsing, store selection, and starts the HTTP API.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/complyd/complyd/internal/apikeys"
	"github.com/complyd/complyd/internal/metrics"
	"github.com/complyd/complyd/internal/server"
	"github.com/complyd/complyd/internal/store"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port            int
	StoreBackend    string // "postgres" or "memory"
	DatabaseURL     string
	APIKeyFile      string
	KeyRefreshEvery time.Duration
}

func main() {
	_ = godotenv.Load()
	config := parseConfig()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, config, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

func parseConfig() *Config {
	config := &Config{}

	flag.IntVar(&config.Port, "port", 8080, "Port to serve the API on")
	flag.StringVar(&config.StoreBackend, "store", "postgres", "Storage backend: postgres or memory")
	flag.StringVar(&config.DatabaseURL, "database-url", "", "Postgres connection URL (required for postgres store)")
	flag.StringVar(&config.APIKeyFile, "api-keys", "/etc/complyd/api_keys.yaml", "Path to the API key YAML file")
	flag.DurationVar(&config.KeyRefreshEvery, "key-refresh-interval", 5*time.Minute, "Interval to refresh the API key set")
	flag.Parse()

	if env := os.Getenv("PORT"); env != "" {
		if n, err := fmt.Sscanf(env, "%d", &config.Port); err != nil || n != 1 {
			log.Printf("Invalid PORT environment variable: %s", env)
		}
	}
	if env := os.Getenv("STORE_BACKEND"); env != "" {
		config.StoreBackend = env
	}
	if env := os.Getenv("DATABASE_URL"); env != "" {
		config.DatabaseURL = env
	}
	if env := os.Getenv("API_KEY_FILE"); env != "" {
		config.APIKeyFile = env
	}

	if config.StoreBackend == "postgres" && config.DatabaseURL == "" {
		log.Fatal("Database URL is required for the postgres store")
	}

	return config
}

func run(ctx context.Context, config *Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"port":  config.Port,
		"store": config.StoreBackend,
	}).Info("Initializing complyd server")

	st, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	// An unreadable key set at boot is fatal: the server must never start
	// accepting unauthenticated submissions.
	keys, err := apikeys.Load(config.APIKeyFile, config.KeyRefreshEvery, logger)
	if err != nil {
		return fmt.Errorf("failed to load API keys: %w", err)
	}
	go keys.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/results", securityMiddleware(logger, server.CreateIngestHandler(st, keys, logger)))
	mux.HandleFunc("/api/v1/results/", securityMiddleware(logger, server.CreateHostResultsHandler(st, keys, logger)))
	mux.HandleFunc("/api/v1/summary", securityMiddleware(logger, server.CreateSummaryHandler(st, keys, logger)))
	mux.HandleFunc("/metrics", securityMiddleware(logger, metrics.CreateMetricsHandler(st, logger)))
	mux.HandleFunc("/health", securityMiddleware(logger, healthHandler))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.WithField("port", config.Port).Info("Starting HTTP server")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func openStore(ctx context.Context, config *Config) (store.Store, error) {
	switch config.StoreBackend {
	case "postgres":
		return store.OpenPostgres(ctx, config.DatabaseURL)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", config.StoreBackend)
	}
}

func securityMiddleware(logger *logrus.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodPost:
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request received")

		next(w, r)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok"}`)
}
