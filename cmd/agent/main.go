// ABOUTME: Entry point for the complyd host agent.
// ABOUTME: Loads the rule catalog, then runs periodic scans and spooled delivery.

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/complyd/complyd/internal/catalog"
	"github.com/complyd/complyd/internal/checks"
	"github.com/complyd/complyd/internal/checks/hostinfo"
	"github.com/complyd/complyd/internal/scan"
	"github.com/complyd/complyd/internal/submit"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	CatalogFile  string
	ServerURL    string
	APIKey       string
	SpoolDir     string
	ScanInterval time.Duration
	Parallelism  int
	MockMode     bool
	Once         bool
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
		logger.WithError(err).Fatal("Agent failed")
	}
}

func parseConfig() *Config {
	config := &Config{}

	flag.StringVar(&config.CatalogFile, "catalog", "/etc/complyd/rules.yaml", "Path to the rule catalog YAML file")
	flag.StringVar(&config.ServerURL, "server-url", "", "Base URL of the central server, e.g. https://complyd.internal:8080")
	flag.StringVar(&config.APIKey, "api-key", "", "API key for result submission")
	flag.StringVar(&config.SpoolDir, "spool-dir", "/var/lib/complyd/spool", "Directory for unsent scan results")
	flag.DurationVar(&config.ScanInterval, "scan-interval", time.Hour, "Interval between scans")
	flag.IntVar(&config.Parallelism, "parallelism", 4, "Max concurrent checks")
	flag.BoolVar(&config.MockMode, "mock", false, "Use canned host state instead of reading the real system")
	flag.BoolVar(&config.Once, "once", false, "Run a single scan, drain the spool, and exit")
	flag.Parse()

	if env := os.Getenv("CATALOG_FILE"); env != "" {
		config.CatalogFile = env
	}
	if env := os.Getenv("SERVER_URL"); env != "" {
		config.ServerURL = env
	}
	if env := os.Getenv("API_KEY"); env != "" {
		config.APIKey = env
	}
	if env := os.Getenv("SPOOL_DIR"); env != "" {
		config.SpoolDir = env
	}
	if env := os.Getenv("SCAN_INTERVAL"); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			config.ScanInterval = d
		} else {
			log.Printf("Invalid SCAN_INTERVAL environment variable: %s", env)
		}
	}
	if env := os.Getenv("MOCK_MODE"); env != "" {
		if b, err := strconv.ParseBool(env); err == nil {
			config.MockMode = b
		}
	}

	if config.ServerURL == "" {
		log.Fatal("Server URL is required (use -server-url or SERVER_URL)")
	}
	if config.APIKey == "" {
		log.Fatal("API key is required (use -api-key or API_KEY)")
	}

	return config
}

func run(ctx context.Context, config *Config, logger *logrus.Logger) error {
	cat, err := catalog.Load(config.CatalogFile)
	if err != nil {
		// A broken catalog is fatal at startup: scanning with a partial rule
		// set would report a misleading score.
		var confErr *catalog.ConfigError
		if errors.As(err, &confErr) {
			logger.WithField("catalog", config.CatalogFile).Error(confErr.Reason)
		}
		return err
	}

	host := hostinfo.NewProvider(config.MockMode, logger)

	logger.WithFields(logrus.Fields{
		"hostname":      host.Hostname(),
		"provider":      host.Name(),
		"catalog":       config.CatalogFile,
		"rules":         len(cat.Rules()),
		"enabled_rules": len(cat.EnabledRules()),
		"scan_interval": config.ScanInterval,
	}).Info("Initializing complyd agent")

	client, err := submit.NewClient(submit.Config{
		ServerURL: config.ServerURL,
		APIKey:    config.APIKey,
		SpoolDir:  config.SpoolDir,
	}, logger)
	if err != nil {
		return err
	}

	executor := checks.NewExecutor(host, logger)
	orchestrator := scan.NewOrchestrator(cat, executor, host, client, scan.Config{
		Interval:    config.ScanInterval,
		Parallelism: config.Parallelism,
	}, logger)

	if config.Once {
		return runOnce(ctx, orchestrator, client, logger)
	}

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		client.Start(ctx)
	}()

	orchestrator.Start(ctx)
	<-clientDone

	if n, err := client.Queue().Len(); err == nil && n > 0 {
		logger.WithField("spooled", n).Info("Undelivered results remain spooled for next start")
	}
	return nil
}

// runOnce performs a single scan and one drain pass. Used for cron-style
// deployments and smoke tests; anything unacknowledged stays spooled.
func runOnce(ctx context.Context, orchestrator *scan.Orchestrator, client *submit.Client, logger *logrus.Logger) error {
	result, err := orchestrator.Scan(ctx)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"scan_id":      result.ScanID,
		"total_checks": result.TotalChecks,
		"passed":       result.Passed,
		"failed":       result.Failed,
		"errors":       result.Errors,
	}).Info("Scan completed")

	if err := client.Enqueue(result); err != nil {
		return err
	}
	client.Drain(ctx)

	if n, err := client.Queue().Len(); err == nil && n > 0 {
		logger.WithField("spooled", n).Warn("Delivery incomplete, results remain spooled")
	}
	return nil
}
