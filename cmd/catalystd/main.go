package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/orbisoperations/catalyst/internal/audit"
	"github.com/orbisoperations/catalyst/internal/clock"
	"github.com/orbisoperations/catalyst/internal/config"
	"github.com/orbisoperations/catalyst/internal/dataplane"
	"github.com/orbisoperations/catalyst/internal/db"
	"github.com/orbisoperations/catalyst/internal/eventbus"
	"github.com/orbisoperations/catalyst/internal/fanout"
	catalysthttp "github.com/orbisoperations/catalyst/internal/http"
	"github.com/orbisoperations/catalyst/internal/logging"
	"github.com/orbisoperations/catalyst/internal/maintenance"
	"github.com/orbisoperations/catalyst/internal/metrics"
	"github.com/orbisoperations/catalyst/internal/queue"
	"github.com/orbisoperations/catalyst/internal/rib"
	"github.com/orbisoperations/catalyst/internal/tick"
	"github.com/orbisoperations/catalyst/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "maintenance":
		runMaintenance()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: catalystd <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Start the control-plane daemon")
	fmt.Println("  migrate       Run commit audit log migrations")
	fmt.Println("  maintenance   Run commit_log partition maintenance (create new, drop old)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting catalystd",
		zap.String("node", cfg.Node.Name),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The commit audit log is optional: a blank DSN means no audit
	// writer, no migrations, and no partition maintenance, but the RIB,
	// queue, and admin server still run.
	auditWriter, err := audit.New(nil, logging.WrapZap(logger.Named("audit")))
	if err != nil {
		logger.Fatal("failed to init audit writer", zap.Error(err))
	}
	if cfg.Audit.DSN != "" {
		auditPool, err := db.NewPool(ctx, cfg.Audit.DSN, cfg.Audit.MaxConns, cfg.Audit.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to audit database", zap.Error(err))
		}
		defer auditPool.Close()

		auditWriter, err = audit.New(auditPool, logging.WrapZap(logger.Named("audit")))
		if err != nil {
			logger.Fatal("failed to init audit writer", zap.Error(err))
		}

		pm := maintenance.NewPartitionManager(auditPool, 30, "UTC", logger.Named("maintenance"))
		if err := pm.CreatePartitions(ctx); err != nil {
			logger.Fatal("failed to create commit_log partitions on startup", zap.Error(err))
		}
	}

	// The route-change event bus is optional: no configured brokers
	// means Publish is a no-op for every commit.
	publisher, err := eventbus.New(cfg.EventBus.Brokers, cfg.EventBus.Topic, cfg.Node.Name+"-eventbus", logging.WrapZap(logger.Named("eventbus")))
	if err != nil {
		logger.Fatal("failed to init event bus publisher", zap.Error(err))
	}
	defer publisher.Close()

	r, err := rib.New(cfg.Node.Name, cfg.Node.DefaultHoldTimeSeconds, cfg.PortRanges())
	if err != nil {
		logger.Fatal("failed to construct RIB", zap.Error(err))
	}

	registry := transport.NewRegistry()
	sink := dataplane.NewMemory()
	fo := fanout.New(registry, sink, logging.WrapZap(logger.Named("fanout")))

	q := queue.New(r, fo, clock.Real{}, logging.WrapZap(logger.Named("queue")), cfg.Service.QueueBufferSize)
	q.AddObserver(func(obsCtx context.Context, actionKind string, res *rib.CommitResult) {
		auditWriter.Append(obsCtx, actionKind, res)
		publisher.Publish(obsCtx, res)
	})
	q.Start(ctx)
	defer q.Stop()

	tickInterval := time.Duration(cfg.Service.TickIntervalMs) * time.Millisecond
	td := tick.New(q, clock.Real{}, tickInterval, logging.WrapZap(logger.Named("tick")))
	td.Start(ctx)
	defer td.Stop()

	var dbChecker catalysthttp.DBChecker
	if cfg.Audit.DSN != "" {
		dbChecker = auditWriter
	}

	var eventBusChecker catalysthttp.DBChecker
	if len(cfg.EventBus.Brokers) > 0 {
		eventBusChecker = publisher
	}

	httpServer := catalysthttp.NewServer(cfg.Service.HTTPListen, q, r, td, dbChecker, eventBusChecker, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("catalystd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()
	logger.Info("catalystd stopped")
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if cfg.Audit.DSN == "" {
		logger.Fatal("audit.dsn is not configured; nothing to migrate")
	}

	logger.Info("running migrations", zap.String("dsn", redactDSN(cfg.Audit.DSN)))

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Audit.DSN, cfg.Audit.MaxConns, cfg.Audit.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runMaintenance() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if cfg.Audit.DSN == "" {
		logger.Fatal("audit.dsn is not configured; nothing to maintain")
	}

	logger.Info("running commit_log partition maintenance")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Audit.DSN, cfg.Audit.MaxConns, cfg.Audit.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	pm := maintenance.NewPartitionManager(pool, 30, "UTC", logger)
	if err := pm.Run(ctx); err != nil {
		logger.Fatal("maintenance failed", zap.Error(err))
	}

	logger.Info("partition maintenance complete")
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
