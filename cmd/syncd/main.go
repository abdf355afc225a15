package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/api/client"
	"github.com/meridianhq/meridian-sync/internal/api/middleware"
	"github.com/meridianhq/meridian-sync/internal/domain/identity"
	"github.com/meridianhq/meridian-sync/internal/domain/lro"
	"github.com/meridianhq/meridian-sync/internal/domain/mapping"
	"github.com/meridianhq/meridian-sync/internal/domain/workspace"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/config"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/monitoring"
	"github.com/meridianhq/meridian-sync/internal/infrastructure/tracing"
	"github.com/meridianhq/meridian-sync/internal/mirror"
	"github.com/meridianhq/meridian-sync/internal/providers/deviceauth"
	"github.com/meridianhq/meridian-sync/internal/server"
	"github.com/meridianhq/meridian-sync/internal/store"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "", "Config file (.yaml or .toml); MERIDIAN_* environment otherwise")
	port := flag.Int("port", 0, "Listen port override")
	fixture := flag.String("fixture", "", "Serve canned workspaces from a JSON fixture instead of the platform")
	dev := flag.Bool("dev", false, "Development mode: debug logging, verbose routes")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("syncd " + version)
		return
	}

	cfg := loadConfig(*configPath)
	if *dev {
		cfg.Logging.Level = "debug"
		cfg.Logging.Development = true
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger, *port, *fixture, *dev); err != nil {
		logger.Fatal("daemon failed", zap.Error(err))
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadOrDefault()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func run(cfg *config.Config, logger *logging.Logger, portOverride int, fixturePath string, dev bool) error {
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("syncd", logger.Named("tracing"))

	st := store.New(cfg.Storage.StateFile,
		store.WithBackups(cfg.Storage.BackupCount),
		store.WithLogger(logger.Named("store")),
		store.WithSaveHook(metrics.RecordStateSave),
	)
	existed, err := st.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !existed {
		logger.Info("starting with fresh state", zap.String("path", st.Path()))
	}

	srvCfg := server.Config{
		Host:    cfg.Server.Host,
		Port:    listenPort(cfg, portOverride),
		Version: version,
		Dev:     dev,
		Mapping: mapping.New(st, cfg.Storage.BaseFolder,
			mapping.WithLogger(logger.Named("mapping"))),
		Mirror: mirror.New(
			mirror.WithLogger(logger.Named("mirror")),
			mirror.WithExcludes(cfg.Mirror.Exclude),
			mirror.WithSnapshotCount(cfg.Mirror.SnapshotCount),
		),
		Settings: st,
		Metrics:  metrics,
		Tracer:   tracer,
		Logger:   logger,
	}
	if cfg.RateLimit.Enabled {
		srvCfg.RateLimit = middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
	}

	if fixturePath != "" {
		fix, err := workspace.NewFixtureSession(fixturePath)
		if err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
		srvCfg.Session = fix
		srvCfg.Environment = workspace.FixtureEnvironment
		logger.Info("serving fixture workspaces", zap.String("path", fixturePath))
	} else {
		provider := deviceauth.New(cfg.Identity,
			deviceauth.WithLogger(logger.Named("identity")))
		provider.Restore()

		ctrl := identity.NewController(provider, st,
			identity.WithLogger(logger.Named("session")),
			identity.WithTransitionObserver(metrics.RecordSessionTransition),
		)
		ctrl.Start(context.Background())
		defer ctrl.Close()

		sender := client.New(cfg.API.BaseURL,
			client.WithLogger(logger.Named("api")),
			client.WithTokenSource(provider.Token),
			client.WithRequestHook(metrics.RecordRemoteRequest),
			client.WithTimeout(time.Duration(cfg.API.TimeoutSeconds)*time.Second),
			client.WithRetry(cfg.API.RetryCount, 500*time.Millisecond, 5*time.Second),
			client.WithRateLimit(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst),
		)

		poller := lro.New(sender,
			lro.WithLogger(logger.Named("lro")),
			lro.WithObserver(metrics.RecordOperation),
		)

		mgr := workspace.NewManager(workspace.ManagerConfig{
			Sender:      sender,
			Identity:    ctrl,
			Store:       st,
			Poller:      poller,
			Environment: cfg.API.Environment,
		},
			workspace.WithLogger(logger.Named("workspace")),
			workspace.WithCacheObserver(metrics.RecordCacheLookup),
			workspace.WithRestoreObserver(metrics.RecordRestore),
		)
		mgr.Start()
		defer mgr.Close()
		go mgr.Restore(context.Background())

		srvCfg.Session = mgr
		srvCfg.Identity = ctrl
		srvCfg.Prompts = provider.DevicePrompts()
		srvCfg.Environment = cfg.API.Environment
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func listenPort(cfg *config.Config, override int) int {
	if override > 0 {
		return override
	}
	p, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || p <= 0 {
		return 7171
	}
	return p
}
