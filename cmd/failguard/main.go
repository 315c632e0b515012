// Package main is the entry point for the failguard service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetops/failguard/internal/adaptive"
	"github.com/fleetops/failguard/internal/admission"
	"github.com/fleetops/failguard/internal/breaker"
	"github.com/fleetops/failguard/internal/config"
	"github.com/fleetops/failguard/internal/coordination"
	"github.com/fleetops/failguard/internal/events"
	"github.com/fleetops/failguard/internal/observability"
	"github.com/fleetops/failguard/internal/persistence"
	"github.com/fleetops/failguard/internal/probe"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig(flags.configPath, logger)
	app := initApplication(cfg, logger)

	run(app, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("FAILGUARD_CONFIG_PATH", "configs/failguard.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("FAILGUARD_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("FAILGUARD_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("failguard version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// loadConfig loads and validates the configuration.
func loadConfig(configPath string, logger observability.Logger) *config.Config {
	logger.Info("starting failguard",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", observability.Error(err))
	}

	logger.Info("configuration loaded",
		observability.Int("breakers", len(cfg.Breakers)),
		observability.Bool("redis", cfg.Redis.Enabled),
	)

	return cfg
}

// application holds all long-lived components.
type application struct {
	config       *config.Config
	store        *breaker.Store
	bus          *events.Bus
	decider      *admission.Decider
	orchestrator *coordination.Orchestrator
	engine       *adaptive.Engine
	prober       *probe.Prober
	adapter      persistence.Adapter
	server       *server
	jobs         *jobRunner
}

// initApplication wires the store, subsystems, persistence and the HTTP server.
func initApplication(cfg *config.Config, logger observability.Logger) *application {
	bus := events.NewBus(cfg.EventBuffer, logger)
	store := breaker.NewStore(
		breaker.WithStoreLogger(logger),
		breaker.WithStoreBus(bus),
	)

	adapter := initPersistence(cfg, logger)
	restorePersisted(store, adapter, logger)
	registerConfigured(store, cfg, adapter, logger)

	decider := admission.NewDecider(store, logger)
	orchestrator := coordination.NewOrchestrator(store,
		coordination.WithLogger(logger),
		coordination.WithPerBreakerTimeout(cfg.CoordinationTimeout.Duration()),
	)
	engine := adaptive.NewEngine(store, adaptive.WithLogger(logger))
	prober := probe.NewProber(store,
		probe.WithLogger(logger),
		probe.WithTimeout(cfg.ProbeTimeout.Duration()),
		probe.WithRateLimit(cfg.ProbeRatePerSecond, 1),
	)

	app := &application{
		config:       cfg,
		store:        store,
		bus:          bus,
		decider:      decider,
		orchestrator: orchestrator,
		engine:       engine,
		prober:       prober,
		adapter:      adapter,
	}
	app.server = newServer(app, logger)
	app.jobs = newJobRunner(app, logger)

	return app
}

// initPersistence returns the Redis adapter when enabled, a no-op otherwise.
func initPersistence(cfg *config.Config, logger observability.Logger) persistence.Adapter {
	if !cfg.Redis.Enabled {
		return persistence.Noop{}
	}

	return persistence.NewRedisAdapter(persistence.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
}

// restorePersisted registers persisted breaker configs and reapplies their
// last known state. Errors are logged and skipped: persistence is an
// optimization, not a dependency.
func restorePersisted(store *breaker.Store, adapter persistence.Adapter, logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	configs, err := adapter.LoadConfigs(ctx)
	if err != nil {
		logger.Warn("failed to load persisted breaker configs", observability.Error(err))
		return
	}
	for _, cfg := range configs {
		if _, err := store.Register(cfg); err != nil {
			logger.Warn("failed to restore persisted breaker",
				observability.String("breaker", cfg.ID),
				observability.Error(err),
			)
		}
	}

	states, err := adapter.LoadStates(ctx)
	if err != nil {
		logger.Warn("failed to load persisted breaker states", observability.Error(err))
		return
	}
	for id, rec := range states {
		b, err := store.Get(id)
		if err != nil {
			continue
		}
		state, ok := breaker.ParseState(rec.State)
		if !ok {
			continue
		}
		b.RestoreState(state, rec.EnteredAt)
	}

	if len(configs) > 0 {
		logger.Info("restored persisted breakers",
			observability.Int("configs", len(configs)),
			observability.Int("states", len(states)),
		)
	}
}

// registerConfigured registers the breakers declared in the config file.
// File definitions win over persisted ones with the same id.
func registerConfigured(store *breaker.Store, cfg *config.Config, adapter persistence.Adapter, logger observability.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := range cfg.Breakers {
		bc, err := cfg.Breakers[i].ToBreakerConfig()
		if err != nil {
			logger.Fatal("invalid breaker definition", observability.Error(err))
		}

		if _, err := store.Register(bc); err != nil {
			if updateErr := store.Update(bc.ID, bc); updateErr != nil {
				logger.Fatal("failed to register breaker",
					observability.String("breaker", bc.ID),
					observability.Error(updateErr),
				)
			}
		}

		if err := adapter.SaveConfig(ctx, bc); err != nil {
			logger.Warn("failed to persist breaker config",
				observability.String("breaker", bc.ID),
				observability.Error(err),
			)
		}
	}
}

// run starts everything and blocks until a shutdown signal arrives.
func run(app *application, configPath string, logger observability.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go pumpEvents(ctx, app, logger)
	go drainReports(ctx, app, logger)

	app.jobs.Start()
	app.server.Start()

	watcher := startConfigWatcher(app, configPath, logger)

	waitForShutdown(app, watcher, cancel, logger)
}

// pumpEvents consumes the transition stream, persisting every new state and
// forwarding the events to the coordination watcher.
func pumpEvents(ctx context.Context, app *application, logger observability.Logger) {
	forward := make(chan events.Event, app.config.EventBuffer)
	go app.orchestrator.Watch(ctx, forward)
	defer close(forward)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-app.bus.Events():
			if !ok {
				return
			}

			saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := app.adapter.SaveState(saveCtx, e.BreakerID, persistence.StateRecord{
				State:     e.To,
				EnteredAt: e.At,
			})
			cancel()
			if err != nil {
				logger.Warn("failed to persist breaker state",
					observability.String("breaker", e.BreakerID),
					observability.Error(err),
				)
			}

			select {
			case forward <- e:
			default:
			}
		}
	}
}

// drainReports logs recovery-monitor outcomes.
func drainReports(ctx context.Context, app *application, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-app.orchestrator.Reports():
			if !ok {
				return
			}
			recovered := 0
			for _, br := range report.Breakers {
				if br.Recovered {
					recovered++
				}
			}
			logger.Info("coordinated recovery check completed",
				observability.String("coordination_id", report.CoordinationID),
				observability.Int("recovered", recovered),
				observability.Int("still_open", len(report.Breakers)-recovered),
			)
		}
	}
}

// startConfigWatcher hot-reloads breaker definitions on file change.
func startConfigWatcher(app *application, configPath string, logger observability.Logger) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		logger.Info("configuration changed, reapplying breaker definitions")
		applyBreakerSpecs(app, newCfg, logger)
	}, config.WithWatcherLogger(logger))

	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
	}

	return watcher
}

// applyBreakerSpecs upserts the breaker definitions from a reloaded config.
// Runtime state of existing breakers is preserved; only configuration changes.
func applyBreakerSpecs(app *application, cfg *config.Config, logger observability.Logger) {
	for i := range cfg.Breakers {
		bc, err := cfg.Breakers[i].ToBreakerConfig()
		if err != nil {
			logger.Error("skipping invalid breaker definition", observability.Error(err))
			continue
		}

		if err := app.store.Update(bc.ID, bc); err != nil {
			if _, regErr := app.store.Register(bc); regErr != nil {
				logger.Error("failed to apply breaker definition",
					observability.String("breaker", bc.ID),
					observability.Error(regErr),
				)
			}
		}
	}
}

// waitForShutdown blocks on SIGINT/SIGTERM and shuts components down in order.
func waitForShutdown(app *application, watcher *config.Watcher, cancel context.CancelFunc, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.config.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	app.jobs.Stop()

	if err := app.server.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop HTTP server gracefully", observability.Error(err))
	}

	app.orchestrator.Shutdown()
	cancel()
	app.bus.Close()

	if err := app.adapter.Close(); err != nil {
		logger.Error("failed to close persistence adapter", observability.Error(err))
	}

	logger.Info("failguard stopped")
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
