package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/haukened/rr-shield/internal/shield/common/clock"
	"github.com/haukened/rr-shield/internal/shield/common/log"
	"github.com/haukened/rr-shield/internal/shield/config"
	"github.com/haukened/rr-shield/internal/shield/gateways/hostsfile"
	"github.com/haukened/rr-shield/internal/shield/gateways/sysexec"
	"github.com/haukened/rr-shield/internal/shield/gateways/winsvc"
	"github.com/haukened/rr-shield/internal/shield/repos/blockstore"
	"github.com/haukened/rr-shield/internal/shield/repos/eventlog"
	"github.com/haukened/rr-shield/internal/shield/repos/journal"
	"github.com/haukened/rr-shield/internal/shield/services/engine"
	"github.com/haukened/rr-shield/internal/shield/services/guard"
	"github.com/haukened/rr-shield/internal/shield/services/scorer"
)

const (
	version = "0.1.0-dev"
	appName = "rr-shieldd"
)

// Application holds the long-lived components of the protection daemon.
type Application struct {
	config  *config.AppConfig
	engine  *engine.Engine
	journal *journal.Journal
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// The persisted settings own the log level; bootstrap at info until they
	// are loaded.
	if err := log.Configure(cfg.Env, "info"); err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}
	defer app.journal.Close()

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"blocklist": cfg.BlocklistPath,
		"settings":  cfg.SettingsPath,
		"interval":  cfg.Interval().String(),
	}, "Starting rr-shield protection engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Engine failed")
	}

	log.Info(nil, "rr-shield stopped gracefully")
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	settings, err := config.LoadSettings(cfg.SettingsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if err := log.Configure(cfg.Env, settings.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to apply log level: %w", err)
	}
	logger = log.GetLogger()

	store := blockstore.New(cfg.BlocklistPath, clk, logger)
	store.Load()

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	blockLog := eventlog.New(cfg.BlockLogPath, clk)
	alertLog := eventlog.New(cfg.AlertLogPath, clk)

	runner := sysexec.New(cfg.Timeout(), logger)
	hostsPath := cfg.HostsPath
	if hostsPath == "" {
		hostsPath = hostsfile.DefaultPath()
	}
	hosts := hostsfile.New(hostsPath, runner, logger)
	inspector := winsvc.NewInspector(runner, logger)
	controller := winsvc.NewController(runner, logger)

	heuristic := scorer.New(store, cfg.ScoreCacheSize, clk, logger)
	keywords := scorer.NewKeywords()

	var quarantine atomic.Bool
	svcGuard := guard.New(guard.Options{
		Inspector:  inspector,
		Controller: controller,
		Classifier: keywords,
		Alerts:     alertLog,
		Journal:    jnl,
		Clock:      clk,
		Logger:     logger,
		Interval:   cfg.Interval(),
		Quarantine: &quarantine,
	})

	eng := engine.New(engine.Options{
		Store:        store,
		Hosts:        hosts,
		Scorer:       heuristic,
		Classifier:   keywords,
		Guard:        svcGuard,
		Inspector:    inspector,
		Journal:      jnl,
		BlockLog:     blockLog,
		Clock:        clk,
		Logger:       logger,
		Env:          cfg.Env,
		SettingsPath: cfg.SettingsPath,
		Settings:     settings,
		Quarantine:   &quarantine,
	})

	return &Application{config: cfg, engine: eng, journal: jnl}, nil
}

// Run starts monitoring when realtime protection is enabled and drains
// verdicts until shutdown.
func (app *Application) Run(ctx context.Context) error {
	if app.engine.Settings().RealtimeProtection {
		if err := app.engine.StartMonitoring(); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return app.engine.Close()
		case v := <-app.engine.Verdicts():
			log.Warn(map[string]any{
				"service":  v.Service.Name,
				"keywords": v.MatchedKeywords,
			}, "Suspicious service reported")
		}
	}
}
