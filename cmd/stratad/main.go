package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/InsulaLabs/strata/config"
	"github.com/InsulaLabs/strata/internal/ctrl"
	"github.com/InsulaLabs/strata/internal/events"
	"github.com/InsulaLabs/strata/internal/ingress"
	"github.com/InsulaLabs/strata/internal/security"
	"github.com/InsulaLabs/strata/internal/store"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("Controller exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Controller exiting.")
}

func run(args []string) error {
	var configFile, genConfigFile string
	fs := flag.NewFlagSet("stratad", flag.ContinueOnError)
	fs.StringVar(&configFile, "config", "controller.yaml", "Path to the controller configuration file.")
	fs.StringVar(&genConfigFile, "new-cfg", "", "Generate a new controller configuration file to a given path.")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	if genConfigFile != "" {
		return writeDefaultConfig(genConfigFile)
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configFile, err)
	}

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "", "info":
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		color.HiYellow("Unknown logging level: %s, defaulting to info", cfg.Logging.Level)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})).With("service", "stratad")

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, initiating shutdown...", "signal", sig)
		appCancel()
	}()

	st, err := store.New(store.Config{
		Logger:         logger,
		BadgerLogLevel: slog.LevelWarn,
		Directory:      filepath.Join(cfg.DataDir, config.StoreDirName),
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	controller := ctrl.New(ctrl.Config{
		Logger:      logger,
		SysCtx:      security.SystemContext(),
		Driver:      st,
		Records:     st,
		LockTimeout: cfg.Locks.AcquireTimeout,
		SatStateTTL: cfg.SatelliteState.TTL,
		AutoDiskful: ctrl.AutoDiskfulConfig{
			Delay:         cfg.AutoDiskful.Delay,
			CheckInterval: cfg.AutoDiskful.CheckInterval,
		},
		MinTCPPort: cfg.TCPPorts.Min,
		MaxTCPPort: cfg.TCPPorts.Max,
	})
	if err := controller.Load(appCtx); err != nil {
		return fmt.Errorf("failed to load object graph: %w", err)
	}

	unsubscribe, err := controller.Broker().SubscribeAll(events.EventResourceState,
		events.SubscriberFunc(func(_ context.Context, ev events.Event) {
			logger.Debug("resource state forwarded",
				"event", ev.Identifier.String(), "action", ev.Action.String(), "event_id", ev.EventID)
		}))
	if err != nil {
		return err
	}
	defer unsubscribe()

	server := ingress.New(appCtx, ingress.Config{
		Logger:          logger,
		Handler:         controller.Processor(),
		Limit:           cfg.Ingress.Limit,
		Burst:           cfg.Ingress.Burst,
		ReadBufferSize:  cfg.Ingress.ReadBufferSize,
		WriteBufferSize: cfg.Ingress.WriteBufferSize,
		MaxConnections:  cfg.Ingress.MaxConnections,
	})

	g, gctx := errgroup.WithContext(appCtx)
	g.Go(func() error {
		return controller.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(gctx, cfg.Listen)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutdown complete.")
	return nil
}

func writeDefaultConfig(path string) error {
	cfg, err := config.GenerateConfig(path)
	if err != nil {
		return fmt.Errorf("failed to generate configuration: %w", err)
	}

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal generated config to YAML: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for config file %s: %w", path, err)
		}
	}

	if err := os.WriteFile(path, yamlData, 0644); err != nil {
		return fmt.Errorf("failed to write generated configuration to %s: %w", path, err)
	}

	slog.Info("Successfully generated new configuration file", "path", path)
	return nil
}
