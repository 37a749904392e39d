// battlewire - distributed battle message router
//
// A battlewire node runs standalone, as the authoritative server that
// hosts the arena and relays battle messages between connected players,
// or as a client that owns one player and talks to a server. Nodes expose
// a REST API for inspection and control, record routing decisions in a
// SQLite journal, and publish telemetry via MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/critterbox/battlewire/internal/api"
	"github.com/critterbox/battlewire/internal/cli"
	"github.com/critterbox/battlewire/internal/config"
	"github.com/critterbox/battlewire/internal/events"
	"github.com/critterbox/battlewire/internal/health"
	"github.com/critterbox/battlewire/internal/journal"
	"github.com/critterbox/battlewire/internal/node"
	"github.com/critterbox/battlewire/internal/scheduler"
	"github.com/critterbox/battlewire/internal/telemetry"
	"github.com/critterbox/battlewire/internal/util"
)

const (
	AppName    = "battlewire"
	AppVersion = "1.0.0"
	Banner     = `
  _           _   _   _          _
 | |__   __ _| |_| |_| | _____ _(_)_ __ ___
 | '_ \ / _' | __| __| |/ _ \ \ /\ / / | '__/ _ \
 | |_) | (_| | |_| |_| |  __/\ V  V /| | | |  __/
 |_.__/ \__,_|\__|\__|_|\___| \_/\_/ |_|_|  \___|
                                         v%s
 Distributed battle message router
`
)

const (
	staleSweepInterval = time.Minute
	shutdownTimeout    = 30 * time.Second
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	noCLI := flag.Bool("no-cli", false, "disable the interactive CLI")
	setup := flag.Bool("setup", false, "run the setup wizard before starting")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting battlewire")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal().Err(err).Msg("failed to apply environment overrides")
	}

	if *setup {
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	// Re-initialize logger with config-based settings
	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    true,
		Role:       cfg.Network.Role,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Str("path", cfg.Path()).Msg("configuration validation failed, fix the errors above or run with -setup")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	var jrnl *journal.Journal
	if cfg.Journal.Enabled {
		jrnl, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open journal, routing history disabled")
		} else {
			jrnl.Subscribe(eventBus)
		}
	}

	n, err := node.New(ctx, node.Options{Config: cfg, Events: eventBus, Version: AppVersion})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create node")
	}

	healthMgr := health.NewManager(cfg, n, eventBus)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, n, jrnl, AppVersion)
		apiServer.SetHealth(healthMgr)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg.MQTT, n.Name(), n.Role().String(), eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			mqttHandler.SetStatusFunc(func() interface{} {
				statusCtx, statusCancel := context.WithTimeout(ctx, 2*time.Second)
				defer statusCancel()
				st, err := n.Status(statusCtx)
				if err != nil {
					return map[string]interface{}{"error": err.Error()}
				}
				return map[string]interface{}{
					"node":   st,
					"health": healthMgr.Report(statusCtx).Level,
				}
			})
		}
	}

	sched, err := buildScheduler(cfg, n, jrnl, healthMgr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure scheduler")
	}

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: the node itself. Its failure ends the process.
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("role", n.Role().String()).Msg("starting node")
		if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("node: %w", err)
		}
	}()

	// Task 2: REST API (with retry for port binding)
	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", cfg.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: MQTT telemetry
	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Task 4: Scheduler (health checks, journal and log retention, stale peers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	// Task 5: Interactive CLI
	if !*noCLI {
		cliHandler := cli.NewCLI(n, jrnl, os.Stdin, os.Stdout, cancel)
		go func() {
			log.Info().Msg("starting interactive CLI")
			cliHandler.Start(ctx)
		}()
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		exitCode = 1
	case <-ctx.Done():
		log.Info().Msg("shutdown requested from CLI")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Shutdown observers finish before the tasks they depend on are cancelled.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := eventBus.EmitSync(shutdownCtx, events.Event{Type: events.EventShutdown, Source: "main"}); err != nil {
		log.Warn().Err(err).Msg("shutdown handler failed")
	}
	shutdownCancel()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	// Stop the event bus before closing the journal it feeds.
	eventBus.Stop()
	if jrnl != nil {
		if err := jrnl.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}

	log.Info().Msg("battlewire stopped")
	os.Exit(exitCode)
}

// buildScheduler registers the node's housekeeping tasks.
func buildScheduler(cfg *config.Config, n *node.Node, j *journal.Journal, hm *health.Manager) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler()
	logger := util.ComponentLogger("scheduler")

	if interval := cfg.Health.Interval(); interval > 0 {
		err := sched.Add(scheduler.Task{
			Name:       "health-check",
			Interval:   interval,
			RunOnStart: true,
			Fn:         func(ctx context.Context) { hm.Check(ctx) },
		})
		if err != nil {
			return nil, err
		}
	}

	if j != nil && cfg.Journal.RetentionDays > 0 {
		retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
		err := sched.Add(scheduler.Task{
			Name:       "journal-prune",
			Daily:      "03:00",
			RunOnStart: true,
			Fn: func(context.Context) {
				removed, err := j.Prune(time.Now().Add(-retention))
				if err != nil {
					logger.Warn().Err(err).Msg("journal prune failed")
					return
				}
				if removed > 0 {
					logger.Info().Int64("removed", removed).Msg("journal pruned")
				}
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Logging.Directory != "" {
		err := sched.Add(scheduler.Task{
			Name:  "log-rotation",
			Daily: "00:05",
			Fn: func(context.Context) {
				for _, path := range util.PruneLogs(cfg.Logging.Directory, cfg.Logging.MaxBackups) {
					logger.Info().Str("file", path).Msg("removed old log file")
				}
			},
		})
		if err != nil {
			return nil, err
		}
	}

	if idle := cfg.GetNetwork().IdleTimeout(); idle > 0 && n.ListenAddr() != "" {
		err := sched.Add(scheduler.Task{
			Name:     "stale-peers",
			Interval: staleSweepInterval,
			Fn: func(context.Context) {
				if removed := n.CleanStale(idle); removed > 0 {
					logger.Info().Int("removed", removed).Msg("disconnected stale peers")
				}
			},
		})
		if err != nil {
			return nil, err
		}
	}

	return sched, nil
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
