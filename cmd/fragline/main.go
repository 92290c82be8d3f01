// fragline - Quake II protocol session server
//
// fragline accepts vanilla, R1Q2 and Q2PRO clients over UDP, walks them
// through the connect, precache and spawn handshake, streams delta
// compressed frames and file downloads, and exposes a REST API, an
// operator console, prometheus metrics and MQTT telemetry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/fragline/internal/api"
	"github.com/energizer-project/fragline/internal/cli"
	"github.com/energizer-project/fragline/internal/config"
	"github.com/energizer-project/fragline/internal/db"
	"github.com/energizer-project/fragline/internal/download"
	"github.com/energizer-project/fragline/internal/events"
	"github.com/energizer-project/fragline/internal/filter"
	"github.com/energizer-project/fragline/internal/health"
	"github.com/energizer-project/fragline/internal/network"
	"github.com/energizer-project/fragline/internal/scheduler"
	"github.com/energizer-project/fragline/internal/session"
	"github.com/energizer-project/fragline/internal/telemetry"
	"github.com/energizer-project/fragline/internal/util"
)

const (
	AppVersion = "0.9.0"
	Banner     = `
   __                      _ _
  / _|_ __ __ _  __ _  ___| (_)_ __   ___
 | |_| '__/ _' |/ _' |/ _ \ | | '_ \ / _ \
 |  _| | | (_| | (_| |  __/ | | | | |  __/
 |_| |_|  \__,_|\__, |\___|_|_|_| |_|\___|
                |___/  v%s
 Quake II protocol session server
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	setup := flag.Bool("setup", false, "run the setup wizard before starting")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	flag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults until the configuration is loaded
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting fragline")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *setup || cfg.IsFirstRun() {
		log.Info().Msg("launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	appData := cfg.GetApplicationData()
	logCfg := util.DefaultLogConfig()
	logCfg.Level = appData.Logging.Level
	logCfg.Directory = appData.Logging.Directory
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
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
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
	serverData := cfg.GetServerData()

	audit, err := db.NewAuditLog(appData.Database.Path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open audit log, session history disabled")
	} else {
		eventBus.SubscribeAll("audit", audit.Handler())
		defer audit.Close()
	}

	filters := filter.NewList(serverData.FilterFile)
	if err := filters.Load(); err != nil {
		log.Warn().Err(err).Str("path", serverData.FilterFile).Msg("failed to load filters")
	}

	assets := download.NewDirSource(serverData.AssetDirectory)
	defer assets.Close()

	srv, err := session.NewServer(cfg.SessionOptions(), session.Deps{
		Assets:  assets,
		Filters: filters,
		Bus:     eventBus,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session server")
	}
	srv.Activate()

	metrics := telemetry.NewMetrics(srv)
	metrics.Subscribe(eventBus)

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, eventBus, AppVersion)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	udpListener := network.NewUDPListener(cfg.UDPConfig(), srv)

	var store interface {
		scheduler.AlertStore
		health.AlertStore
	}
	if audit != nil {
		store = audit
	}
	healthMgr := health.NewManager(cfg, udpListener, srv, store)

	apiOpts := api.Options{
		Health:  healthMgr,
		Metrics: metrics.Handler(),
		Version: AppVersion,
	}
	if audit != nil {
		apiOpts.Audit = audit
	}
	apiServer := api.NewServer(cfg, eventBus, srv, apiOpts)

	var publisher scheduler.StatusPublisher
	if mqttHandler != nil {
		publisher = mqttHandler
	}
	sched := scheduler.NewScheduler(cfg, srv, store, publisher)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			errCh <- fmt.Errorf("session loop: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", serverData.Port).Msg("starting UDP listener")
		if err := startWithRetry(ctx, "UDP listener", udpListener.Start, 5); err != nil {
			log.Error().Err(err).Msg("UDP listener failed after retries")
			errCh <- fmt.Errorf("udp listener: %w", err)
		}
	}()

	if appData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

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

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-udpListener.Ready():
		}
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	quitCh := make(chan struct{})
	if !*noConsole {
		var once sync.Once
		console := cli.NewCLI(cfg, eventBus, srv, func() { once.Do(func() { close(quitCh) }) }, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	eventBus.Emit(ctx, events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	if mqttHandler != nil {
		mqttHandler.PublishShutdown()
	}

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("fragline stopped")
}

// startWithRetry attempts to start a listener with retry on bind errors.
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
