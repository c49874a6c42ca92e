package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zily-project/zily/internal/api"
	"github.com/zily-project/zily/internal/cli"
	"github.com/zily-project/zily/internal/config"
	"github.com/zily-project/zily/internal/db"
	"github.com/zily-project/zily/internal/events"
	"github.com/zily-project/zily/internal/network"
	"github.com/zily-project/zily/internal/scheduler"
	"github.com/zily-project/zily/internal/session"
	"github.com/zily-project/zily/internal/telemetry"
	"github.com/zily-project/zily/internal/util"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var noConsole bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session daemon",
		Long: `Run the session daemon: accept peers on the configured transport,
print their text, and serve the admin API, journal, telemetry and
interactive console until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf(banner, util.AppVersion)
			fmt.Println()

			cfg, err := loadConfig(flags, true)
			if err != nil {
				return err
			}
			return runServe(cfg, !noConsole)
		},
	}

	cmd.Flags().BoolVar(&noConsole, "no-console", false, "Do not read console commands from stdin")
	return cmd
}

func runServe(cfg *config.Config, interactive bool) error {
	log.Info().
		Str("version", util.AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting zily")

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	local, err := cfg.LocalSide()
	if err != nil {
		return fmt.Errorf("invalid local side: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	appData := cfg.GetApplicationData()
	transport := cfg.GetTransport()

	var journal *db.Journal
	if appData.Journal.Enabled {
		journal, err = db.NewJournal(appData.Journal.Path, appData.Journal.RecordText)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open journal, journaling disabled")
			journal = nil
		} else {
			journal.Subscribe(eventBus)
		}
	}

	registry := network.NewSessionRegistry()

	sessionLogger := util.ComponentLogger("session")
	kind, address := cfg.Endpoint()
	listener := network.NewSessionListener(network.ListenerConfig{
		Kind:             kind,
		Address:          address,
		Local:            local,
		HandshakeTimeout: transport.HandshakeTimeoutDuration(),
		Options: session.Options{
			Logger:    &sessionLogger,
			Console:   session.NewWriterConsole(os.Stdout),
			Notifier:  events.NewSessionNotifier(eventBus),
			Plaintext: transport.Plaintext,
		},
	}, registry)

	var apiServer *api.Server
	if appData.API.Enabled {
		apiServer = api.NewServer(cfg, eventBus, registry, journal)
	}

	var mqttHandler *telemetry.MQTTHandler
	var heartbeat scheduler.Heartbeat
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(appData.MQTT, local.Name, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		} else {
			heartbeat = mqttHandler.PublishHeartbeat
		}
	}

	sched := scheduler.NewScheduler(cfg, registry, journal, heartbeat)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("kind", kind).Str("address", address).Msg("starting session listener")
		if err := startWithRetry(ctx, "session listener", listener.Start, 15); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("session listener failed after retries")
			errCh <- fmt.Errorf("session listener: %w", err)
		}
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", appData.API.Address()).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 15); err != nil && ctx.Err() == nil {
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
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if interactive {
		console := cli.NewCLI(cfg, eventBus, registry, journal, os.Stdin, os.Stdout, cancel)
		go func() {
			log.Info().Msg("starting interactive console")
			console.Start(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
		log.Info().Msg("shutdown requested from console")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	eventBus.Emit(context.Background(), events.Event{
		Type:   events.EventShutdown,
		Source: "main",
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Sessions are closed by the listener; drain their last events before
	// the journal goes away.
	eventBus.Stop()
	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close journal")
		}
	}

	log.Info().Msg("zily stopped")
	return nil
}

// startWithRetry retries startFn while the address is still held by a
// previous run.
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
		if ctx.Err() != nil {
			return ctx.Err()
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
