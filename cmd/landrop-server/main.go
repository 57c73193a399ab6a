package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/landrop-server/landrop-server/internal/api"
	"github.com/landrop-server/landrop-server/internal/config"
	"github.com/landrop-server/landrop-server/internal/connect"
	"github.com/landrop-server/landrop-server/internal/discovery"
	"github.com/landrop-server/landrop-server/internal/events"
	"github.com/landrop-server/landrop-server/internal/history"
	"github.com/landrop-server/landrop-server/internal/integration"
	"github.com/landrop-server/landrop-server/internal/proxy"
	"github.com/landrop-server/landrop-server/internal/receive"
	"github.com/landrop-server/landrop-server/internal/registry"
)

func main() {
	var configPath = flag.String("config", "config/landrop-server.yml", "path to config file")
	var validateOnly = flag.Bool("validate", false, "validate config and exit")
	var showConfig = flag.Bool("show-config", false, "print config summary and exit")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}
	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("config OK")
		return
	}

	log.Info().
		Str("alias", cfg.Server.Alias).
		Str("fingerprint", cfg.Server.Fingerprint).
		Str("connection_key", connect.Key(cfg.Server.Fingerprint)).
		Msg("LANDrop server starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// registries and event plumbing
	devices := registry.NewDeviceRegistry()
	sessions := registry.NewSessionRegistry()
	engine := receive.NewEngine(cfg.Server.DownloadDir, cfg.Transfer.VerifyChecksums)

	channelSink := events.NewChannelSink(256)
	sink := events.Fanout{events.LogSink{}, channelSink}

	// transfer history
	var hist history.Store
	switch cfg.History.Driver {
	case "postgres":
		hist, err = history.NewPostgresStore(cfg.History.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open history database")
		}
	case "memory":
		hist = history.NewMemoryStore(1000)
	}
	if hist != nil {
		defer hist.Close()
	}

	// transfer API
	server := api.NewServer(cfg, devices, sessions, engine, sink, hist)
	resolver := connect.NewResolver(cfg.Self(), devices)
	server.SetResolver(resolver)

	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	// peer discovery
	var coordinator *discovery.Coordinator
	if cfg.Discovery.Enabled {
		var transport discovery.Transport
		switch cfg.Discovery.Transport {
		case "httpscan":
			transport = discovery.NewHTTPScanner(resolver.Probe, cfg.Discovery.ScanRanges, 0)
		default:
			transport = discovery.NewAnnouncer(cfg.Self(), cfg.Discovery.MulticastGroup,
				cfg.Discovery.MulticastPort, cfg.Discovery.AnnounceInterval)
		}

		coordinator = discovery.NewCoordinator(transport, devices, sink,
			cfg.Discovery.SweepInterval, cfg.Discovery.DeviceTimeout)
		if err := coordinator.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start discovery")
		}
	}

	// TLS boundary
	var tlsProxy *proxy.Proxy
	if cfg.Proxy.Enabled {
		tlsProxy = proxy.New(cfg.Server.Port+1, cfg.Server.Port, &proxy.SelfSignedProvider{
			Dir:   cfg.Proxy.CertDir,
			Alias: cfg.Server.Alias,
		})
		if err := tlsProxy.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start TLS proxy")
		}
	}

	// outbound event forwarding
	forwarder := integration.NewForwarder(cfg.Integrations, channelSink.C())
	if forwarder.Enabled() {
		if err := forwarder.Start(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to start integration forwarder")
		}
		defer forwarder.Stop()
	}

	// terminal sessions are kept for a while so late requests get a clean
	// answer, then swept
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := sessions.SweepTerminal(now, cfg.Transfer.SessionRetention); n > 0 {
					log.Debug().Int("sessions", n).Msg("Swept terminal sessions")
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	cancel()

	if coordinator != nil {
		coordinator.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if tlsProxy != nil {
		tlsProxy.Shutdown(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown failed")
	}

	log.Info().Msg("LANDrop server stopped")
}
