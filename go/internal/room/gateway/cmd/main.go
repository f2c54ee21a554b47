package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/planning-poker/go/internal/config"
	"github.com/mcdev12/planning-poker/go/internal/room"
	"github.com/mcdev12/planning-poker/go/internal/room/events"
	"github.com/mcdev12/planning-poker/go/internal/room/gateway"
	"github.com/mcdev12/planning-poker/go/internal/room/presence"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "poker-gateway",
	Short:         "Planning poker room presence and sync server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default $CONFIG_PATH)")
}

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("poker gateway failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	publisher, err := setupPublisher(cfg.NATS)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	store := room.NewStore(clock)
	gw := gateway.New(store, publisher, clock, gatewayConfig(cfg))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h2c.NewHandler(gw.Routes(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("addr", server.Addr).
		Strs("allowed_origins", cfg.AllowedOrigins()).
		Dur("heartbeat_interval", cfg.Presence.HeartbeatInterval).
		Dur("sweep_interval", cfg.Presence.SweepInterval).
		Dur("participant_timeout", cfg.Presence.ParticipantTimeout).
		Dur("room_inactivity_timeout", cfg.Presence.RoomInactivityTimeout).
		Msg("starting poker gateway")

	gwCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start room reaper
	go func() {
		if err := gw.Start(gwCtx); err != nil {
			log.Error().Err(err).Msg("room reaper failed")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			shutdown(cfg, server, cancel, gw, store, publisher)
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdown(cfg, server, cancel, gw, store, publisher)
	return nil
}

func shutdown(cfg config.Config, server *http.Server, cancel context.CancelFunc, gw *gateway.Gateway, store *room.Store, publisher events.Publisher) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	cancel()
	gw.Close()
	store.Close()

	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}

	log.Info().Msg("poker gateway shutdown complete")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupPublisher(cfg config.NATSConfig) (events.Publisher, error) {
	if cfg.URL == "" {
		log.Info().Msg("NATS_URL not set, room events will only be logged")
		return events.NewLogPublisher(), nil
	}

	natsConfig := events.DefaultNATSConfig()
	natsConfig.URL = cfg.URL
	natsConfig.SubjectPrefix = cfg.SubjectPrefix

	publisher, err := events.NewNATSPublisher(natsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	log.Info().
		Str("nats_url", cfg.URL).
		Str("subject_prefix", cfg.SubjectPrefix).
		Msg("publishing room events to NATS")
	return publisher, nil
}

func gatewayConfig(cfg config.Config) gateway.Config {
	gc := gateway.DefaultConfig()
	gc.AllowedOrigins = cfg.AllowedOrigins()
	gc.Presence = presence.Config{
		HeartbeatInterval:     cfg.Presence.HeartbeatInterval,
		SweepInterval:         cfg.Presence.SweepInterval,
		ParticipantTimeout:    cfg.Presence.ParticipantTimeout,
		RoomSweepInterval:     cfg.Presence.RoomSweepInterval,
		RoomInactivityTimeout: cfg.Presence.RoomInactivityTimeout,
	}
	gc.Connection.WriteTimeout = cfg.WebSocket.WriteTimeout
	gc.Connection.ReadTimeout = cfg.WebSocket.ReadTimeout
	gc.Connection.PingInterval = cfg.WebSocket.PingInterval
	gc.Connection.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	gc.Connection.SendBufferSize = cfg.WebSocket.SendBufferSize
	return gc
}
