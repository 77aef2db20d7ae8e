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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/callbridge/internal/adapters/http"
	"github.com/dkeye/callbridge/internal/adapters/livekit"
	"github.com/dkeye/callbridge/internal/adapters/local"
	"github.com/dkeye/callbridge/internal/adapters/twilio"
	"github.com/dkeye/callbridge/internal/app"
	"github.com/dkeye/callbridge/internal/app/bridge"
	"github.com/dkeye/callbridge/internal/app/orch"
	"github.com/dkeye/callbridge/internal/app/sfu"
	"github.com/dkeye/callbridge/internal/config"
	"github.com/dkeye/callbridge/internal/core"
	"github.com/dkeye/callbridge/internal/domain"
	"github.com/dkeye/callbridge/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps := router.Deps{Config: cfg, Metrics: m, Gatherer: reg}
	var gw core.RoomGateway
	switch cfg.Room.Provider {
	case config.ProviderLiveKit:
		tokens := livekit.NewTokenIssuer(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)
		gw = livekit.NewGateway(cfg.LiveKit.URL, tokens)
		deps.Tokens = tokens
	default:
		rooms := app.NewRoomManager()
		gw = local.NewGateway(rooms, sfu.NewRelayManager(), roomPolicy(cfg.Room.Policy))
		deps.Rooms = rooms
	}

	o := orch.New(app.NewSessionRegistry(), gw, bridgeConfig(cfg.Bridge), cfg.Bridge.IdentityPrefix, m)
	deps.Orch = o
	deps.Media = twilio.NewMediaStreamController(o, cfg.ReadLimit, cfg.PingPeriod)

	r := router.SetupRouter(ctx, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("provider", cfg.Room.Provider).Msg("callbridge started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Stop taking webhooks first, then drain the live calls.
		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := o.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("bridge shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func roomPolicy(name string) app.Policy {
	if name == "kick" {
		return app.StrictPolicy{}
	}
	return app.SimplePolicy{}
}

func bridgeConfig(c config.BridgeConfig) bridge.Config {
	return bridge.Config{
		JoinTimeout:         c.JoinTimeout,
		LeaveTimeout:        c.LeaveTimeout,
		BufferMaxFrames:     c.BufferMaxFrames,
		BufferMaxDuration:   c.BufferMaxDuration,
		MailboxSize:         c.MailboxSize,
		CounterpartIdentity: domain.Identity(c.CounterpartIdentity),
		CounterpartIdle:     c.CounterpartIdle,
	}
}
