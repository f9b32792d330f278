package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/stridelink/internal/admin"
	"github.com/danmuck/stridelink/internal/auth"
	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/config"
	"github.com/danmuck/stridelink/internal/history"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/simengine"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/wearable"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to wearablectl config.toml")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "wearablectl: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntime()

	cfg, err := config.LoadWearable(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wearablectl: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "wearablectl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Wearable) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, cfg.HistoryPath, time.Local)
	if err != nil {
		return err
	}
	defer store.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}

	ch := transport.NewTCPChannel(cfg.Transport)
	defer ch.Close()
	link := transport.New(ch, cfg.Transport)
	defer link.Close()
	link.OnDeliveryError(func(msg transport.Message, err error) {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("wearablectl delivery failed")
	})

	ctrl := wearable.New(simengine.New(cfg.Engine), link, store, clock.System{}, cfg.Controller)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("controller", ctrl.Run)
	spawn("device link", func(ctx context.Context) error { return ch.Serve(ctx, ln) })
	spawn("events", func(ctx context.Context) error {
		logEvents(ctx, ctrl.Events())
		return nil
	})
	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.DeviceID, cfg.AdminAddr, cfg.CorsOrigins, admin.Wearable(ctrl), store)
		if cfg.AdminToken != "" {
			srv.RequireToken(auth.SharedToken(cfg.AdminToken))
		}
		spawn("admin", srv.Serve)
	}

	log.Info().
		Str("device_id", cfg.DeviceID).
		Str("listen", cfg.ListenAddr).
		Str("admin", cfg.AdminAddr).
		Msg("wearablectl ready")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	wg.Wait()
	log.Info().Msg("wearablectl shutdown")
	return runErr
}

func logEvents(ctx context.Context, events <-chan wearable.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch ev.Kind {
			case wearable.EventMilestone:
				log.Info().Str("session_id", ev.SessionID).Int("km", ev.Kilometers).Msg("wearablectl milestone")
			case wearable.EventPhase:
				log.Info().Str("session_id", ev.SessionID).Str("phase", string(ev.Phase)).Msg("wearablectl phase")
			}
		}
	}
}
