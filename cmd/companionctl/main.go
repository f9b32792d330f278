package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/stridelink/internal/admin"
	"github.com/danmuck/stridelink/internal/auth"
	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/companion"
	"github.com/danmuck/stridelink/internal/config"
	"github.com/danmuck/stridelink/internal/history"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/snapshot"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to companionctl config.toml")
	envFile := flag.String("env", ".env", "optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "companionctl: %v\n", err)
		os.Exit(1)
	}
	logging.ConfigureRuntime()

	cfg, err := config.LoadCompanion(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "companionctl: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "companionctl: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Companion) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, cfg.HistoryPath, time.Local)
	if err != nil {
		return err
	}
	defer store.Close()

	var (
		snapStore snapshot.Store
		refresher snapshot.Refresher
	)
	switch cfg.SnapshotStore {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			// Writes retry on the next cycle once redis is reachable.
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("companionctl redis unreachable")
		}
		rs := snapshot.NewRedisStore(client, cfg.RedisKey, cfg.RedisChannel)
		snapStore, refresher = rs, rs
	default:
		snapStore = snapshot.NewFileStore(cfg.SnapshotPath)
	}
	publisher := snapshot.NewPublisher(snapStore, store, refresher, clock.System{}, cfg.Snapshot)

	ch := transport.NewTCPChannel(cfg.Transport)
	defer ch.Close()
	link := transport.New(ch, cfg.Transport)
	defer link.Close()
	link.OnDeliveryError(func(msg transport.Message, err error) {
		log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("companionctl delivery failed")
	})

	mirror := companion.New(link, publisher, store, clock.System{}, cfg.Mirror)
	mirror.Observe(milestoneLogger())

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	spawn("mirror", mirror.Run)
	spawn("device link", func(ctx context.Context) error { return ch.DialLoop(ctx, cfg.PeerAddr) })
	if cfg.AdminAddr != "" {
		srv := admin.New(cfg.DeviceID, cfg.AdminAddr, cfg.CorsOrigins, admin.Companion(mirror, publisher), store)
		if cfg.AdminToken != "" {
			srv.RequireToken(auth.SharedToken(cfg.AdminToken))
		}
		spawn("admin", srv.Serve)
	}

	log.Info().
		Str("device_id", cfg.DeviceID).
		Str("peer", cfg.PeerAddr).
		Str("snapshot_store", cfg.SnapshotStore).
		Str("admin", cfg.AdminAddr).
		Msg("companionctl ready")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		stop()
	}
	wg.Wait()
	log.Info().Msg("companionctl shutdown")
	return runErr
}

// milestoneLogger logs kilometer crossings and staleness flips. It runs on
// the mirror goroutine.
func milestoneLogger() func(companion.State) {
	var (
		km    int
		stale bool
	)
	return func(s companion.State) {
		if s.Kilometers > km {
			log.Info().Str("session_id", s.SessionID).Int("km", s.Kilometers).Str("pace", s.Pace).Msg("companionctl milestone")
		}
		if s.Stale != stale {
			log.Info().Str("session_id", s.SessionID).Bool("stale", s.Stale).Msg("companionctl link freshness changed")
		}
		km, stale = s.Kilometers, s.Stale
	}
}
