package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/companion"
	"github.com/danmuck/stridelink/internal/history"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/simengine"
	"github.com/danmuck/stridelink/internal/snapshot"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/wearable"
	"github.com/danmuck/stridelink/internal/workout"
	"github.com/rs/zerolog/log"
)

type options struct {
	activity  workout.ActivityType
	leg       time.Duration
	timeScale float64
	outDir    string
}

func main() {
	activity := flag.String("activity", "running", "activity type")
	leg := flag.Duration("leg", 4*time.Second, "wall time of each scripted leg")
	timeScale := flag.Float64("time-scale", 120, "simulated seconds per wall second")
	outDir := flag.String("out", filepath.Join("local", "simctl"), "directory for history and widget snapshot")
	flag.Parse()

	logging.ConfigureRuntime()

	a, err := workout.ParseActivityType(*activity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
		os.Exit(1)
	}
	opts := options{activity: a, leg: *leg, timeScale: *timeScale, outDir: *outDir}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "simctl: %v\n", err)
		os.Exit(1)
	}
}

// run drives both devices over an in-memory link: start, pause, resume, a
// link outage long enough to go stale, then stop.
func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, filepath.Join(opts.outDir, "history.db"), time.Local)
	if err != nil {
		return err
	}
	defer store.Close()

	watchCh, phoneCh := transport.LoopbackPair(16)
	watch := transport.New(watchCh, transport.Config{DeviceID: "watch"})
	defer watch.Close()
	phone := transport.New(phoneCh, transport.Config{DeviceID: "phone"})
	defer phone.Close()

	engine := simengine.New(simengine.Config{Interval: 250 * time.Millisecond, TimeScale: opts.timeScale})
	ctrl := wearable.New(engine, watch, nil, clock.System{}, wearable.Config{PushInterval: 500 * time.Millisecond})

	fileStore := snapshot.NewFileStore(filepath.Join(opts.outDir, "widget.json"))
	publisher := snapshot.NewPublisher(fileStore, store, nil, clock.System{}, snapshot.Config{Cooldown: opts.leg})
	mirror := companion.New(phone, publisher, store, clock.System{}, companion.Config{Staleness: 2 * time.Second})
	mirror.Observe(stateLogger())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{}, 2)
	go func() { _ = ctrl.Run(runCtx); done <- struct{}{} }()
	go func() { _ = mirror.Run(runCtx); done <- struct{}{} }()
	go func() {
		for ev := range ctrl.Events() {
			if ev.Kind == wearable.EventMilestone {
				log.Info().Int("km", ev.Kilometers).Msg("simctl wearable milestone")
			}
		}
	}()

	steps := []struct {
		name string
		do   func() error
	}{
		{"start", func() error { return ctrl.StartWorkout(opts.activity, workout.LocationOutdoor) }},
		{"pause", ctrl.TogglePause},
		{"resume", ctrl.TogglePause},
		{"link down", func() error { watchCh.SetReachable(false); return nil }},
		{"link up", func() error { watchCh.SetReachable(true); return nil }},
		{"stop", ctrl.StopWorkout},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		log.Info().Str("step", step.name).Str("phase", string(ctrl.Status().Phase)).Msg("simctl step")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(opts.leg):
		}
	}

	cancel()
	<-done
	<-done

	snap, err := fileStore.Read(ctx)
	if err != nil {
		return fmt.Errorf("read widget snapshot: %w", err)
	}
	log.Info().
		Float64("distance_today_m", snap.DistanceTodayMeters).
		Float64("calories_today", snap.CaloriesToday).
		Float64("stand_percent", snap.StandPercent).
		Floats64("weekly_distance_m", snap.WeeklyDistance[:]).
		Msg("simctl widget snapshot")
	return nil
}

// stateLogger reports mirror changes worth reading: phase, kilometers, and
// freshness flips.
func stateLogger() func(companion.State) {
	var last companion.State
	return func(s companion.State) {
		if s.Phase != last.Phase || s.Kilometers != last.Kilometers || s.Stale != last.Stale {
			log.Info().
				Str("phase", string(s.Phase)).
				Int("km", s.Kilometers).
				Bool("stale", s.Stale).
				Float64("elapsed_s", s.Metrics.ElapsedSeconds).
				Str("pace", s.Pace).
				Msg("simctl mirror")
		}
		last = s
	}
}
