package simengine

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/stridelink/internal/wearable"
	"github.com/danmuck/stridelink/internal/workout"
	"github.com/rs/zerolog/log"
)

var (
	ErrBusy         = errors.New("simengine: a session is already recording")
	ErrNotPermitted = errors.New("simengine: recording not permitted")
	ErrNotRecording = errors.New("simengine: session already stopped")
)

var speeds = map[workout.ActivityType]float64{
	workout.ActivityRunning: 3.2,
	workout.ActivityWalking: 1.4,
	workout.ActivityCycling: 6.5,
	workout.ActivityHiking:  1.1,
	workout.ActivityOther:   2.0,
}

// Config shapes the generated statistics.
type Config struct {
	// Interval is the wall-clock gap between updates.
	Interval time.Duration
	// TimeScale is simulated seconds per wall second.
	TimeScale  float64
	RestingHR  float64
	KcalPerKm  float64
	Seed       int64
	Deny       bool
	UpdateSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:   time.Second,
		TimeScale:  1,
		RestingHR:  72,
		KcalPerKm:  62,
		UpdateSize: 8,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.TimeScale <= 0 {
		c.TimeScale = def.TimeScale
	}
	if c.RestingHR <= 0 {
		c.RestingHR = def.RestingHR
	}
	if c.KcalPerKm <= 0 {
		c.KcalPerKm = def.KcalPerKm
	}
	if c.UpdateSize <= 0 {
		c.UpdateSize = def.UpdateSize
	}
	return c
}

// Engine generates plausible workout statistics on a timer. One session
// records at a time.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	active *session
}

var _ wearable.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.WithDefaults()}
}

func (e *Engine) StartSession(ctx context.Context, activity workout.ActivityType, location workout.LocationContext) (wearable.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.cfg.Deny {
		return nil, ErrNotPermitted
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, ErrBusy
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	speed, ok := speeds[activity]
	if !ok {
		speed = speeds[workout.ActivityOther]
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		engine:  e,
		cfg:     e.cfg,
		speed:   speed,
		rng:     rand.New(rand.NewSource(seed)),
		updates: make(chan workout.Stats, e.cfg.UpdateSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	e.active = s
	go s.run(runCtx)
	log.Info().
		Str("activity", string(activity)).
		Str("location", string(location)).
		Float64("speed_mps", speed).
		Msg("simengine.Engine.StartSession recording")
	return s, nil
}

func (e *Engine) release(s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == s {
		e.active = nil
	}
}

type session struct {
	engine *Engine
	cfg    Config
	speed  float64
	rng    *rand.Rand

	updates chan workout.Stats
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.Mutex
	paused  bool
	stopped bool
	stats   workout.Stats
	hrSum   float64
	hrCount int
}

func (s *session) Updates() <-chan workout.Stats {
	return s.updates
}

func (s *session) Pause(ctx context.Context) error {
	return s.setPaused(ctx, true)
}

func (s *session) Resume(ctx context.Context) error {
	return s.setPaused(ctx, false)
}

func (s *session) setPaused(ctx context.Context, paused bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNotRecording
	}
	s.paused = paused
	return nil
}

func (s *session) Stop(ctx context.Context) (workout.FinalTotals, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return workout.FinalTotals{}, ErrNotRecording
	}
	s.stopped = true
	s.mu.Unlock()

	// The generator is cancelled either way, so the engine is free again even
	// when ctx expires before it exits.
	s.cancel()
	s.engine.release(s)
	select {
	case <-s.done:
	case <-ctx.Done():
		return workout.FinalTotals{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	totals := workout.FinalTotals{
		ActiveEnergyKcal: s.stats.ActiveEnergyKcal,
		DistanceMeters:   s.stats.DistanceMeters,
		Elapsed:          s.stats.Elapsed,
	}
	if s.hrCount > 0 {
		totals.AvgHeartRateBPM = s.hrSum / float64(s.hrCount)
	}
	return totals, nil
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, ok := s.step()
			if !ok {
				continue
			}
			s.offer(st)
		}
	}
}

// step advances the simulation by one interval. Paused sessions do not move.
func (s *session) step() (workout.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.stopped {
		return workout.Stats{}, false
	}
	dt := time.Duration(float64(s.cfg.Interval) * s.cfg.TimeScale)
	pace := s.speed * (0.95 + 0.1*s.rng.Float64())
	moved := pace * dt.Seconds()

	s.stats.Elapsed += dt
	s.stats.DistanceMeters += moved
	s.stats.ActiveEnergyKcal += s.cfg.KcalPerKm * moved / 1000
	s.stats.HeartRateBPM = s.cfg.RestingHR + 18*pace + 4*s.rng.NormFloat64()
	if s.stats.HeartRateBPM < s.cfg.RestingHR {
		s.stats.HeartRateBPM = s.cfg.RestingHR
	}
	s.hrSum += s.stats.HeartRateBPM
	s.hrCount++
	return s.stats, true
}

// offer never blocks the generator; a full buffer loses its oldest update.
func (s *session) offer(st workout.Stats) {
	select {
	case s.updates <- st:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
}
