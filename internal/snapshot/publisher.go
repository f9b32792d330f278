package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/observability"
	"github.com/rs/zerolog"
)

var ErrNoStore = errors.New("snapshot: no store configured")

type Config struct {
	Cooldown time.Duration
	Timeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Cooldown: 120 * time.Second,
		Timeout:  5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	return c
}

// Publisher writes WidgetSnapshots at most once per cool-down unless forced.
// A failed write does not start a cool-down, so the next call retries.
type Publisher struct {
	cfg       Config
	store     Store
	history   HistoryQuery
	refresher Refresher
	clock     clock.Clock
	logger    zerolog.Logger

	mu        sync.Mutex
	lastWrite time.Time
	written   bool
}

// NewPublisher wires a publisher. history and refresher may be nil.
func NewPublisher(store Store, history HistoryQuery, refresher Refresher, clk clock.Clock, cfg Config) *Publisher {
	if clk == nil {
		clk = clock.System{}
	}
	return &Publisher{
		cfg:       cfg.WithDefaults(),
		store:     store,
		history:   history,
		refresher: refresher,
		clock:     clk,
		logger:    logging.Component("snapshot"),
	}
}

// Publish reports whether a write happened. Throttled calls return false
// with a nil error.
func (p *Publisher) Publish(ctx context.Context, view MetricsView, force bool) (bool, error) {
	if p.store == nil {
		return false, ErrNoStore
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	now := p.clock.Now()
	if !force && p.written && now.Sub(p.lastWrite) < p.cfg.Cooldown {
		observability.RecordSnapshotPublish("throttled", time.Since(started))
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	var weekly [WeekDays]float64
	if p.history != nil {
		values, err := p.history.DailyDistances(ctx, now, WeekDays)
		if err != nil {
			observability.RecordSnapshotPublish("error", time.Since(started))
			p.logger.Warn().Err(err).Msg("snapshot.Publisher.Publish weekly query failed")
			return false, fmt.Errorf("weekly distances: %w", err)
		}
		weekly = NormalizeWeek(values)
	}

	snap := WidgetSnapshot{
		CaloriesToday:       view.CaloriesToday,
		HeartRateBPM:        view.HeartRateBPM,
		StandPercent:        min(max(view.StandPercent, 0), 100),
		DistanceTodayMeters: view.DistanceTodayMeters,
		WeeklyDistance:      weekly,
		UpdatedAt:           now,
	}
	if err := p.store.Write(ctx, snap); err != nil {
		observability.RecordSnapshotPublish("error", time.Since(started))
		p.logger.Warn().Err(err).Bool("force", force).Msg("snapshot.Publisher.Publish write failed")
		return false, err
	}
	p.lastWrite = now
	p.written = true
	observability.RecordSnapshotPublish("written", time.Since(started))
	p.logger.Debug().Bool("force", force).Float64("distance_today", snap.DistanceTodayMeters).Msg("snapshot.Publisher.Publish written")

	if p.refresher != nil {
		if err := p.refresher.Refresh(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("snapshot.Publisher.Publish refresh failed")
		}
	}
	return true, nil
}

// LastWrite returns the time of the last successful write.
func (p *Publisher) LastWrite() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastWrite, p.written
}
