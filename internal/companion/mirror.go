package companion

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/observability"
	"github.com/danmuck/stridelink/internal/snapshot"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/workout"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrNoSession = errors.New("companion: no mirrored session")

// Config controls the reconciliation tick and staleness handling.
type Config struct {
	Tick      time.Duration
	Staleness time.Duration
	// CommandTimeout resets the mirror when nothing arrives for this long.
	// Zero disables it.
	CommandTimeout time.Duration
	InboxSize      int
	PublishTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tick:           time.Second,
		Staleness:      5 * time.Second,
		InboxSize:      64,
		PublishTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Tick <= 0 {
		c.Tick = def.Tick
	}
	if c.Staleness <= 0 {
		c.Staleness = def.Staleness
	}
	if c.CommandTimeout < 0 {
		c.CommandTimeout = 0
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	return c
}

// State is the locally observable view of the wearable's session.
type State struct {
	SessionID       string                  `json:"session_id,omitempty"`
	RemoteSessionID string                  `json:"remote_session_id,omitempty"`
	Activity        workout.ActivityType    `json:"activity,omitempty"`
	Location        workout.LocationContext `json:"location,omitempty"`
	Phase           workout.Phase           `json:"phase"`
	Metrics         workout.Metrics         `json:"metrics"`
	Connected       bool                    `json:"connected"`
	Stale           bool                    `json:"stale"`
	StartedAt       time.Time               `json:"started_at"`
	LastReceived    time.Time               `json:"last_received"`
	Kilometers      int                     `json:"kilometers"`
	PaceMinPerKm    float64                 `json:"pace_min_per_km"`
	Pace            string                  `json:"pace"`
}

// Active reports whether a session is being mirrored.
func (s State) Active() bool {
	return s.SessionID != ""
}

// Link is the slice of transport.Transport the mirror needs.
type Link interface {
	Send(msg transport.Message) transport.Mode
	OnReceive(fn func(transport.Message))
}

// Publisher receives the mirror's running totals.
type Publisher interface {
	Publish(ctx context.Context, view snapshot.MetricsView, force bool) (bool, error)
}

// SummaryStore records sessions the mirror saw end.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s workout.Summary) error
}

var (
	_ Link      = (*transport.Transport)(nil)
	_ Publisher = (*snapshot.Publisher)(nil)
)

// Mirror reconciles inbound session traffic into State. All state changes
// happen on the Run goroutine; observers are called there synchronously.
type Mirror struct {
	cfg       Config
	link      Link
	publisher Publisher
	summaries SummaryStore
	clock     clock.Clock
	logger    zerolog.Logger

	inbox chan transport.Message
	state atomic.Pointer[State]

	obsMu     sync.Mutex
	observers []func(State)

	st           State
	ended        string
	lastActivity time.Time
	milestones   workout.MilestoneTracker
	today        dayTotals
	ticker       *time.Ticker
	tickC        <-chan time.Time
}

// New wires a mirror. publisher and summaries may be nil.
func New(link Link, publisher Publisher, summaries SummaryStore, clk clock.Clock, cfg Config) *Mirror {
	cfg = cfg.WithDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	m := &Mirror{
		cfg:       cfg,
		link:      link,
		publisher: publisher,
		summaries: summaries,
		clock:     clk,
		logger:    logging.Component("companion"),
		inbox:     make(chan transport.Message, cfg.InboxSize),
		st:        idleState(),
	}
	initial := m.st
	m.state.Store(&initial)
	if link != nil {
		link.OnReceive(m.receive)
	}
	return m
}

// Observe registers fn for every state change.
func (m *Mirror) Observe(fn func(State)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Mirror) State() State {
	return *m.state.Load()
}

// Run drives the mirror until ctx ends. It publishes the day's totals once
// on entry so display surfaces have a snapshot before the first session.
func (m *Mirror) Run(ctx context.Context) error {
	defer m.disarmTick()
	m.publish(ctx, m.clock.Now(), true)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-m.inbox:
			m.handle(ctx, msg)
		case <-m.tickC:
			m.tick(ctx, m.clock.Now())
		}
	}
}

// RequestStart asks the wearable to start a session.
func (m *Mirror) RequestStart(activity workout.ActivityType, location workout.LocationContext) (transport.Mode, error) {
	cmd := workout.Start(activity, location)
	if err := cmd.Validate(); err != nil {
		return transport.ModeDropped, err
	}
	return m.request(transport.CommandMessage("", cmd)), nil
}

func (m *Mirror) RequestStop() (transport.Mode, error) {
	st := m.State()
	if !st.Active() {
		return transport.ModeDropped, ErrNoSession
	}
	return m.request(transport.CommandMessage(st.RemoteSessionID, workout.Stop())), nil
}

// RequestTogglePause asks the wearable to pause or resume, based on the last
// mirrored phase.
func (m *Mirror) RequestTogglePause() (transport.Mode, error) {
	st := m.State()
	if !st.Active() {
		return transport.ModeDropped, ErrNoSession
	}
	cmd := workout.Pause()
	if st.Phase == workout.PhasePaused {
		cmd = workout.Resume()
	}
	return m.request(transport.CommandMessage(st.RemoteSessionID, cmd)), nil
}

func (m *Mirror) request(msg transport.Message) transport.Mode {
	if m.link == nil {
		return transport.ModeDropped
	}
	mode := m.link.Send(msg)
	m.logger.Info().
		Str("command", string(msg.Command.Kind)).
		Str("mode", string(mode)).
		Msg("companion.Mirror.request")
	return mode
}

func (m *Mirror) receive(msg transport.Message) {
	if msg.Kind == transport.KindMetrics {
		msg.Metrics.ReceivedAt = m.clock.Now()
	}
	select {
	case m.inbox <- msg:
	default:
		m.logger.Warn().Str("kind", string(msg.Kind)).Msg("companion.Mirror.receive inbox full, dropped")
	}
}

func (m *Mirror) handle(ctx context.Context, msg transport.Message) {
	now := m.clock.Now()
	switch msg.Kind {
	case transport.KindCommand:
		m.handleCommand(ctx, msg, now)
	case transport.KindMetrics:
		m.handleMetrics(ctx, msg, now)
	case transport.KindSessionEnd:
		if m.st.Active() && (m.st.RemoteSessionID == "" || m.st.RemoteSessionID == msg.SessionID) {
			m.end(ctx, "session_end")
			return
		}
		m.ended = msg.SessionID
	}
}

func (m *Mirror) handleCommand(ctx context.Context, msg transport.Message, now time.Time) {
	switch msg.Command.Kind {
	case workout.CommandStart:
		if msg.SessionID != "" && msg.SessionID == m.ended {
			return
		}
		if !m.st.Active() {
			m.begin(msg.SessionID, now)
		} else if m.st.RemoteSessionID == "" {
			m.st.RemoteSessionID = msg.SessionID
		}
		m.st.Activity = msg.Command.Activity
		m.st.Location = msg.Command.Location
	case workout.CommandPause:
		if !m.owns(msg.SessionID) {
			return
		}
		m.st.Phase = workout.PhasePaused
	case workout.CommandResume:
		if !m.owns(msg.SessionID) {
			return
		}
		m.st.Phase = workout.PhaseRunning
	case workout.CommandStop:
		if m.owns(msg.SessionID) {
			m.end(ctx, "stop")
		}
		return
	}
	m.lastActivity = now
	m.notify()
}

func (m *Mirror) handleMetrics(ctx context.Context, msg transport.Message, now time.Time) {
	if msg.SessionID == m.ended {
		m.logger.Debug().Str("session_id", msg.SessionID).Msg("companion.Mirror.handleMetrics late payload for ended session")
		return
	}
	if m.st.Active() && m.st.RemoteSessionID != "" && m.st.RemoteSessionID != msg.SessionID {
		m.logger.Info().
			Str("previous", m.st.RemoteSessionID).
			Str("next", msg.SessionID).
			Msg("companion.Mirror.handleMetrics session replaced")
		m.end(ctx, "replaced")
	}
	if !m.st.Active() {
		m.begin(msg.SessionID, now)
	}
	if m.st.RemoteSessionID == "" {
		m.st.RemoteSessionID = msg.SessionID
	}

	payload := msg.Metrics
	if payload.ReceivedAt.IsZero() {
		payload.ReceivedAt = now
	}
	// Latest wins, except elapsed never moves backward.
	payload.ElapsedSeconds = max(payload.ElapsedSeconds, m.st.Metrics.ElapsedSeconds)
	m.st.Metrics = payload
	m.st.LastReceived = payload.ReceivedAt
	m.st.Connected = true
	m.st.Stale = false
	m.lastActivity = now

	for _, km := range m.milestones.Observe(payload) {
		m.st.Kilometers = km
		m.logger.Info().Str("session_id", m.st.SessionID).Int("km", km).Msg("companion.Mirror milestone")
	}
	m.notify()
}

// tick is one reconciliation step at now.
func (m *Mirror) tick(ctx context.Context, now time.Time) {
	if !m.st.Active() {
		return
	}
	if m.cfg.CommandTimeout > 0 && now.Sub(m.lastActivity) >= m.cfg.CommandTimeout {
		m.logger.Warn().
			Str("session_id", m.st.SessionID).
			Dur("silence", now.Sub(m.lastActivity)).
			Msg("companion.Mirror.tick command timeout")
		m.end(ctx, "timeout")
		return
	}

	stale := now.Sub(m.st.LastReceived) >= m.cfg.Staleness
	if stale && !m.st.Stale {
		m.logger.Info().Str("session_id", m.st.SessionID).Msg("companion.Mirror.tick stale, extrapolation paused")
	}
	m.st.Stale = stale
	if !stale && m.st.Phase == workout.PhaseRunning {
		m.st.Metrics.ElapsedSeconds += m.cfg.Tick.Seconds()
	}
	m.notify()
	m.publish(ctx, now, false)
}

func (m *Mirror) begin(remoteID string, now time.Time) {
	m.milestones.Reset()
	m.st = State{
		SessionID:       uuid.NewString(),
		RemoteSessionID: remoteID,
		Phase:           workout.PhaseRunning,
		Connected:       true,
		StartedAt:       now,
		LastReceived:    now,
	}
	m.lastActivity = now
	m.armTick()
	m.logger.Info().
		Str("session_id", m.st.SessionID).
		Str("remote_session_id", remoteID).
		Msg("companion.Mirror.begin")
}

// end records the finished session, publishes a forced snapshot, and resets
// to idle before observers hear about it.
func (m *Mirror) end(ctx context.Context, reason string) {
	now := m.clock.Now()
	finished := m.st
	m.disarmTick()
	if finished.RemoteSessionID != "" {
		m.ended = finished.RemoteSessionID
	}
	m.today.add(now, finished.Metrics, finished.StartedAt)
	m.saveSummary(ctx, finished, now)

	m.st = idleState()
	m.milestones.Reset()
	m.logger.Info().
		Str("session_id", finished.SessionID).
		Str("reason", reason).
		Float64("distance_meters", finished.Metrics.DistanceMeters).
		Float64("elapsed_seconds", finished.Metrics.ElapsedSeconds).
		Msg("companion.Mirror.end")
	m.publish(ctx, now, true)
	m.notify()
}

func (m *Mirror) owns(remoteID string) bool {
	if !m.st.Active() {
		return false
	}
	return remoteID == "" || m.st.RemoteSessionID == "" || m.st.RemoteSessionID == remoteID
}

func (m *Mirror) saveSummary(ctx context.Context, finished State, now time.Time) {
	if m.summaries == nil || finished.RemoteSessionID == "" {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()
	err := m.summaries.SaveSummary(opCtx, workout.Summary{
		SessionID: finished.RemoteSessionID,
		Activity:  finished.Activity,
		Location:  finished.Location,
		StartedAt: finished.StartedAt,
		EndedAt:   now,
		Totals: workout.FinalTotals{
			ActiveEnergyKcal: finished.Metrics.ActiveEnergyKcal,
			DistanceMeters:   finished.Metrics.DistanceMeters,
			Elapsed:          time.Duration(finished.Metrics.ElapsedSeconds * float64(time.Second)),
			AvgHeartRateBPM:  finished.Metrics.HeartRateBPM,
		},
	})
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", finished.RemoteSessionID).Msg("companion.Mirror.end summary not saved")
	}
}

func (m *Mirror) publish(ctx context.Context, now time.Time, force bool) {
	if m.publisher == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()
	if _, err := m.publisher.Publish(opCtx, m.today.view(now, m.st), force); err != nil {
		m.logger.Warn().Err(err).Bool("force", force).Msg("companion.Mirror.publish failed, retrying next cycle")
	}
}

// notify refreshes derived fields, publishes the state, and calls observers.
func (m *Mirror) notify() {
	pace, ok := workout.Pace(m.st.Metrics.DistanceMeters, m.st.Metrics.ElapsedSeconds)
	m.st.Pace = workout.FormatPace(pace, ok)
	m.st.PaceMinPerKm = 0
	if ok {
		m.st.PaceMinPerKm = pace
	}
	observability.SetMirrorState(m.st.Connected, m.st.Stale)

	s := m.st
	m.state.Store(&s)

	m.obsMu.Lock()
	observers := slices.Clone(m.observers)
	m.obsMu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}

func (m *Mirror) armTick() {
	if m.ticker != nil {
		return
	}
	m.ticker = time.NewTicker(m.cfg.Tick)
	m.tickC = m.ticker.C
}

func (m *Mirror) disarmTick() {
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	m.ticker = nil
	m.tickC = nil
}

func idleState() State {
	return State{Phase: workout.PhaseIdle, Pace: workout.PacePlaceholder}
}
