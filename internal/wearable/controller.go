package wearable

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/logging"
	"github.com/danmuck/stridelink/internal/observability"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/workout"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrInboxFull = errors.New("wearable: command inbox full")

// Config controls push cadence and actor buffers.
type Config struct {
	PushInterval  time.Duration
	EngineTimeout time.Duration
	InboxSize     int
	EventBuffer   int
}

func DefaultConfig() Config {
	return Config{
		PushInterval:  750 * time.Millisecond,
		EngineTimeout: 10 * time.Second,
		InboxSize:     32,
		EventBuffer:   32,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.PushInterval <= 0 {
		c.PushInterval = def.PushInterval
	}
	if c.EngineTimeout <= 0 {
		c.EngineTimeout = def.EngineTimeout
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	return c
}

// Status is the controller's published view of the current session.
type Status struct {
	SessionID  string                  `json:"session_id,omitempty"`
	Activity   workout.ActivityType    `json:"activity,omitempty"`
	Location   workout.LocationContext `json:"location,omitempty"`
	Phase      workout.Phase           `json:"phase"`
	StartedAt  time.Time               `json:"started_at"`
	Latest     workout.Metrics         `json:"latest"`
	Kilometers int                     `json:"kilometers"`
	Pushes     uint64                  `json:"pushes"`
}

// Result is the outcome of one handled command.
type Result struct {
	Phase     workout.Phase `json:"phase"`
	SessionID string        `json:"session_id,omitempty"`
	// Conflict is set when a start arrived during an active session.
	Conflict bool `json:"conflict,omitempty"`
	Noop     bool `json:"noop,omitempty"`
}

type request struct {
	cmd    workout.Command
	toggle bool
	// session scopes a remote command; empty applies to the live session.
	session string
	reply   chan reply
}

type reply struct {
	res Result
	err error
}

// Controller owns the authoritative session on the wearable. All session
// state is mutated by the Run goroutine only; other goroutines talk to it
// through the inbox and read Status.
type Controller struct {
	cfg       Config
	engine    Engine
	link      Link
	summaries SummaryStore
	clock     clock.Clock
	logger    zerolog.Logger

	inbox  chan request
	events chan Event
	status atomic.Pointer[Status]

	st         Status
	handle     Handle
	updates    <-chan workout.Stats
	milestones workout.MilestoneTracker
	ticker     *time.Ticker
	tickC      <-chan time.Time
	dirty      bool
}

// New wires a controller. link and summaries may be nil.
func New(engine Engine, link Link, summaries SummaryStore, clk clock.Clock, cfg Config) *Controller {
	cfg = cfg.WithDefaults()
	if clk == nil {
		clk = clock.System{}
	}
	c := &Controller{
		cfg:       cfg,
		engine:    engine,
		link:      link,
		summaries: summaries,
		clock:     clk,
		logger:    logging.Component("wearable"),
		inbox:     make(chan request, cfg.InboxSize),
		events:    make(chan Event, cfg.EventBuffer),
		st:        Status{Phase: workout.PhaseIdle},
	}
	c.publish()
	if link != nil {
		link.OnReceive(c.receive)
	}
	return c
}

// Run drives the actor until ctx ends. An active session is stopped on the
// way out.
func (c *Controller) Run(ctx context.Context) error {
	observability.SetSessionPhase(string(c.st.Phase), phaseNames())
	defer c.disarmPush()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case req := <-c.inbox:
			res, err := c.apply(ctx, req)
			if req.reply != nil {
				req.reply <- reply{res: res, err: err}
			}
		case st, ok := <-c.updates:
			if !ok {
				c.logger.Warn().Str("session_id", c.st.SessionID).Msg("wearable.Controller.Run engine stream closed")
				c.updates = nil
				continue
			}
			c.ingest(st)
		case <-c.tickC:
			c.push()
		}
	}
}

// Handle runs cmd on the actor and waits for the outcome.
func (c *Controller) Handle(ctx context.Context, cmd workout.Command) (Result, error) {
	if err := cmd.Validate(); err != nil {
		return Result{}, err
	}
	return c.call(ctx, request{cmd: cmd})
}

// Toggle is the synchronous form of TogglePause.
func (c *Controller) Toggle(ctx context.Context) (Result, error) {
	return c.call(ctx, request{toggle: true})
}

func (c *Controller) call(ctx context.Context, req request) (Result, error) {
	req.reply = make(chan reply, 1)
	select {
	case c.inbox <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (c *Controller) StartWorkout(activity workout.ActivityType, location workout.LocationContext) error {
	return c.post(request{cmd: workout.Start(activity, location)})
}

func (c *Controller) StopWorkout() error {
	return c.post(request{cmd: workout.Stop()})
}

// TogglePause pauses a running session or resumes a paused one.
func (c *Controller) TogglePause() error {
	return c.post(request{toggle: true})
}

func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Events yields milestone and phase events. Events are dropped when nobody
// keeps up.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) post(req request) error {
	if !req.toggle {
		if err := req.cmd.Validate(); err != nil {
			return err
		}
	}
	select {
	case c.inbox <- req:
		return nil
	default:
		c.logger.Warn().Str("command", string(req.cmd.Kind)).Bool("toggle", req.toggle).Msg("wearable.Controller.post inbox full")
		return ErrInboxFull
	}
}

func (c *Controller) receive(msg transport.Message) {
	if msg.Kind != transport.KindCommand {
		c.logger.Debug().Str("kind", string(msg.Kind)).Msg("wearable.Controller.receive ignored")
		return
	}
	c.logger.Info().
		Str("command", string(msg.Command.Kind)).
		Str("from", msg.DeviceID).
		Msg("wearable.Controller.receive remote command")
	_ = c.post(request{cmd: msg.Command, session: msg.SessionID})
}

func (c *Controller) apply(ctx context.Context, req request) (Result, error) {
	cmd := req.cmd
	if req.session != "" && cmd.Kind != workout.CommandStart && req.session != c.st.SessionID {
		c.logger.Info().
			Str("command", string(cmd.Kind)).
			Str("target", req.session).
			Str("session_id", c.st.SessionID).
			Msg("wearable.Controller.apply ignored command for another session")
		return c.result(false, true), nil
	}
	if req.toggle {
		switch c.st.Phase {
		case workout.PhaseRunning:
			cmd = workout.Pause()
		case workout.PhasePaused:
			cmd = workout.Resume()
		default:
			return c.result(false, true), nil
		}
	}

	s, err := plan(c.st.Phase, cmd.Kind)
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", c.st.SessionID).Msg("wearable.Controller.apply rejected")
		return c.result(false, false), err
	}
	if s.conflict {
		c.logger.Info().
			Err(workout.ErrAlreadyActive).
			Str("session_id", c.st.SessionID).
			Str("phase", string(c.st.Phase)).
			Msg("wearable.Controller.apply start ignored, session already active")
		return c.result(true, true), nil
	}
	if s.noop {
		return c.result(false, true), nil
	}

	switch cmd.Kind {
	case workout.CommandStart:
		err = c.start(ctx, cmd)
	case workout.CommandPause:
		err = c.pause(ctx)
	case workout.CommandResume:
		err = c.resume(ctx)
	case workout.CommandStop:
		c.stop(ctx)
	}
	return c.result(false, false), err
}

func (c *Controller) start(ctx context.Context, cmd workout.Command) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
	defer cancel()
	handle, err := c.engine.StartSession(opCtx, cmd.Activity, cmd.Location)
	if err == nil && handle == nil {
		err = errors.New("engine returned no session")
	}
	if err != nil {
		c.reset()
		c.logger.Error().Err(err).Str("activity", string(cmd.Activity)).Msg("wearable.Controller.start engine unavailable")
		return fmt.Errorf("%w: %v", workout.ErrEngineUnavailable, err)
	}

	c.handle = handle
	c.updates = handle.Updates()
	c.milestones.Reset()
	c.dirty = false
	c.st = Status{
		SessionID: uuid.NewString(),
		Activity:  cmd.Activity,
		Location:  cmd.Location,
		StartedAt: c.clock.Now(),
	}
	c.armPush()
	c.setPhase(workout.PhaseRunning)
	c.send(transport.CommandMessage(c.st.SessionID, cmd))
	return nil
}

func (c *Controller) pause(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
	defer cancel()
	if err := c.handle.Pause(opCtx); err != nil {
		c.logger.Warn().Err(err).Str("session_id", c.st.SessionID).Msg("wearable.Controller.pause engine failed")
		return fmt.Errorf("%w: pause: %v", workout.ErrEngineUnavailable, err)
	}
	c.disarmPush()
	c.setPhase(workout.PhasePaused)
	c.send(transport.CommandMessage(c.st.SessionID, workout.Pause()))
	return nil
}

func (c *Controller) resume(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
	defer cancel()
	if err := c.handle.Resume(opCtx); err != nil {
		c.logger.Warn().Err(err).Str("session_id", c.st.SessionID).Msg("wearable.Controller.resume engine failed")
		return fmt.Errorf("%w: resume: %v", workout.ErrEngineUnavailable, err)
	}
	c.armPush()
	c.setPhase(workout.PhaseRunning)
	c.send(transport.CommandMessage(c.st.SessionID, workout.Resume()))
	return nil
}

// stop always reaches Ended. When the engine cannot finalize, the retained
// snapshot stands in for its totals.
func (c *Controller) stop(ctx context.Context) {
	c.disarmPush()
	c.setPhase(workout.PhaseEnding)

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
	totals, err := c.handle.Stop(opCtx)
	cancel()
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", c.st.SessionID).Msg("wearable.Controller.stop engine finalize failed")
		totals = workout.FinalTotals{
			ActiveEnergyKcal: c.st.Latest.ActiveEnergyKcal,
			DistanceMeters:   c.st.Latest.DistanceMeters,
			Elapsed:          time.Duration(c.st.Latest.ElapsedSeconds * float64(time.Second)),
			AvgHeartRateBPM:  c.st.Latest.HeartRateBPM,
		}
	}

	final := c.st.Latest
	final.ActiveEnergyKcal = max(final.ActiveEnergyKcal, totals.ActiveEnergyKcal)
	final.DistanceMeters = max(final.DistanceMeters, totals.DistanceMeters)
	final.ElapsedSeconds = max(final.ElapsedSeconds, totals.Elapsed.Seconds())
	final.ReceivedAt = c.clock.Now()
	c.st.Latest = final
	c.observeDistance(final)

	c.send(transport.MetricsMessage(c.st.SessionID, final))
	c.send(transport.SessionEndMessage(c.st.SessionID))
	c.saveSummary(ctx, workout.Summary{
		SessionID: c.st.SessionID,
		Activity:  c.st.Activity,
		Location:  c.st.Location,
		StartedAt: c.st.StartedAt,
		EndedAt:   final.ReceivedAt,
		Totals:    totals,
	})

	c.handle = nil
	c.updates = nil
	c.dirty = false
	c.setPhase(workout.PhaseEnded)
}

func (c *Controller) shutdown() {
	if !c.st.Phase.Active() || c.st.Phase == workout.PhaseEnding {
		return
	}
	c.logger.Info().Str("session_id", c.st.SessionID).Msg("wearable.Controller.shutdown stopping active session")
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EngineTimeout)
	defer cancel()
	c.stop(ctx)
}

func (c *Controller) ingest(st workout.Stats) {
	if c.st.Phase != workout.PhaseRunning && c.st.Phase != workout.PhasePaused {
		return
	}
	m := workout.MetricsFromStats(st)
	m.ReceivedAt = c.clock.Now()
	if err := m.Validate(); err != nil {
		c.logger.Error().Err(err).Str("session_id", c.st.SessionID).Msg("wearable.Controller.ingest dropped update")
		return
	}
	if m.ElapsedSeconds < c.st.Latest.ElapsedSeconds {
		m.ElapsedSeconds = c.st.Latest.ElapsedSeconds
	}
	c.st.Latest = m
	c.dirty = true
	c.observeDistance(m)
	c.publish()
}

func (c *Controller) observeDistance(m workout.Metrics) {
	for _, km := range c.milestones.Observe(m) {
		c.st.Kilometers = km
		observability.RecordMilestone()
		c.logger.Info().Str("session_id", c.st.SessionID).Int("km", km).Msg("wearable.Controller milestone")
		c.emit(Event{Kind: EventMilestone, SessionID: c.st.SessionID, Phase: c.st.Phase, Kilometers: km, At: c.clock.Now()})
	}
}

// push sends the retained snapshot if it changed since the last push.
func (c *Controller) push() {
	if c.st.Phase != workout.PhaseRunning || !c.dirty {
		return
	}
	c.send(transport.MetricsMessage(c.st.SessionID, c.st.Latest))
	c.dirty = false
	c.st.Pushes++
	observability.RecordMetricsPush()
	c.publish()
}

func (c *Controller) send(msg transport.Message) {
	if c.link == nil {
		return
	}
	mode := c.link.Send(msg)
	c.logger.Debug().
		Str("kind", string(msg.Kind)).
		Str("session_id", msg.SessionID).
		Str("mode", string(mode)).
		Msg("wearable.Controller.send")
}

func (c *Controller) saveSummary(ctx context.Context, s workout.Summary) {
	if c.summaries == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
	defer cancel()
	if err := c.summaries.SaveSummary(opCtx, s); err != nil {
		c.logger.Error().Err(err).Str("session_id", s.SessionID).Msg("wearable.Controller.stop summary not saved")
	}
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		observability.RecordEventDropped(string(ev.Kind))
	}
}

func (c *Controller) setPhase(p workout.Phase) {
	prev := c.st.Phase
	c.st.Phase = p
	observability.SetSessionPhase(string(p), phaseNames())
	c.logger.Info().
		Str("session_id", c.st.SessionID).
		Str("from", string(prev)).
		Str("to", string(p)).
		Msg("wearable.Controller phase")
	c.emit(Event{Kind: EventPhase, SessionID: c.st.SessionID, Phase: p, At: c.clock.Now()})
	c.publish()
}

func (c *Controller) reset() {
	c.disarmPush()
	c.handle = nil
	c.updates = nil
	c.dirty = false
	c.milestones.Reset()
	c.st = Status{Phase: workout.PhaseIdle}
	observability.SetSessionPhase(string(workout.PhaseIdle), phaseNames())
	c.publish()
}

func (c *Controller) result(conflict, noop bool) Result {
	return Result{
		Phase:     c.st.Phase,
		SessionID: c.st.SessionID,
		Conflict:  conflict,
		Noop:      noop,
	}
}

func (c *Controller) publish() {
	s := c.st
	c.status.Store(&s)
}

func (c *Controller) armPush() {
	if c.ticker != nil {
		return
	}
	c.ticker = time.NewTicker(c.cfg.PushInterval)
	c.tickC = c.ticker.C
}

func (c *Controller) disarmPush() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	c.ticker = nil
	c.tickC = nil
}
