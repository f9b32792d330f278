package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/stridelink/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnreachable    = errors.New("transport: peer unreachable")
	ErrClosed         = errors.New("transport: closed")
	ErrSendBufferFull = errors.New("transport: send buffer full")
)

// Channel is the device messaging link underneath a Transport.
type Channel interface {
	// Reachable reports whether immediate delivery is currently possible.
	Reachable() bool
	// Send delivers msg now or fails.
	Send(ctx context.Context, msg Message) error
	// QueueForDelivery hands msg over for best-effort delivery on the next
	// connection. Later messages of the same kind may supersede it.
	QueueForDelivery(msg Message) error
	// SetReceiver registers the inbound callback. Called once at startup.
	SetReceiver(fn func(Message))
}

type Mode string

const (
	ModeImmediate Mode = "immediate"
	ModeQueued    Mode = "queued"
	ModeDropped   Mode = "dropped"
)

// Transport picks a delivery mode per message and never blocks the caller.
// Immediate sends run in order on one worker goroutine; their failures are
// reported through the error hook and are not retried.
type Transport struct {
	ch  Channel
	cfg Config

	outgoing chan Message
	mu       sync.RWMutex
	onError  func(Message, error)
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup

	pendingMu sync.Mutex
	pending   int
	drained   *sync.Cond
}

func New(ch Channel, cfg Config) *Transport {
	cfg = cfg.WithDefaults()
	t := &Transport{
		ch:       ch,
		cfg:      cfg,
		outgoing: make(chan Message, cfg.SendBuffer),
		done:     make(chan struct{}),
	}
	t.drained = sync.NewCond(&t.pendingMu)
	t.wg.Add(1)
	go t.sendLoop()
	return t
}

// OnDeliveryError registers a hook for asynchronous immediate-send failures.
func (t *Transport) OnDeliveryError(fn func(Message, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// OnReceive installs fn as the inbound handler. Invalid messages are dropped
// before fn sees them.
func (t *Transport) OnReceive(fn func(Message)) {
	t.ch.SetReceiver(func(msg Message) {
		if err := msg.Validate(); err != nil {
			log.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("transport.Transport.receive dropped invalid message")
			return
		}
		observability.RecordTransportReceive(string(msg.Kind))
		fn(msg)
	})
}

// Send is fire-and-forget. It returns the mode chosen for msg.
func (t *Transport) Send(msg Message) Mode {
	if msg.DeviceID == "" {
		msg.DeviceID = t.cfg.DeviceID
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	mode, err := t.dispatch(msg)
	if err != nil {
		t.report(msg, mode, err)
		return ModeDropped
	}
	return mode
}

func (t *Transport) dispatch(msg Message) (Mode, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ModeDropped, ErrClosed
	}

	if !t.ch.Reachable() {
		err := t.ch.QueueForDelivery(msg)
		observability.RecordTransportSend(string(msg.Kind), string(ModeQueued), err == nil)
		return ModeQueued, err
	}

	t.track(1)
	select {
	case t.outgoing <- msg:
		return ModeImmediate, nil
	default:
		t.track(-1)
		observability.RecordTransportSend(string(msg.Kind), string(ModeImmediate), false)
		return ModeImmediate, ErrSendBufferFull
	}
}

// Flush waits until every accepted immediate send has been attempted.
func (t *Transport) Flush() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for t.pending > 0 {
		t.drained.Wait()
	}
}

func (t *Transport) track(delta int) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.pending += delta
	if t.pending == 0 {
		t.drained.Broadcast()
	}
}

// Close stops the send worker after draining accepted messages.
func (t *Transport) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	t.wg.Wait()
}

func (t *Transport) sendLoop() {
	defer t.wg.Done()
	for {
		select {
		case msg := <-t.outgoing:
			t.deliver(msg)
		case <-t.done:
			for {
				select {
				case msg := <-t.outgoing:
					t.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (t *Transport) deliver(msg Message) {
	defer t.track(-1)
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
	err := t.ch.Send(ctx, msg)
	cancel()
	observability.RecordTransportSend(string(msg.Kind), string(ModeImmediate), err == nil)
	if err != nil {
		t.report(msg, ModeImmediate, err)
	}
}

func (t *Transport) report(msg Message, mode Mode, err error) {
	log.Warn().
		Err(err).
		Str("kind", string(msg.Kind)).
		Str("session_id", msg.SessionID).
		Str("mode", string(mode)).
		Msg("transport.Transport.send failed")
	t.mu.RLock()
	fn := t.onError
	t.mu.RUnlock()
	if fn != nil {
		fn(msg, err)
	}
}
