package transport

import (
	"context"
	"sync"
	"time"
)

// link is the reachability state shared by both ends of a loopback pair.
type link struct {
	mu        sync.Mutex
	reachable bool
	drop      func(Message) bool
}

// Loopback is one end of an in-process channel pair. It stands in for the
// device messaging channel in the simulator and in tests.
type Loopback struct {
	link   *link
	peer   *Loopback
	outbox *Outbox

	mu       sync.RWMutex
	receiver func(Message)
}

// LoopbackPair returns two connected ends that start reachable.
func LoopbackPair(queueLimit int) (*Loopback, *Loopback) {
	l := &link{reachable: true}
	a := &Loopback{link: l, outbox: NewOutbox(queueLimit)}
	b := &Loopback{link: l, outbox: NewOutbox(queueLimit)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Reachable() bool {
	l.link.mu.Lock()
	defer l.link.mu.Unlock()
	return l.link.reachable
}

// SetReachable flips the link for both ends. Coming back up flushes both
// outboxes to their peers.
func (l *Loopback) SetReachable(reachable bool) {
	l.link.mu.Lock()
	was := l.link.reachable
	l.link.reachable = reachable
	l.link.mu.Unlock()
	if reachable && !was {
		l.flush()
		l.peer.flush()
	}
}

// SetDropFilter installs a predicate that silently loses matching messages
// in flight on both directions.
func (l *Loopback) SetDropFilter(fn func(Message) bool) {
	l.link.mu.Lock()
	defer l.link.mu.Unlock()
	l.link.drop = fn
}

func (l *Loopback) SetReceiver(fn func(Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receiver = fn
}

func (l *Loopback) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.Reachable() {
		return ErrUnreachable
	}
	l.peer.deliver(msg)
	return nil
}

func (l *Loopback) QueueForDelivery(msg Message) error {
	l.outbox.Enqueue(msg, time.Now())
	if l.Reachable() {
		l.flush()
	}
	return nil
}

// Pending reports how many messages wait in this end's outbox.
func (l *Loopback) Pending() int {
	return l.outbox.Len()
}

func (l *Loopback) flush() {
	for _, msg := range l.outbox.Drain() {
		l.peer.deliver(msg)
	}
}

func (l *Loopback) deliver(msg Message) {
	l.link.mu.Lock()
	drop := l.link.drop
	l.link.mu.Unlock()
	if drop != nil && drop(msg) {
		return
	}
	l.mu.RLock()
	fn := l.receiver
	l.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}
