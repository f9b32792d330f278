package transport

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/stridelink/internal/observability"
)

// Queued is one message held for delivery on the next connection.
type Queued struct {
	Message    Message
	QueuedAt   time.Time
	Superseded int
	seq        uint64
}

// Outbox holds at most one message per coalesce key. A later message with the
// same key replaces the earlier one and moves to the back of the drain order.
type Outbox struct {
	mu    sync.Mutex
	items map[string]Queued
	seq   uint64
	limit int
}

func NewOutbox(limit int) *Outbox {
	return &Outbox{
		items: make(map[string]Queued),
		limit: limit,
	}
}

// Enqueue stores msg and reports whether it replaced an earlier message.
func (o *Outbox) Enqueue(msg Message, at time.Time) bool {
	key := msg.coalesceKey()
	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq++
	item := Queued{Message: msg, QueuedAt: at, seq: o.seq}
	prev, superseded := o.items[key]
	if superseded {
		item.Superseded = prev.Superseded + 1
		observability.RecordOutboxSuperseded()
	}
	o.items[key] = item

	if o.limit > 0 && len(o.items) > o.limit {
		o.evictOldestLocked()
	}
	return superseded
}

// Drain removes and returns everything queued, oldest first.
func (o *Outbox) Drain() []Message {
	o.mu.Lock()
	items := o.sortedLocked()
	o.items = make(map[string]Queued)
	o.mu.Unlock()

	out := make([]Message, 0, len(items))
	for _, item := range items {
		out = append(out, item.Message)
	}
	return out
}

func (o *Outbox) List() []Queued {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sortedLocked()
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.items)
}

func (o *Outbox) sortedLocked() []Queued {
	out := make([]Queued, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].seq < out[j].seq
	})
	return out
}

func (o *Outbox) evictOldestLocked() {
	var (
		oldestKey string
		oldestSeq uint64
	)
	for key, item := range o.items {
		if oldestKey == "" || item.seq < oldestSeq {
			oldestKey = key
			oldestSeq = item.seq
		}
	}
	delete(o.items, oldestKey)
}
