package transport

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/testutil/testlog"
	"github.com/danmuck/stridelink/internal/workout"
)

func TestOutboxSupersedesSameKind(t *testing.T) {
	testlog.Start(t)

	o := NewOutbox(8)
	now := time.Now()
	if o.Enqueue(MetricsMessage("s", workout.Metrics{DistanceMeters: 100}), now) {
		t.Fatalf("first enqueue reported superseded")
	}
	if !o.Enqueue(MetricsMessage("s", workout.Metrics{DistanceMeters: 200}), now) {
		t.Fatalf("second metrics enqueue should supersede the first")
	}
	items := o.List()
	if len(items) != 1 {
		t.Fatalf("expected 1 queued item, got %d", len(items))
	}
	if items[0].Message.Metrics.DistanceMeters != 200 || items[0].Superseded != 1 {
		t.Fatalf("unexpected queued item: %+v", items[0])
	}
}

func TestOutboxKeepsCommandKindsApartAndOrdersOldestFirst(t *testing.T) {
	testlog.Start(t)

	o := NewOutbox(8)
	now := time.Now()
	o.Enqueue(CommandMessage("", workout.Start(workout.ActivityRunning, workout.LocationOutdoor)), now)
	o.Enqueue(MetricsMessage("s", workout.Metrics{DistanceMeters: 1}), now)
	o.Enqueue(CommandMessage("s", workout.Stop()), now)
	o.Enqueue(MetricsMessage("s", workout.Metrics{DistanceMeters: 2}), now)

	got := o.Drain()
	if len(got) != 3 {
		t.Fatalf("expected 3 drained messages, got %d", len(got))
	}
	if got[0].Command.Kind != workout.CommandStart {
		t.Fatalf("expected start first, got %+v", got[0])
	}
	if got[1].Command.Kind != workout.CommandStop {
		t.Fatalf("expected stop second, got %+v", got[1])
	}
	if got[2].Kind != KindMetrics || got[2].Metrics.DistanceMeters != 2 {
		t.Fatalf("expected latest metrics last, got %+v", got[2])
	}
	if o.Len() != 0 {
		t.Fatalf("drain should empty the outbox")
	}
}

func TestOutboxEvictsOldestPastLimit(t *testing.T) {
	testlog.Start(t)

	o := NewOutbox(2)
	now := time.Now()
	o.Enqueue(CommandMessage("s", workout.Pause()), now)
	o.Enqueue(CommandMessage("s", workout.Resume()), now)
	o.Enqueue(CommandMessage("s", workout.Stop()), now)

	got := o.Drain()
	if len(got) != 2 {
		t.Fatalf("expected 2 messages after eviction, got %d", len(got))
	}
	if got[0].Command.Kind != workout.CommandResume || got[1].Command.Kind != workout.CommandStop {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	testlog.Start(t)

	b := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     500 * time.Millisecond,
	}
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		4: 500 * time.Millisecond,
		9: 500 * time.Millisecond,
	}
	for attempt, want := range cases {
		if got := b.Delay(attempt, nil); got != want {
			t.Fatalf("attempt %d: got %v want %v", attempt, got, want)
		}
	}

	b.Jitter = true
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		got := b.Delay(3, rng)
		if got < 200*time.Millisecond || got > 600*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestBackoffNextAttemptResetsOnlyAfterStableConnection(t *testing.T) {
	testlog.Start(t)

	b := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, ResetAfter: 10 * time.Second}
	if got := b.NextAttempt(3, 50*time.Millisecond); got != 4 {
		t.Fatalf("short-lived connection should keep backing off, got attempt %d", got)
	}
	if got := b.NextAttempt(0, 0); got != 1 {
		t.Fatalf("first drop should back off once, got attempt %d", got)
	}
	if got := b.NextAttempt(6, time.Minute); got != 1 {
		t.Fatalf("stable connection should start over, got attempt %d", got)
	}
}
