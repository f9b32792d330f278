package snapshot

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/testutil/testlog"
	"github.com/redis/go-redis/v9"
)

type memStore struct {
	mu     sync.Mutex
	writes []WidgetSnapshot
	err    error
}

func (m *memStore) Write(_ context.Context, snap WidgetSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.writes = append(m.writes, snap)
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.writes)
}

type fixedHistory []float64

func (h fixedHistory) DailyDistances(context.Context, time.Time, int) ([]float64, error) {
	return h, nil
}

type failingRefresher struct{ calls int }

func (f *failingRefresher) Refresh(context.Context) error {
	f.calls++
	return errors.New("widget host gone")
}

func TestNormalizeWeek(t *testing.T) {
	testlog.Start(t)

	short := NormalizeWeek([]float64{1, 2, 3})
	want := [WeekDays]float64{0, 0, 0, 0, 1, 2, 3}
	if short != want {
		t.Fatalf("3 days: got %v want %v", short, want)
	}

	long := NormalizeWeek([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	want = [WeekDays]float64{4, 5, 6, 7, 8, 9, 10}
	if long != want {
		t.Fatalf("10 days: got %v want %v", long, want)
	}

	if empty := NormalizeWeek(nil); empty != ([WeekDays]float64{}) {
		t.Fatalf("empty: got %v", empty)
	}
}

func TestPublisherThrottlesWithinCooldown(t *testing.T) {
	testlog.Start(t)

	store := &memStore{}
	clk := clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	p := NewPublisher(store, nil, nil, clk, Config{Cooldown: 120 * time.Second})
	ctx := context.Background()

	wrote, err := p.Publish(ctx, MetricsView{CaloriesToday: 10}, false)
	if err != nil || !wrote {
		t.Fatalf("first publish: wrote=%v err=%v", wrote, err)
	}
	clk.Advance(30 * time.Second)
	wrote, err = p.Publish(ctx, MetricsView{CaloriesToday: 20}, false)
	if err != nil || wrote {
		t.Fatalf("second publish inside cool-down: wrote=%v err=%v", wrote, err)
	}
	if store.count() != 1 {
		t.Fatalf("expected exactly one write, got %d", store.count())
	}

	wrote, err = p.Publish(ctx, MetricsView{CaloriesToday: 30}, true)
	if err != nil || !wrote {
		t.Fatalf("forced publish: wrote=%v err=%v", wrote, err)
	}
	clk.Advance(120 * time.Second)
	if wrote, _ := p.Publish(ctx, MetricsView{CaloriesToday: 40}, false); !wrote {
		t.Fatalf("publish after cool-down should write")
	}
	if store.count() != 3 {
		t.Fatalf("expected 3 writes, got %d", store.count())
	}
}

func TestPublisherFailedWriteDoesNotStartCooldown(t *testing.T) {
	testlog.Start(t)

	store := &memStore{err: errors.New("disk full")}
	clk := clock.NewManual(time.Now())
	p := NewPublisher(store, nil, nil, clk, Config{})

	if _, err := p.Publish(context.Background(), MetricsView{}, false); err == nil {
		t.Fatalf("expected write error")
	}
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	wrote, err := p.Publish(context.Background(), MetricsView{}, false)
	if err != nil || !wrote {
		t.Fatalf("retry should write: wrote=%v err=%v", wrote, err)
	}
}

func TestPublisherRefreshFailureIsNotPropagated(t *testing.T) {
	testlog.Start(t)

	store := &memStore{}
	refresher := &failingRefresher{}
	p := NewPublisher(store, fixedHistory{5, 6, 7}, refresher, clock.NewManual(time.Now()), Config{})

	wrote, err := p.Publish(context.Background(), MetricsView{StandPercent: 140}, true)
	if err != nil || !wrote {
		t.Fatalf("publish: wrote=%v err=%v", wrote, err)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one refresh, got %d", refresher.calls)
	}
	snap := store.writes[0]
	if snap.StandPercent != 100 {
		t.Fatalf("stand percent not clamped: %v", snap.StandPercent)
	}
	if snap.WeeklyDistance != ([WeekDays]float64{0, 0, 0, 0, 5, 6, 7}) {
		t.Fatalf("weekly series: %v", snap.WeeklyDistance)
	}
}

func TestRedisStoreWriteReadAndRefresh(t *testing.T) {
	testlog.Start(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedisStore(client, "", "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := store.Read(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}

	sub := client.Subscribe(ctx, store.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewPublisher(store, fixedHistory{1000, 2000}, store, clock.NewManual(time.Now()), Config{})
	if _, err := p.Publish(ctx, MetricsView{CaloriesToday: 321, DistanceTodayMeters: 2000}, true); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.CaloriesToday != 321 || got.WeeklyDistance[6] != 2000 || got.WeeklyDistance[4] != 0 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != DefaultRedisKey {
			t.Fatalf("unexpected refresh payload %q", msg.Payload)
		}
	case <-ctx.Done():
		t.Fatalf("no refresh notice")
	}
}

func TestFileStoreReplacesWholeDocument(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "widgets", "snapshot.json")
	store := NewFileStore(path)
	ctx := context.Background()

	if _, err := store.Read(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Fatalf("expected ErrNoSnapshot, got %v", err)
	}
	for i := 1; i <= 2; i++ {
		snap := WidgetSnapshot{CaloriesToday: float64(i * 100)}
		snap.WeeklyDistance[WeekDays-1] = float64(i)
		if err := store.Write(ctx, snap); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}
	got, err := store.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.CaloriesToday != 200 || got.WeeklyDistance[WeekDays-1] != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".snapshot.json.*"))
	if len(matches) != 0 {
		t.Fatalf("temp files left behind: %v", matches)
	}
}
