package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/testutil/testlog"
	"github.com/danmuck/stridelink/internal/workout"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "history.db"), time.UTC)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func summary(id string, ended time.Time, meters float64) workout.Summary {
	return workout.Summary{
		SessionID: id,
		Activity:  workout.ActivityRunning,
		Location:  workout.LocationOutdoor,
		StartedAt: ended.Add(-30 * time.Minute),
		EndedAt:   ended,
		Totals: workout.FinalTotals{
			DistanceMeters: meters,
			Elapsed:        30 * time.Minute,
		},
	}
}

func TestDailyDistancesFillsGapsFromFirstDay(t *testing.T) {
	testlog.Start(t)

	s := openTestStore(t)
	ctx := context.Background()
	today := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)

	for _, sum := range []workout.Summary{
		summary("a", today.AddDate(0, 0, -2), 3000),
		summary("b", today, 1000),
		summary("c", today.Add(-2*time.Hour), 500),
	} {
		if err := s.SaveSummary(ctx, sum); err != nil {
			t.Fatalf("save %s: %v", sum.SessionID, err)
		}
	}

	got, err := s.DailyDistances(ctx, today, 7)
	if err != nil {
		t.Fatalf("daily distances: %v", err)
	}
	want := []float64{3000, 0, 1500}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestDailyDistancesKeepsTrailingWindow(t *testing.T) {
	testlog.Start(t)

	s := openTestStore(t)
	ctx := context.Background()
	today := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		day := today.AddDate(0, 0, -i)
		if err := s.SaveSummary(ctx, summary(day.Format("s-2006-01-02"), day, float64(100*(10-i)))); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := s.DailyDistances(ctx, today, 7)
	if err != nil {
		t.Fatalf("daily distances: %v", err)
	}
	if len(got) != 7 || got[0] != 400 || got[6] != 1000 {
		t.Fatalf("unexpected window: %v", got)
	}
}

func TestSaveSummaryIsIdempotent(t *testing.T) {
	testlog.Start(t)

	s := openTestStore(t)
	ctx := context.Background()
	ended := time.Date(2026, 1, 3, 7, 30, 0, 0, time.UTC)

	if err := s.SaveSummary(ctx, summary("same", ended, 1200)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveSummary(ctx, summary("same", ended, 1600)); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, err := s.DailyDistances(ctx, ended, 1)
	if err != nil {
		t.Fatalf("daily distances: %v", err)
	}
	if len(got) != 1 || got[0] != 1600 {
		t.Fatalf("expected replaced credit of 1600, got %v", got)
	}

	recent, err := s.RecentSessions(ctx, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Totals.DistanceMeters != 1600 || recent[0].Totals.Elapsed != 30*time.Minute {
		t.Fatalf("unexpected sessions: %+v", recent)
	}
}

func TestDailyDistancesEmptyHistory(t *testing.T) {
	testlog.Start(t)

	s := openTestStore(t)
	got, err := s.DailyDistances(context.Background(), time.Now(), 7)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v err=%v", got, err)
	}
}
