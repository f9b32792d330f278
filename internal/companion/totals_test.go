package companion

import (
	"math"
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/testutil/testlog"
	"github.com/danmuck/stridelink/internal/workout"
)

func TestDayTotalsCombinesFinishedAndLive(t *testing.T) {
	testlog.Start(t)

	var d dayTotals
	morning := time.Date(2026, 6, 1, 7, 40, 0, 0, time.UTC)
	d.add(morning, workout.Metrics{DistanceMeters: 2000, ActiveEnergyKcal: 150, HeartRateBPM: 130}, morning.Add(-20*time.Minute))

	now := time.Date(2026, 6, 1, 18, 10, 0, 0, time.UTC)
	live := State{
		SessionID: "live",
		StartedAt: now.Add(-5 * time.Minute),
		Metrics:   workout.Metrics{DistanceMeters: 500, ActiveEnergyKcal: 40, HeartRateBPM: 150},
	}
	v := d.view(now, live)
	if v.DistanceTodayMeters != 2500 || v.CaloriesToday != 190 || v.HeartRateBPM != 150 {
		t.Fatalf("unexpected view: %+v", v)
	}
	// Hours 7 and 18 are active.
	if want := 2.0 / standGoalHours * 100; math.Abs(v.StandPercent-want) > 1e-9 {
		t.Fatalf("stand percent = %v, want %v", v.StandPercent, want)
	}

	next := d.view(now.AddDate(0, 0, 1), State{})
	if next.DistanceTodayMeters != 0 || next.StandPercent != 0 {
		t.Fatalf("totals did not roll over: %+v", next)
	}
}
