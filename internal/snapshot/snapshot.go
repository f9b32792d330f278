package snapshot

import (
	"context"
	"errors"
	"time"
)

// WeekDays is the length of the rolling daily-distance series.
const WeekDays = 7

var ErrNoSnapshot = errors.New("snapshot: nothing published yet")

// MetricsView is today's running totals as seen by the publisher's caller.
type MetricsView struct {
	CaloriesToday       float64
	HeartRateBPM        float64
	StandPercent        float64
	DistanceTodayMeters float64
}

// WidgetSnapshot is the document display processes read. It is always
// written whole.
type WidgetSnapshot struct {
	CaloriesToday       float64           `json:"calories_today"`
	HeartRateBPM        float64           `json:"heart_rate_bpm"`
	StandPercent        float64           `json:"stand_percent"`
	DistanceTodayMeters float64           `json:"distance_today_meters"`
	WeeklyDistance      [WeekDays]float64 `json:"weekly_distance"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// Store replaces the shared snapshot in one write.
type Store interface {
	Write(ctx context.Context, snap WidgetSnapshot) error
}

// Refresher asks display surfaces to reload.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// HistoryQuery returns per-day distance totals ending at end, oldest first.
type HistoryQuery interface {
	DailyDistances(ctx context.Context, end time.Time, days int) ([]float64, error)
}

// NormalizeWeek fits values into exactly WeekDays slots, today last. Short
// input is zero-padded at the front; long input keeps the most recent days.
func NormalizeWeek(values []float64) [WeekDays]float64 {
	var out [WeekDays]float64
	if len(values) > WeekDays {
		values = values[len(values)-WeekDays:]
	}
	copy(out[WeekDays-len(values):], values)
	return out
}
