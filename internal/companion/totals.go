package companion

import (
	"time"

	"github.com/danmuck/stridelink/internal/snapshot"
	"github.com/danmuck/stridelink/internal/workout"
)

// standGoalHours is the daily target of hours with some activity.
const standGoalHours = 12

// dayTotals accumulates finished sessions for the current calendar day.
type dayTotals struct {
	day        string
	kcal       float64
	meters     float64
	lastHR     float64
	standHours map[int]bool
}

func (d *dayTotals) roll(now time.Time) {
	key := now.Format("2006-01-02")
	if key == d.day {
		return
	}
	*d = dayTotals{day: key, standHours: make(map[int]bool)}
}

func (d *dayTotals) add(now time.Time, m workout.Metrics, startedAt time.Time) {
	d.roll(now)
	d.kcal += m.ActiveEnergyKcal
	d.meters += m.DistanceMeters
	if m.HeartRateBPM > 0 {
		d.lastHR = m.HeartRateBPM
	}
	markHours(d.standHours, startedAt, now)
}

// view combines the day's finished sessions with the live one.
func (d *dayTotals) view(now time.Time, live State) snapshot.MetricsView {
	d.roll(now)
	v := snapshot.MetricsView{
		CaloriesToday:       d.kcal,
		HeartRateBPM:        d.lastHR,
		DistanceTodayMeters: d.meters,
	}
	hours := len(d.standHours)
	if live.Active() {
		v.CaloriesToday += live.Metrics.ActiveEnergyKcal
		v.DistanceTodayMeters += live.Metrics.DistanceMeters
		if live.Metrics.HeartRateBPM > 0 {
			v.HeartRateBPM = live.Metrics.HeartRateBPM
		}
		extra := make(map[int]bool)
		markHours(extra, live.StartedAt, now)
		for h := range extra {
			if !d.standHours[h] {
				hours++
			}
		}
	}
	v.StandPercent = float64(hours) / standGoalHours * 100
	return v
}

// markHours flags every hour of now's day touched by [from, now].
func markHours(set map[int]bool, from, now time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if from.Before(dayStart) || from.IsZero() {
		from = dayStart
	}
	for t := from.Truncate(time.Hour); !t.After(now); t = t.Add(time.Hour) {
		if t.Before(dayStart) {
			continue
		}
		set[t.Hour()] = true
	}
}
