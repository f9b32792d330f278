package workout

import (
	"fmt"
	"math"
	"time"
)

// PacePlaceholder is shown whenever pace cannot be derived.
const PacePlaceholder = `--'--"`

// MaxDistanceMeters is the longest distance one session may report.
const MaxDistanceMeters = 1_000_000

// Metrics is the live payload pushed from the wearable to the companion.
// Later payloads replace earlier ones; ElapsedSeconds never decreases within
// one session.
type Metrics struct {
	HeartRateBPM     float64   `json:"heart_rate_bpm"`
	ActiveEnergyKcal float64   `json:"active_energy_kcal"`
	DistanceMeters   float64   `json:"distance_meters"`
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	ReceivedAt       time.Time `json:"received_at"`
}

func MetricsFromStats(s Stats) Metrics {
	return Metrics{
		HeartRateBPM:     s.HeartRateBPM,
		ActiveEnergyKcal: s.ActiveEnergyKcal,
		DistanceMeters:   s.DistanceMeters,
		ElapsedSeconds:   s.Elapsed.Seconds(),
	}
}

func (m Metrics) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{
		{"heart_rate", m.HeartRateBPM},
		{"active_energy", m.ActiveEnergyKcal},
		{"distance", m.DistanceMeters},
		{"elapsed", m.ElapsedSeconds},
	}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidMetrics, f.name)
		}
		if f.v < 0 {
			return fmt.Errorf("%w: %s is negative", ErrInvalidMetrics, f.name)
		}
	}
	if m.DistanceMeters > MaxDistanceMeters {
		return fmt.Errorf("%w: distance %.0fm exceeds %dm", ErrInvalidMetrics, m.DistanceMeters, MaxDistanceMeters)
	}
	return nil
}

// WholeKilometers is floor(distance / 1000).
func (m Metrics) WholeKilometers() int {
	return int(math.Floor(m.DistanceMeters / 1000))
}

// Pace returns minutes per kilometer. ok is false unless both distance and
// elapsed time are positive.
func Pace(distanceMeters, elapsedSeconds float64) (minPerKm float64, ok bool) {
	if distanceMeters <= 0 || elapsedSeconds <= 0 {
		return 0, false
	}
	return elapsedSeconds / distanceMeters * 1000 / 60, true
}

// FormatPace renders pace as m'ss" or the placeholder.
func FormatPace(minPerKm float64, ok bool) string {
	if !ok || math.IsNaN(minPerKm) || math.IsInf(minPerKm, 0) {
		return PacePlaceholder
	}
	total := int(math.Round(minPerKm * 60))
	return fmt.Sprintf(`%d'%02d"`, total/60, total%60)
}
