package wearable

import (
	"time"

	"github.com/danmuck/stridelink/internal/workout"
)

type EventKind string

const (
	EventMilestone EventKind = "milestone"
	EventPhase     EventKind = "phase"
)

// Event is a fire-and-forget side effect of the controller, such as the
// haptic cue for a kilometer milestone.
type Event struct {
	Kind       EventKind
	SessionID  string
	Phase      workout.Phase
	Kilometers int
	At         time.Time
}
