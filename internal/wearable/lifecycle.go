package wearable

import (
	"fmt"

	"github.com/danmuck/stridelink/internal/workout"
)

var transitions = map[workout.Phase]map[workout.CommandKind]workout.Phase{
	workout.PhaseIdle: {
		workout.CommandStart: workout.PhaseRunning,
	},
	workout.PhaseRunning: {
		workout.CommandPause: workout.PhasePaused,
		workout.CommandStop:  workout.PhaseEnding,
	},
	workout.PhasePaused: {
		workout.CommandResume: workout.PhaseRunning,
		workout.CommandStop:   workout.PhaseEnding,
	},
	workout.PhaseEnded: {
		workout.CommandStart: workout.PhaseRunning,
	},
}

// Phases lists every phase, for gauges and status output.
var Phases = []workout.Phase{
	workout.PhaseIdle,
	workout.PhaseRunning,
	workout.PhasePaused,
	workout.PhaseEnding,
	workout.PhaseEnded,
}

type step struct {
	to       workout.Phase
	noop     bool
	conflict bool
}

// plan resolves cmd against the current phase. Duplicate commands resolve to
// a no-op; a start during an active session is a conflict.
func plan(from workout.Phase, kind workout.CommandKind) (step, error) {
	if to, ok := transitions[from][kind]; ok {
		return step{to: to}, nil
	}
	switch {
	case kind == workout.CommandStart && from.Active():
		return step{to: from, noop: true, conflict: true}, nil
	case kind == workout.CommandStop && !from.Active():
		return step{to: from, noop: true}, nil
	case kind == workout.CommandStop && from == workout.PhaseEnding:
		return step{to: from, noop: true}, nil
	case kind == workout.CommandPause && from == workout.PhasePaused:
		return step{to: from, noop: true}, nil
	case kind == workout.CommandResume && from == workout.PhaseRunning:
		return step{to: from, noop: true}, nil
	case !from.Active():
		return step{}, fmt.Errorf("%w: %w: %s", workout.ErrLifecycleOrder, workout.ErrNoActiveSession, kind)
	}
	return step{}, transitionError(from, kind)
}

func transitionError(from workout.Phase, kind workout.CommandKind) error {
	return fmt.Errorf("%w: %s on %s", workout.ErrLifecycleOrder, kind, from)
}

func phaseNames() []string {
	out := make([]string, 0, len(Phases))
	for _, p := range Phases {
		out = append(out, string(p))
	}
	return out
}
