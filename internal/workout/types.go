package workout

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAlreadyActive      = errors.New("workout: session already active")
	ErrNoActiveSession    = errors.New("workout: no active session")
	ErrEngineUnavailable  = errors.New("workout: recording engine unavailable")
	ErrLifecycleOrder     = errors.New("workout: invalid phase transition")
	ErrInvalidCommand     = errors.New("workout: invalid command")
	ErrInvalidMetrics     = errors.New("workout: invalid metrics")
	ErrUnknownActivity    = errors.New("workout: unknown activity type")
	ErrUnknownLocation    = errors.New("workout: unknown location context")
	ErrUnknownCommandKind = errors.New("workout: unknown command kind")
)

// ActivityType names the kind of workout the recording engine should track.
type ActivityType string

const (
	ActivityRunning ActivityType = "running"
	ActivityWalking ActivityType = "walking"
	ActivityCycling ActivityType = "cycling"
	ActivityHiking  ActivityType = "hiking"
	ActivityOther   ActivityType = "other"
)

func ParseActivityType(raw string) (ActivityType, error) {
	switch a := ActivityType(strings.ToLower(strings.TrimSpace(raw))); a {
	case ActivityRunning, ActivityWalking, ActivityCycling, ActivityHiking, ActivityOther:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownActivity, raw)
	}
}

type LocationContext string

const (
	LocationIndoor  LocationContext = "indoor"
	LocationOutdoor LocationContext = "outdoor"
)

func ParseLocationContext(raw string) (LocationContext, error) {
	switch l := LocationContext(strings.ToLower(strings.TrimSpace(raw))); l {
	case LocationIndoor, LocationOutdoor:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLocation, raw)
	}
}

// Phase is the wearable-side lifecycle of one recording session.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
	PhaseEnding  Phase = "ending"
	PhaseEnded   Phase = "ended"
)

// Active reports whether a session is in flight.
func (p Phase) Active() bool {
	return p == PhaseRunning || p == PhasePaused || p == PhaseEnding
}

type CommandKind string

const (
	CommandStart  CommandKind = "start"
	CommandPause  CommandKind = "pause"
	CommandResume CommandKind = "resume"
	CommandStop   CommandKind = "stop"
)

func ParseCommandKind(raw string) (CommandKind, error) {
	switch k := CommandKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case CommandStart, CommandPause, CommandResume, CommandStop:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommandKind, raw)
	}
}

// Command is a session control-plane message. Activity and Location are only
// meaningful for CommandStart.
type Command struct {
	Kind     CommandKind
	Activity ActivityType
	Location LocationContext
}

func Start(activity ActivityType, location LocationContext) Command {
	return Command{Kind: CommandStart, Activity: activity, Location: location}
}

func Pause() Command  { return Command{Kind: CommandPause} }
func Resume() Command { return Command{Kind: CommandResume} }
func Stop() Command   { return Command{Kind: CommandStop} }

func (c Command) Validate() error {
	if _, err := ParseCommandKind(string(c.Kind)); err != nil {
		return err
	}
	if c.Kind != CommandStart {
		return nil
	}
	if _, err := ParseActivityType(string(c.Activity)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if _, err := ParseLocationContext(string(c.Location)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return nil
}

// Stats is one incremental statistic update from the recording engine.
type Stats struct {
	HeartRateBPM     float64
	ActiveEnergyKcal float64
	DistanceMeters   float64
	Elapsed          time.Duration
}

// FinalTotals is what the engine reports when a session is finalized.
type FinalTotals struct {
	ActiveEnergyKcal float64       `json:"active_energy_kcal"`
	DistanceMeters   float64       `json:"distance_meters"`
	Elapsed          time.Duration `json:"elapsed"`
	AvgHeartRateBPM  float64       `json:"avg_heart_rate_bpm"`
}

// Summary is the persisted record of one finished session.
type Summary struct {
	SessionID string          `json:"session_id"`
	Activity  ActivityType    `json:"activity"`
	Location  LocationContext `json:"location"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Totals    FinalTotals     `json:"totals"`
}
