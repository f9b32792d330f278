package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/stridelink/internal/workout"
)

var ErrInvalidMessage = errors.New("transport: invalid message")

type Kind string

const (
	KindCommand    Kind = "command"
	KindMetrics    Kind = "metrics"
	KindSessionEnd Kind = "session_end"
)

// Message is the envelope exchanged between devices. Command is set for
// KindCommand, Metrics for KindMetrics.
type Message struct {
	Kind      Kind
	SessionID string
	DeviceID  string
	Command   workout.Command
	Metrics   workout.Metrics
	SentAt    time.Time
}

func CommandMessage(sessionID string, cmd workout.Command) Message {
	return Message{Kind: KindCommand, SessionID: sessionID, Command: cmd, SentAt: time.Now()}
}

func MetricsMessage(sessionID string, m workout.Metrics) Message {
	return Message{Kind: KindMetrics, SessionID: sessionID, Metrics: m, SentAt: time.Now()}
}

func SessionEndMessage(sessionID string) Message {
	return Message{Kind: KindSessionEnd, SessionID: sessionID, SentAt: time.Now()}
}

func (m Message) Validate() error {
	switch m.Kind {
	case KindCommand:
		if err := m.Command.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	case KindMetrics:
		if strings.TrimSpace(m.SessionID) == "" {
			return fmt.Errorf("%w: metrics missing session_id", ErrInvalidMessage)
		}
		if err := m.Metrics.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
	case KindSessionEnd:
		if strings.TrimSpace(m.SessionID) == "" {
			return fmt.Errorf("%w: session_end missing session_id", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	return nil
}

// coalesceKey groups queued messages that supersede one another. Each command
// kind gets its own slot so a queued start survives a later queued stop.
func (m Message) coalesceKey() string {
	if m.Kind == KindCommand {
		return string(m.Kind) + "." + string(m.Command.Kind)
	}
	return string(m.Kind)
}
