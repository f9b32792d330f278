package wearable

import (
	"context"

	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/workout"
)

// Engine is the biometric recording engine. It owns sampling and hands back
// an aggregated statistic stream per session.
type Engine interface {
	StartSession(ctx context.Context, activity workout.ActivityType, location workout.LocationContext) (Handle, error)
}

// Handle controls one engine recording session.
type Handle interface {
	// Updates yields incremental statistics until the session stops.
	Updates() <-chan workout.Stats
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) (workout.FinalTotals, error)
}

// SummaryStore persists finished sessions.
type SummaryStore interface {
	SaveSummary(ctx context.Context, s workout.Summary) error
}

// Link is the slice of transport.Transport the controller needs.
type Link interface {
	Send(msg transport.Message) transport.Mode
	OnReceive(fn func(transport.Message))
}

var _ Link = (*transport.Transport)(nil)
