package admin

import (
	"context"
	"time"

	"github.com/danmuck/stridelink/internal/companion"
	"github.com/danmuck/stridelink/internal/transport"
	"github.com/danmuck/stridelink/internal/wearable"
	"github.com/danmuck/stridelink/internal/workout"
)

// Device is the session surface a daemon exposes over HTTP.
type Device interface {
	Kind() string
	Session() any
	Start(ctx context.Context, activity workout.ActivityType, location workout.LocationContext) (any, error)
	Stop(ctx context.Context) (any, error)
	Toggle(ctx context.Context) (any, error)
}

// SessionLister lists finished sessions, newest first.
type SessionLister interface {
	RecentSessions(ctx context.Context, limit int) ([]workout.Summary, error)
}

type wearableDevice struct {
	c *wearable.Controller
}

// Wearable exposes a controller. Commands wait for the actor's outcome.
func Wearable(c *wearable.Controller) Device {
	return wearableDevice{c: c}
}

func (d wearableDevice) Kind() string { return "wearable" }
func (d wearableDevice) Session() any { return d.c.Status() }

func (d wearableDevice) Start(ctx context.Context, activity workout.ActivityType, location workout.LocationContext) (any, error) {
	return d.c.Handle(ctx, workout.Start(activity, location))
}

func (d wearableDevice) Stop(ctx context.Context) (any, error) {
	return d.c.Handle(ctx, workout.Stop())
}

func (d wearableDevice) Toggle(ctx context.Context) (any, error) {
	return d.c.Toggle(ctx)
}

type companionDevice struct {
	m        *companion.Mirror
	snapshot SnapshotClock
}

// SnapshotClock reports when the widget snapshot was last written.
type SnapshotClock interface {
	LastWrite() (time.Time, bool)
}

// Companion exposes a mirror. Commands are forwarded to the wearable and
// report only how they were delivered. snapshot may be nil.
func Companion(m *companion.Mirror, snapshot SnapshotClock) Device {
	return companionDevice{m: m, snapshot: snapshot}
}

type forwarded struct {
	Mode transport.Mode `json:"mode"`
}

type companionSession struct {
	companion.State
	SnapshotWrittenAt *time.Time `json:"snapshot_written_at,omitempty"`
}

func (d companionDevice) Kind() string { return "companion" }

func (d companionDevice) Session() any {
	out := companionSession{State: d.m.State()}
	if d.snapshot != nil {
		if at, ok := d.snapshot.LastWrite(); ok {
			out.SnapshotWrittenAt = &at
		}
	}
	return out
}

func (d companionDevice) Start(_ context.Context, activity workout.ActivityType, location workout.LocationContext) (any, error) {
	mode, err := d.m.RequestStart(activity, location)
	return forwarded{Mode: mode}, err
}

func (d companionDevice) Stop(context.Context) (any, error) {
	mode, err := d.m.RequestStop()
	return forwarded{Mode: mode}, err
}

func (d companionDevice) Toggle(context.Context) (any, error) {
	mode, err := d.m.RequestTogglePause()
	return forwarded{Mode: mode}, err
}
