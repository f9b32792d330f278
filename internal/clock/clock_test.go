package clock

import (
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/testutil/testlog"
)

func TestManualOnlyMovesWhenTold(t *testing.T) {
	testlog.Start(t)

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)
	if !m.Now().Equal(start) {
		t.Fatalf("unexpected start: %v", m.Now())
	}
	if got := m.Advance(90 * time.Second); !got.Equal(start.Add(90*time.Second)) || !m.Now().Equal(got) {
		t.Fatalf("advance returned %v, now %v", got, m.Now())
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set did not rewind: %v", m.Now())
	}
}
