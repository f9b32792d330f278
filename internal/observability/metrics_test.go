package observability

import (
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("wearable", "GET", "/health", 200, 12*time.Millisecond)
	RecordTransportSend("metrics", "immediate", true)
	RecordTransportReceive("command")
	RecordOutboxSuperseded()
	RecordMetricsPush()
	RecordEventDropped("milestone")
	RecordSnapshotPublish("written", 3*time.Millisecond)
	RecordSnapshotPublish("throttled", 0)
}

func TestSetSessionPhaseIsExclusive(t *testing.T) {
	testlog.Start(t)
	all := []string{"idle", "running", "paused"}
	SetSessionPhase("running", all)
	if got := testutil.ToFloat64(sessionPhase.WithLabelValues("running")); got != 1 {
		t.Fatalf("running gauge=%v", got)
	}
	SetSessionPhase("paused", all)
	if got := testutil.ToFloat64(sessionPhase.WithLabelValues("running")); got != 0 {
		t.Fatalf("running gauge should reset, got %v", got)
	}
	if got := testutil.ToFloat64(sessionPhase.WithLabelValues("paused")); got != 1 {
		t.Fatalf("paused gauge=%v", got)
	}
}

func TestMilestoneCounterIncrements(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(milestones)
	RecordMilestone()
	if got := testutil.ToFloat64(milestones); got != before+1 {
		t.Fatalf("milestones=%v want %v", got, before+1)
	}
}
