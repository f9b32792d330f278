package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/stridelink/internal/auth"
	"github.com/danmuck/stridelink/internal/clock"
	"github.com/danmuck/stridelink/internal/companion"
	"github.com/danmuck/stridelink/internal/simengine"
	"github.com/danmuck/stridelink/internal/snapshot"
	"github.com/danmuck/stridelink/internal/testutil/testlog"
	"github.com/danmuck/stridelink/internal/wearable"
	"github.com/danmuck/stridelink/internal/workout"
)

type commandResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Result struct {
		Phase    workout.Phase `json:"phase"`
		Conflict bool          `json:"conflict"`
		Mode     string        `json:"mode"`
	} `json:"result"`
}

type stubSessions struct {
	limit int
}

func (s *stubSessions) RecentSessions(_ context.Context, limit int) ([]workout.Summary, error) {
	s.limit = limit
	return []workout.Summary{{SessionID: "s1", Activity: workout.ActivityWalking}}, nil
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, commandResponse) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)

	var out commandResponse
	if strings.HasPrefix(path, "/workout/") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v body=%s", method, path, err, rr.Body.String())
		}
	}
	return rr, out
}

func startController(t *testing.T) *wearable.Controller {
	t.Helper()
	engine := simengine.New(simengine.Config{Interval: 10 * time.Millisecond})
	ctrl := wearable.New(engine, nil, nil, nil, wearable.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctrl
}

func TestWearableRoutesDriveTheController(t *testing.T) {
	testlog.Start(t)

	s := New("watch", ":0", nil, Wearable(startController(t)), nil)

	rr, _ := do(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"kind":"wearable"`) {
		t.Fatalf("unexpected health: %d %s", rr.Code, rr.Body.String())
	}

	rr, res := do(t, s, http.MethodPost, "/workout/start", `{"activity":"running","location":"indoor"}`)
	if rr.Code != http.StatusOK || res.Result.Phase != workout.PhaseRunning {
		t.Fatalf("start: %d %+v", rr.Code, res)
	}

	rr, res = do(t, s, http.MethodPost, "/workout/start", `{"activity":"walking"}`)
	if rr.Code != http.StatusOK || !res.Result.Conflict || res.Result.Phase != workout.PhaseRunning {
		t.Fatalf("second start should be a conflict: %d %+v", rr.Code, res)
	}

	rr, res = do(t, s, http.MethodPost, "/workout/toggle", "")
	if rr.Code != http.StatusOK || res.Result.Phase != workout.PhasePaused {
		t.Fatalf("toggle: %d %+v", rr.Code, res)
	}

	rr, _ = do(t, s, http.MethodGet, "/session", "")
	var status wearable.Status
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if status.Phase != workout.PhasePaused || status.Activity != workout.ActivityRunning || status.Location != workout.LocationIndoor {
		t.Fatalf("unexpected session: %+v", status)
	}

	rr, res = do(t, s, http.MethodPost, "/workout/stop", "")
	if rr.Code != http.StatusOK || res.Result.Phase != workout.PhaseEnded {
		t.Fatalf("stop: %d %+v", rr.Code, res)
	}

	rr, res = do(t, s, http.MethodPost, "/workout/start", `{"activity":"swimming"}`)
	if rr.Code != http.StatusBadRequest || res.Error == "" {
		t.Fatalf("expected bad request for unknown activity: %d %+v", rr.Code, res)
	}

	rr, _ = do(t, s, http.MethodGet, "/sessions", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("sessions should not be served without a lister, got %d", rr.Code)
	}
}

func TestCompanionRoutesForwardCommands(t *testing.T) {
	testlog.Start(t)

	published := time.Date(2026, 5, 3, 9, 30, 0, 0, time.UTC)
	publisher := snapshot.NewPublisher(snapshot.NewFileStore(filepath.Join(t.TempDir(), "widget.json")), nil, nil, clock.NewManual(published), snapshot.Config{})
	if _, err := publisher.Publish(context.Background(), snapshot.MetricsView{}, true); err != nil {
		t.Fatalf("publish: %v", err)
	}
	mirror := companion.New(nil, nil, nil, nil, companion.Config{})
	lister := &stubSessions{}
	s := New("phone", ":0", []string{"http://display.local"}, Companion(mirror, publisher), lister)

	rr, res := do(t, s, http.MethodPost, "/workout/stop", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("stop without a mirrored session: %d %+v", rr.Code, res)
	}

	rr, res = do(t, s, http.MethodPost, "/workout/start", `{"activity":"cycling"}`)
	if rr.Code != http.StatusOK || res.Result.Mode != "dropped" {
		t.Fatalf("start without a link: %d %+v", rr.Code, res)
	}

	rr, _ = do(t, s, http.MethodGet, "/session", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"phase":"idle"`) {
		t.Fatalf("unexpected session: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"snapshot_written_at":"2026-05-03T09:30:00Z"`) {
		t.Fatalf("session should report the last snapshot write: %s", rr.Body.String())
	}

	rr, _ = do(t, s, http.MethodGet, "/sessions?limit=5", "")
	if rr.Code != http.StatusOK || lister.limit != 5 || !strings.Contains(rr.Body.String(), `"session_id":"s1"`) {
		t.Fatalf("unexpected sessions: %d %s (limit %d)", rr.Code, rr.Body.String(), lister.limit)
	}

	rr, _ = do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rr.Code)
	}
}

func TestCommandsRequireTokenWhenConfigured(t *testing.T) {
	testlog.Start(t)

	mirror := companion.New(nil, nil, nil, nil, companion.Config{})
	s := New("phone", ":0", nil, Companion(mirror, nil), nil)
	s.RequireToken(auth.SharedToken("s3cret"))

	rr, _ := do(t, s, http.MethodPost, "/workout/start", `{"activity":"running"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/workout/start", strings.NewReader(`{"activity":"running"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the token, got %d body=%s", rec.Code, rec.Body.String())
	}

	rr, _ = do(t, s, http.MethodGet, "/session", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("reads should stay open, got %d", rr.Code)
	}
}
