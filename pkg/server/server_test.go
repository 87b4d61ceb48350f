package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tracelane/tracelane/internal/model"
	tlerrors "github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/export"
	"github.com/tracelane/tracelane/pkg/render"
	"github.com/tracelane/tracelane/pkg/timeline"
)

func sampleTrace() *model.Trace {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(job, name string, sec float64) model.EventRow {
		return model.EventRow{JobID: job, Name: name, Time: base.Add(time.Duration(sec * float64(time.Second)))}
	}
	desc := func(job, task string) model.JobDescriptor {
		return model.JobDescriptor{JobID: job, NodeName: "node-1", TaskType: task,
			WorkflowName: "montage", WorkflowSize: "0.25", WorkflowVersion: "1"}
	}
	return &model.Trace{
		Source: "test",
		Events: []model.EventRow{
			at("1", model.EventJobStart, 0), at("1", model.EventHandlerStart, 0), at("1", model.EventJobEnd, 10),
			at("2", model.EventJobStart, 2), at("2", model.EventHandlerStart, 5), at("2", model.EventJobEnd, 15),
			at("2", model.EventHandlerStart, 6),
		},
		Descriptors: []model.JobDescriptor{desc("1", "mProject"), desc("2", "mDiff")},
	}
}

// newTestServer returns a server whose analyzer counts its calls and fails
// when fail is set.
func newTestServer(t *testing.T, fail *atomic.Bool) (*Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	analyze := func(ctx context.Context) (*timeline.Result, error) {
		calls.Add(1)
		if fail != nil && fail.Load() {
			return nil, tlerrors.EmptyLog("events")
		}
		return timeline.Analyze(ctx, sampleTrace(), timeline.DefaultOptions())
	}
	return New(analyze, render.DefaultOptions(), nil), &calls
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := get(s, "/api/health")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected status 'ok', got %v", resp["status"])
	}
}

func TestServer_TimelineCachesResult(t *testing.T) {
	s, calls := newTestServer(t, nil)

	w := get(s, "/api/timeline")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var doc export.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if doc.Workflow.Stem() != "montage-0.25-1" || len(doc.Nodes) != 1 || doc.Nodes[0].Lanes != 2 {
		t.Errorf("Unexpected document: %+v", doc)
	}
	if len(doc.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", doc.Warnings)
	}

	get(s, "/api/timeline")
	if n := calls.Load(); n != 1 {
		t.Errorf("analyzer called %d times, want 1", n)
	}
	get(s, "/api/timeline?refresh=true")
	if n := calls.Load(); n != 2 {
		t.Errorf("analyzer called %d times after refresh, want 2", n)
	}

	if got := testutil.ToFloat64(s.Metrics().Runs.WithLabelValues("ok")); got != 2 {
		t.Errorf("runs{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.Metrics().Lanes); got != 2 {
		t.Errorf("lanes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.Metrics().Warnings.WithLabelValues("duplicate_handler_start")); got != 2 {
		t.Errorf("warnings = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.Metrics().Requests.WithLabelValues("timeline", "200")); got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
}

func TestServer_Chart(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := get(s, "/chart.svg?active=true")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/svg+xml" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "<svg") && !strings.HasPrefix(body, "<?xml") {
		t.Errorf("Body is not SVG: %.40s", body)
	}
	if !strings.Contains(body, "<polyline") {
		t.Error("active=true should draw the activity line")
	}
}

func TestServer_AnalysisFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	s, _ := newTestServer(t, &fail)

	w := get(s, "/api/timeline")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d", w.Code)
	}
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["code"] != string(tlerrors.CodeEmptyLog) {
		t.Errorf("code = %q", resp["code"])
	}
	if got := testutil.ToFloat64(s.Metrics().Runs.WithLabelValues("error")); got != 1 {
		t.Errorf("runs{error} = %v, want 1", got)
	}

	// A failed refresh keeps the previous result
	fail.Store(false)
	if _, err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	fail.Store(true)
	if _, err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Expected refresh error")
	}
	if s.Result() == nil {
		t.Error("Cached result dropped after failed refresh")
	}
}

func TestServer_RefreshMethod(t *testing.T) {
	s, _ := newTestServer(t, nil)

	if w := get(s, "/api/refresh"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/refresh = %d, want 405", w.Code)
	}

	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	var sum Summary
	if err := json.Unmarshal(w.Body.Bytes(), &sum); err != nil {
		t.Fatalf("Invalid JSON response: %v", err)
	}
	if sum.Lanes != 2 || sum.Peak != 2 || sum.Jobs != 2 {
		t.Errorf("Unexpected summary %+v", sum)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	get(s, "/api/timeline")

	w := get(s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	for _, name := range []string{"tracelane_analysis_runs_total", "tracelane_lanes", "tracelane_analysis_duration_seconds"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func TestServer_EventsStream(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ts := httptest.NewServer(s)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// Wait for the subscription before publishing
	for s.Broker().Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, err := s.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if sc.Text() == "event: timeline" {
			return
		}
	}
	t.Fatal("timeline event not received")
}
