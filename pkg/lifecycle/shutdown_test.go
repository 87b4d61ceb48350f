package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestShutdownManager_RejectsWhileDraining(t *testing.T) {
	m := NewShutdownManager(time.Second)
	if !m.IsHealthy() {
		t.Fatal("New manager should be healthy")
	}

	if !m.StartRequest() {
		t.Fatal("StartRequest rejected before shutdown")
	}

	done := make(chan error, 1)
	go func() { done <- m.Shutdown(context.Background()) }()

	// Wait for draining to begin
	deadline := time.Now().Add(time.Second)
	for m.IsHealthy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.StartRequest() {
		t.Error("StartRequest accepted while draining")
	}

	m.EndRequest()
	if err := <-done; err != nil {
		t.Errorf("Shutdown returned %v", err)
	}
	select {
	case <-m.Done():
	default:
		t.Error("Done not closed after shutdown")
	}
}

func TestShutdownManager_ClosersInReverse(t *testing.T) {
	m := NewShutdownManager(0)
	var order []int
	m.RegisterCloser(CloserFunc(func() error { order = append(order, 1); return nil }))
	m.RegisterCloser(CloserFunc(func() error { order = append(order, 2); return errors.New("boom") }))

	err := m.Shutdown(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Errorf("Shutdown error = %v, want boom", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("close order = %v, want [2 1]", order)
	}
	if err := m.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}

func TestShutdownManager_DrainTimeout(t *testing.T) {
	m := NewShutdownManager(10 * time.Millisecond)
	m.StartRequest()
	if err := m.Shutdown(context.Background()); err == nil {
		t.Error("Expected drain timeout error")
	}
}

func TestMiddleware(t *testing.T) {
	m := NewShutdownManager(time.Second)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.InFlightCount() != 1 {
			t.Errorf("in-flight = %d inside handler", m.InFlightCount())
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}

	m.Shutdown(context.Background())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status while draining = %d, want 503", rec.Code)
	}
}
