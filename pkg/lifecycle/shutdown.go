// Package lifecycle provides graceful shutdown and lifecycle management.
// Ensures in-flight requests complete before shutdown.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownManager manages graceful shutdown of services.
type ShutdownManager struct {
	mu sync.Mutex

	drainTimeout time.Duration

	healthy    bool
	draining   bool
	shutdownAt time.Time

	inFlight      sync.WaitGroup
	inFlightCount int64

	// Services to close
	closers []Closer

	done chan struct{}
}

// Closer interface for services that need cleanup.
type Closer interface {
	Close() error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error { return f() }

// NewShutdownManager creates a new shutdown manager. A zero drainTimeout
// defaults to 30 seconds.
func NewShutdownManager(drainTimeout time.Duration) *ShutdownManager {
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &ShutdownManager{
		drainTimeout: drainTimeout,
		healthy:      true,
		done:         make(chan struct{}),
	}
}

// RegisterCloser adds a service to be closed during shutdown.
func (m *ShutdownManager) RegisterCloser(c Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

// StartRequest marks the start of an in-flight request.
// Returns false if we're draining and the request should be rejected.
func (m *ShutdownManager) StartRequest() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return false
	}
	m.inFlightCount++
	m.inFlight.Add(1)
	return true
}

// EndRequest marks the end of an in-flight request.
func (m *ShutdownManager) EndRequest() {
	m.mu.Lock()
	m.inFlightCount--
	m.mu.Unlock()
	m.inFlight.Done()
}

// InFlightCount returns the number of in-flight requests.
func (m *ShutdownManager) InFlightCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlightCount
}

// IsHealthy returns whether the service is healthy.
func (m *ShutdownManager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy && !m.draining
}

// SetHealthy marks the service healthy or not.
func (m *ShutdownManager) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

// Shutdown stops accepting requests, waits for in-flight ones up to the
// drain timeout and closes the registered services in reverse order.
func (m *ShutdownManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil // Already shutting down
	}
	m.draining = true
	m.shutdownAt = time.Now()
	closers := append([]Closer(nil), m.closers...)
	m.mu.Unlock()

	drainDone := make(chan struct{})
	go func() {
		m.inFlight.Wait()
		close(drainDone)
	}()

	var errs []error
	select {
	case <-drainDone:
	case <-time.After(m.drainTimeout):
		errs = append(errs, fmt.Errorf("drain timeout with %d in-flight requests", m.InFlightCount()))
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	close(m.done)
	return errors.Join(errs...)
}

// Done is closed once shutdown has finished.
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// Middleware tracks requests and rejects new ones with 503 while draining.
func (m *ShutdownManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.StartRequest() {
			w.Header().Set("Connection", "close")
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer m.EndRequest()
		next.ServeHTTP(w, r)
	})
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
