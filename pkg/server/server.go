// Package server serves the lane chart and analysis of one trace over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tracelane/tracelane/pkg/export"
	tlerrors "github.com/tracelane/tracelane/pkg/errors"
	"github.com/tracelane/tracelane/pkg/lifecycle"
	"github.com/tracelane/tracelane/pkg/render"
	"github.com/tracelane/tracelane/pkg/timeline"
)

// Analyzer loads and analyses the served trace.
type Analyzer func(ctx context.Context) (*timeline.Result, error)

// Server handles HTTP requests for one trace source.
type Server struct {
	analyze  Analyzer
	chart    render.Options
	metrics  *Metrics
	broker   *Broker
	shutdown *lifecycle.ShutdownManager
	mux      *http.ServeMux

	refreshMu sync.Mutex // serialises analyses
	mu        sync.RWMutex
	result    *timeline.Result
}

// Summary is the compact form of a result pushed to SSE clients.
type Summary struct {
	RunID    string  `json:"run_id"`
	Workflow string  `json:"workflow"`
	Jobs     int     `json:"jobs"`
	Lanes    int     `json:"lanes"`
	Peak     int     `json:"peak"`
	PeakAt   float64 `json:"peak_at"`
	Warnings int     `json:"warnings"`
}

func summarize(res *timeline.Result) Summary {
	peak := res.Peak()
	return Summary{
		RunID:    res.RunID,
		Workflow: res.Workflow.Stem(),
		Jobs:     len(res.Jobs),
		Lanes:    res.LaneCount(),
		Peak:     peak.Active,
		PeakAt:   peak.Offset,
		Warnings: len(res.Warnings),
	}
}

// New creates a server. Metrics are registered on reg, or on a fresh
// registry when reg is nil.
func New(analyze Analyzer, chart render.Options, reg *prometheus.Registry) *Server {
	s := &Server{
		analyze:  analyze,
		chart:    chart,
		metrics:  NewMetrics(reg),
		broker:   NewBroker(),
		shutdown: lifecycle.NewShutdownManager(10 * time.Second),
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.instrument("health", s.handleHealth))
	s.mux.HandleFunc("/api/timeline", s.instrument("timeline", s.handleTimeline))
	s.mux.HandleFunc("/api/refresh", s.instrument("refresh", s.handleRefresh))
	s.mux.HandleFunc("/chart.svg", s.instrument("chart", s.handleChart))
	s.mux.HandleFunc("/api/events", s.broker.Handler(s.initialEvent))
	s.mux.Handle("/metrics", s.metrics.Handler())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.shutdown.Middleware(s.mux).ServeHTTP(w, r)
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Broker returns the SSE broker.
func (s *Server) Broker() *Broker { return s.broker }

// Result returns the latest successful analysis, or nil.
func (s *Server) Result() *timeline.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Refresh re-runs the analysis. On success the result replaces the cached
// one and is announced to SSE clients; on failure the cache is kept.
func (s *Server) Refresh(ctx context.Context) (*timeline.Result, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	start := time.Now()
	res, err := s.analyze(ctx)
	s.metrics.ObserveRun(res, err, time.Since(start))
	if err != nil {
		s.broker.Publish("error", map[string]string{"error": err.Error(), "code": string(tlerrors.GetCode(err))})
		return nil, err
	}

	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	s.broker.Publish("timeline", summarize(res))
	return res, nil
}

// current returns the cached result, analysing on first use or when the
// request asks for a refresh.
func (s *Server) current(r *http.Request) (*timeline.Result, error) {
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); !refresh {
		if res := s.Result(); res != nil {
			return res, nil
		}
	}
	return s.Refresh(r.Context())
}

func (s *Server) initialEvent() *Event {
	res := s.Result()
	if res == nil {
		return nil
	}
	return &Event{Event: "timeline", Data: summarize(res)}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if res := s.Result(); res != nil {
		resp["run_id"] = res.RunID
		resp["workflow"] = res.Workflow.Stem()
	}
	jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.current(r)
	if err != nil {
		analysisError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, export.NewDocument(res))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	res, err := s.Refresh(r.Context())
	if err != nil {
		analysisError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, summarize(res))
}

// handleChart renders the SVG. Query flags active and full override the
// configured chart options.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	res, err := s.current(r)
	if err != nil {
		analysisError(w, err)
		return
	}

	opts := s.chart
	q := r.URL.Query()
	if v, err := strconv.ParseBool(q.Get("active")); err == nil {
		opts.ShowActive = v
	}
	if v, err := strconv.ParseBool(q.Get("full")); err == nil {
		opts.FullNames = v
	}

	data, err := render.RenderBytes(res, opts)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Write(data)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.shutdown.RegisterCloser(lifecycle.CloserFunc(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := s.shutdown.Shutdown(context.Background()); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// statusFor maps an analysis error to an HTTP status.
func statusFor(err error) int {
	switch {
	case tlerrors.IsCode(err, tlerrors.CodeFileNotFound):
		return http.StatusNotFound
	case tlerrors.IsFatal(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func analysisError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(err))
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(tlerrors.GetCode(err)),
	})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}

// Helper functions

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, status, map[string]string{"error": message})
}
