// Package ops serves the operational HTTP surface of the Earshot daemon:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /statusz — JSON snapshot of the running pipeline.
//   - /metrics — Prometheus scrape endpoint.
//
// All routes run through the observe HTTP middleware so request latency is
// measured and W3C trace context is propagated.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot-ai/earshot/internal/observe"
)

// checkTimeout is the maximum time a single readiness check may take before
// its context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check should return nil when the
// dependency is healthy and a non-nil error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "database", "vad"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Status is the /statusz response body.
type Status struct {
	// State is the pipeline's current state name ("listening", "idle", ...).
	State string `json:"state"`

	// WakeWord is the active wake phrase identifier.
	WakeWord string `json:"wake_word"`

	// MCPServers lists connected MCP server names.
	MCPServers []string `json:"mcp_servers,omitempty"`
}

// StatusFunc produces a point-in-time [Status] snapshot.
type StatusFunc func() Status

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithCheckers registers readiness checks, evaluated in order on each
// /readyz request.
func WithCheckers(checkers ...Checker) Option {
	return func(s *Server) {
		s.checkers = append(s.checkers, checkers...)
	}
}

// WithStatus wires the /statusz snapshot source. Without it /statusz returns
// an empty object.
func WithStatus(fn StatusFunc) Option {
	return func(s *Server) {
		s.statusFn = fn
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics instance used by the HTTP middleware.
// Defaults to the package-level metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server is the ops HTTP server. Create with [NewServer], run with
// [Server.Run].
type Server struct {
	addr     string
	checkers []Checker
	statusFn StatusFunc
	metrics  *observe.Metrics
	logger   *slog.Logger
}

// NewServer creates an ops server that will listen on addr.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		addr:   addr,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler builds the ops route table wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("GET /readyz", s.readyz)
	mux.HandleFunc("GET /statusz", s.statusz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("ops server listening", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// readyz returns 200 only when every registered [Checker] passes. Each
// checker is given a context with a [checkTimeout] deadline derived from the
// request context.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.checkers))
	allOK := true

	for _, c := range s.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := probeResult{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// statusz reports the pipeline snapshot.
func (s *Server) statusz(w http.ResponseWriter, _ *http.Request) {
	var st Status
	if s.statusFn != nil {
		st = s.statusFn()
	}
	writeJSON(w, http.StatusOK, st)
}

// probeResult is the JSON response body for health endpoints.
type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
