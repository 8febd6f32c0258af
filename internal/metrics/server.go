package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
)

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Port         int
	MetricsPath  string
	HealthPath   string
	EventsPath   string
	PositionPath string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:         9090,
		MetricsPath:  "/metrics",
		HealthPath:   "/health",
		EventsPath:   "/events",
		PositionPath: "/position",
	}
}

// Status is the outcome of a health check. Statuses are ordered by severity.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
)

var byRank = [...]Status{StatusOK, StatusDegraded, StatusFailing}

// rank orders statuses. Unknown statuses count as failing.
func (s Status) rank() int {
	switch s {
	case StatusOK:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check is the result of one named health check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs a health check.
type HealthChecker func() Check

// HealthReport is the /health response body.
type HealthReport struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
}

// PositionSnapshot is the JSON form of a position view.
type PositionSnapshot struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	State         string `json:"state"`
	Side          string `json:"side,omitempty"`
	OpenQuantity  int64  `json:"open_quantity"`
	AvgEntryPrice string `json:"avg_entry_price,omitempty"`
	RealizedPnL   string `json:"realized_pnl"`
	Fees          string `json:"fees"`
	StopLoss      string `json:"stop_loss,omitempty"`
	TakeProfit    string `json:"take_profit,omitempty"`
	ExitReason    string `json:"exit_reason,omitempty"`
}

// NewPositionSnapshot flattens a view for the wire.
func NewPositionSnapshot(v position.PositionView) PositionSnapshot {
	s := PositionSnapshot{
		ID:           v.ID,
		Symbol:       v.Symbol,
		State:        v.State.String(),
		OpenQuantity: v.OpenQuantity,
		RealizedPnL:  v.RealizedPnL.String(),
		Fees:         v.Fees.String(),
	}
	if !v.IsFlat() {
		s.Side = v.Side.String()
		s.AvgEntryPrice = v.AvgEntryPrice.String()
	}
	if p, ok := v.ArmedStopLoss.Get(); ok {
		s.StopLoss = p.String()
	}
	if p, ok := v.ArmedTakeProfit.Get(); ok {
		s.TakeProfit = p.String()
	}
	if v.ExitReason != types.ExitReasonNone {
		s.ExitReason = v.ExitReason.String()
	}
	return s
}

// Server serves Prometheus metrics, health probes, the live event stream
// and the current position.
type Server struct {
	cfg       ServerConfig
	mux       *http.ServeMux
	srv       *http.Server
	startTime time.Time
	logger    *slog.Logger

	mu       sync.RWMutex
	checkers map[string]HealthChecker
	addr     net.Addr
}

// NewServer creates a metrics server. Nothing listens until Start.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
		logger:    logger.With("component", "metrics_server"),
		checkers:  make(map[string]HealthChecker),
	}
	s.mux.Handle(cfg.MetricsPath, promhttp.Handler())
	s.mux.HandleFunc(cfg.HealthPath, s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)
	s.mux.HandleFunc("/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("alive"))
	})

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// RegisterHealthCheck registers a named health check, replacing any check
// with the same name.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[name] = checker
}

// HandleEvents mounts the websocket event stream.
func (s *Server) HandleEvents(h *Hub) {
	s.mux.Handle(s.cfg.EventsPath, h)
}

// HandlePosition mounts a JSON endpoint serving view's current result.
func (s *Server) HandlePosition(view func() position.PositionView) {
	s.mux.HandleFunc(s.cfg.PositionPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, NewPositionSnapshot(view()))
	})
}

// Handler returns the server's request multiplexer.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start binds the listen address and serves in the background. Bind
// failures are returned; later serve errors are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("metrics server listening",
		"addr", ln.Addr().String(),
		"metrics_path", s.cfg.MetricsPath,
		"events_path", s.cfg.EventsPath,
		"position_path", s.cfg.PositionPath,
	)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.srv.Shutdown(ctx)
}

// Uptime returns the time since the server was created.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// runChecks runs every check and returns the worst status seen.
func (s *Server) runChecks() (Status, map[string]Check) {
	s.mu.RLock()
	checkers := make(map[string]HealthChecker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.mu.RUnlock()

	worst := StatusOK
	checks := make(map[string]Check, len(checkers))
	for name, checker := range checkers {
		c := checker()
		checks[name] = c
		if r := c.Status.rank(); r > worst.rank() {
			worst = byRank[r]
		}
	}
	return worst, checks
}

// handleHealth reports every check. Only a failing check turns the
// response into a 503.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, checks := s.runChecks()
	code := http.StatusOK
	if status == StatusFailing {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthReport{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    s.Uptime().Round(time.Second).String(),
		Checks:    checks,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if status, _ := s.runChecks(); status == StatusFailing {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	_, _ = w.Write([]byte("ready"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
