package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// SummarySender is implemented by channels with their own session summary
// layout.
type SummarySender interface {
	SendSummary(ctx context.Context, summary SessionSummary) error
}

// route is one channel and the lowest severity it receives.
type route struct {
	alerter Alerter
	min     Severity
}

// MultiAlerter fans alerts out to several channels concurrently. Each
// channel has its own severity floor.
type MultiAlerter struct {
	mu     sync.RWMutex
	routes []route
	logger *slog.Logger
}

// NewMultiAlerter creates a multi-channel alerter. The given channels
// receive every severity.
func NewMultiAlerter(logger *slog.Logger, alerters ...Alerter) *MultiAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MultiAlerter{logger: logger}
	for _, a := range alerters {
		m.routes = append(m.routes, route{alerter: a, min: SeverityInfo})
	}
	return m
}

// Name returns the name of the alerter.
func (m *MultiAlerter) Name() string {
	return "multi"
}

// AddAlerter adds a channel that only receives alerts at or above min.
func (m *MultiAlerter) AddAlerter(alerter Alerter, min Severity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{alerter: alerter, min: min})
}

// Len returns the number of channels.
func (m *MultiAlerter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.routes)
}

func (m *MultiAlerter) snapshot() []route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]route, len(m.routes))
	copy(out, m.routes)
	return out
}

// fanOut runs send on every channel concurrently and joins the failures.
func (m *MultiAlerter) fanOut(routes []route, send func(Alerter) error) error {
	if len(routes) == 0 {
		return nil
	}

	errCh := make(chan error, len(routes))
	var wg sync.WaitGroup
	for _, r := range routes {
		wg.Add(1)
		go func(a Alerter) {
			defer wg.Done()
			if err := send(a); err != nil {
				errCh <- fmt.Errorf("%s: %w", a.Name(), err)
			}
		}(r.alerter)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		m.logger.Error("alerter failed", "error", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Alert sends an alert to every channel whose floor it reaches.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	var targets []route
	for _, r := range m.snapshot() {
		if severity >= r.min {
			targets = append(targets, r)
		}
	}
	return m.fanOut(targets, func(a Alerter) error {
		return a.Alert(ctx, severity, message, fields...)
	})
}

// AlertEvent sends an alert for a predefined event type.
func (m *MultiAlerter) AlertEvent(ctx context.Context, event AlertEvent, message string, fields ...any) error {
	return m.Alert(ctx, EventSeverity(event), message, fields...)
}

// SendSummary delivers a session summary to every channel regardless of
// its floor. Channels without a summary layout get a plain info alert.
func (m *MultiAlerter) SendSummary(ctx context.Context, s SessionSummary) error {
	return m.fanOut(m.snapshot(), func(a Alerter) error {
		if sender, ok := a.(SummarySender); ok {
			return sender.SendSummary(ctx, s)
		}
		return a.Alert(ctx, SeverityInfo, "Session summary", s.Fields()...)
	})
}
