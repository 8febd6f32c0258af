package alerting

import (
	"context"
	"strings"
	"sync"
)

// MockAlert is one captured alert.
type MockAlert struct {
	Severity Severity
	Message  string
	Fields   []any
}

// Field returns the value logged under key, if any.
func (a MockAlert) Field(key string) (any, bool) {
	for i := 0; i+1 < len(a.Fields); i += 2 {
		if k, ok := a.Fields[i].(string); ok && k == key {
			return a.Fields[i+1], true
		}
	}
	return nil, false
}

// MockAlerter records alerts and summaries in memory. A set error is
// returned from every send after recording.
type MockAlerter struct {
	mu        sync.Mutex
	alerts    []MockAlert
	summaries []SessionSummary
	err       error
}

// NewMockAlerter creates a mock alerter.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

// Name returns the name of the alerter.
func (m *MockAlerter) Name() string {
	return "mock"
}

// SetError makes subsequent sends fail with err. Nil restores success.
func (m *MockAlerter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Alert implements Alerter.
func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, fields ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, MockAlert{Severity: severity, Message: message, Fields: fields})
	return m.err
}

// SendSummary implements SummarySender.
func (m *MockAlerter) SendSummary(_ context.Context, s SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return m.err
}

// Alerts returns the captured alerts in order.
func (m *MockAlerter) Alerts() []MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockAlert(nil), m.alerts...)
}

// Summaries returns the captured session summaries.
func (m *MockAlerter) Summaries() []SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SessionSummary(nil), m.summaries...)
}

// Clear drops everything captured.
func (m *MockAlerter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = nil
	m.summaries = nil
}

// Count returns the number of captured alerts.
func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

func (m *MockAlerter) find(match func(MockAlert) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if match(a) {
			return true
		}
	}
	return false
}

// HasAlertWithSeverity reports whether an alert of severity was captured.
func (m *MockAlerter) HasAlertWithSeverity(severity Severity) bool {
	return m.find(func(a MockAlert) bool { return a.Severity == severity })
}

// HasAlertContaining reports whether a captured message contains substr.
func (m *MockAlerter) HasAlertContaining(substr string) bool {
	return m.find(func(a MockAlert) bool { return strings.Contains(a.Message, substr) })
}

// LastAlert returns the last captured alert, or nil.
func (m *MockAlerter) LastAlert() *MockAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.alerts) == 0 {
		return nil
	}
	last := m.alerts[len(m.alerts)-1]
	return &last
}
