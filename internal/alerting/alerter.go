// Package alerting routes position diagnostics and lifecycle events to
// operator notification channels.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Severity ranks alerts. Channels drop alerts below their floor.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityHigh
	// SeverityCritical means the position may hold unmanaged exposure.
	SeverityCritical
)

type severityInfo struct {
	name  string
	emoji string
	level slog.Level
}

var severities = [...]severityInfo{
	SeverityInfo:     {"INFO", "ℹ️", slog.LevelInfo},
	SeverityWarning:  {"WARNING", "⚠️", slog.LevelWarn},
	SeverityHigh:     {"HIGH", "🔴", slog.LevelWarn},
	SeverityCritical: {"CRITICAL", "🚨", slog.LevelError},
}

func (s Severity) info() (severityInfo, bool) {
	if s < 0 || int(s) >= len(severities) {
		return severityInfo{"UNKNOWN", "❓", slog.LevelInfo}, false
	}
	return severities[s], true
}

func (s Severity) String() string {
	i, _ := s.info()
	return i.name
}

// Emoji returns the marker chat channels prefix messages with.
func (s Severity) Emoji() string {
	i, _ := s.info()
	return i.emoji
}

func (s Severity) level() slog.Level {
	i, _ := s.info()
	return i.level
}

// ParseSeverity parses a configured severity name, case-insensitively.
// An empty name is info.
func ParseSeverity(name string) (Severity, bool) {
	if name == "" {
		return SeverityInfo, true
	}
	for s, i := range severities {
		if strings.EqualFold(name, i.name) {
			return Severity(s), true
		}
	}
	return SeverityInfo, false
}

// Alerter delivers alerts to one channel.
type Alerter interface {
	// Alert sends message with slog-style key/value fields.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	Name() string
}

// FormatFields renders key/value pairs one per line for chat channels.
// Pairs with a non-string key and a trailing lone key are dropped.
func FormatFields(fields ...any) string {
	var sb strings.Builder
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "• %s: %v", key, fields[i+1])
	}
	return sb.String()
}

// AlertEvent names something worth telling an operator about. Config
// enables events by these names.
type AlertEvent string

const (
	// EventFlattenFailed: the venue refused a flatten and exposure remains.
	EventFlattenFailed AlertEvent = "flatten_failed"
	// EventRecoveryRequired: a previous run left positions or orders behind.
	EventRecoveryRequired  AlertEvent = "recovery_required"
	EventDiagnosticError   AlertEvent = "diagnostic_error"
	EventOrderRejected     AlertEvent = "order_rejected"
	EventDiagnosticWarning AlertEvent = "diagnostic_warning"
	EventPositionOpened    AlertEvent = "position_opened"
	// EventPositionClosing: a forced liquidation started.
	EventPositionClosing AlertEvent = "position_closing"
	EventTradeFinalized  AlertEvent = "trade_finalized"
	EventSessionSummary  AlertEvent = "session_summary"
	EventEngineStarted   AlertEvent = "engine_started"
	EventEngineStopped   AlertEvent = "engine_stopped"
)

var catalog = map[AlertEvent]Severity{
	EventFlattenFailed:     SeverityCritical,
	EventRecoveryRequired:  SeverityHigh,
	EventDiagnosticError:   SeverityHigh,
	EventOrderRejected:     SeverityWarning,
	EventDiagnosticWarning: SeverityWarning,
	EventPositionClosing:   SeverityWarning,
	EventPositionOpened:    SeverityInfo,
	EventTradeFinalized:    SeverityInfo,
	EventSessionSummary:    SeverityInfo,
	EventEngineStarted:     SeverityInfo,
	EventEngineStopped:     SeverityInfo,
}

// EventSeverity returns the severity an event is sent at. Unknown events
// are info.
func EventSeverity(event AlertEvent) Severity {
	return catalog[event]
}

// IsKnownEvent reports whether name is a defined event.
func IsKnownEvent(name string) bool {
	_, ok := catalog[AlertEvent(name)]
	return ok
}

// KnownEvents lists every defined event name, sorted.
func KnownEvents() []string {
	out := make([]string, 0, len(catalog))
	for e := range catalog {
		out = append(out, string(e))
	}
	sort.Strings(out)
	return out
}
