package alerting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSeverity_Emoji(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "ℹ️"},
		{SeverityWarning, "⚠️"},
		{SeverityHigh, "🔴"},
		{SeverityCritical, "🚨"},
		{Severity(99), "❓"},
	}

	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			if got := tt.severity.Emoji(); got != tt.want {
				t.Errorf("Severity.Emoji() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{
			name:   "empty fields",
			fields: nil,
			want:   "",
		},
		{
			name:   "single field",
			fields: []any{"key", "value"},
			want:   "• key: value",
		},
		{
			name:   "multiple fields",
			fields: []any{"key1", "value1", "key2", 123},
			want:   "• key1: value1\n• key2: 123",
		},
		{
			name:   "odd number of fields",
			fields: []any{"key1", "value1", "orphan"},
			want:   "• key1: value1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  Severity
	}{
		{EventFlattenFailed, SeverityCritical},
		{EventRecoveryRequired, SeverityHigh},
		{EventDiagnosticError, SeverityHigh},
		{EventOrderRejected, SeverityWarning},
		{EventDiagnosticWarning, SeverityWarning},
		{EventPositionClosing, SeverityWarning},
		{EventPositionOpened, SeverityInfo},
		{EventTradeFinalized, SeverityInfo},
		{EventSessionSummary, SeverityInfo},
		{EventEngineStarted, SeverityInfo},
		{EventEngineStopped, SeverityInfo},
		{AlertEvent("unknown"), SeverityInfo},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			if got := EventSeverity(tt.event); got != tt.want {
				t.Errorf("EventSeverity(%s) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestMockAlerter(t *testing.T) {
	mock := NewMockAlerter()
	ctx := context.Background()

	if err := mock.Alert(ctx, SeverityInfo, "position opened", "position_id", "pos-1", "quantity", 2); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	last := mock.LastAlert()
	if last == nil || last.Message != "position opened" {
		t.Fatalf("last alert = %+v", last)
	}
	if v, ok := last.Field("quantity"); !ok || v != 2 {
		t.Errorf("quantity field = %v, %v", v, ok)
	}
	if _, ok := last.Field("missing"); ok {
		t.Error("did not expect a missing field")
	}
	if !mock.HasAlertContaining("opened") || mock.HasAlertContaining("closed") {
		t.Error("HasAlertContaining mismatch")
	}
	if !mock.HasAlertWithSeverity(SeverityInfo) || mock.HasAlertWithSeverity(SeverityCritical) {
		t.Error("HasAlertWithSeverity mismatch")
	}

	failure := errors.New("channel down")
	mock.SetError(failure)
	if err := mock.Alert(ctx, SeverityHigh, "recorded anyway"); !errors.Is(err, failure) {
		t.Errorf("Alert() error = %v, want %v", err, failure)
	}
	if mock.Count() != 2 {
		t.Errorf("expected failed send to be recorded, got %d alerts", mock.Count())
	}

	mock.Clear()
	if mock.Count() != 0 || len(mock.Summaries()) != 0 {
		t.Error("expected Clear to drop everything")
	}
}

func TestConsoleAlerter(t *testing.T) {
	alerter := NewConsoleAlerter(nil)

	if alerter.Name() != "console" {
		t.Errorf("expected name 'console', got %q", alerter.Name())
	}

	// Should not error
	err := alerter.Alert(context.Background(), SeverityInfo, "test")
	if err != nil {
		t.Errorf("Alert() error = %v", err)
	}
}

func TestMultiAlerter(t *testing.T) {
	mock1 := NewMockAlerter()
	mock2 := NewMockAlerter()

	multi := NewMultiAlerter(nil, mock1, mock2)

	if multi.Name() != "multi" {
		t.Errorf("expected name 'multi', got %q", multi.Name())
	}

	if err := multi.Alert(context.Background(), SeverityWarning, "broadcast"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if mock1.Count() != 1 || mock2.Count() != 1 {
		t.Errorf("expected both channels to receive, got %d and %d", mock1.Count(), mock2.Count())
	}
}

func TestMultiAlerter_SeverityFloor(t *testing.T) {
	all := NewMockAlerter()
	pager := NewMockAlerter()

	multi := NewMultiAlerter(nil, all)
	multi.AddAlerter(pager, SeverityHigh)
	if multi.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", multi.Len())
	}

	ctx := context.Background()
	_ = multi.Alert(ctx, SeverityWarning, "slippage over tolerance")
	_ = multi.AlertEvent(ctx, EventFlattenFailed, "flatten rejected")

	if all.Count() != 2 {
		t.Errorf("unfiltered channel got %d alerts, want 2", all.Count())
	}
	if pager.Count() != 1 {
		t.Fatalf("high-floor channel got %d alerts, want 1", pager.Count())
	}
	if last := pager.LastAlert(); last.Severity != SeverityCritical {
		t.Errorf("expected SeverityCritical, got %v", last.Severity)
	}
}

func TestMultiAlerter_JoinsErrors(t *testing.T) {
	ok := NewMockAlerter()
	broken := NewMockAlerter()
	failure := errors.New("channel down")
	broken.SetError(failure)

	multi := NewMultiAlerter(quietLogger(), ok, broken)
	err := multi.Alert(context.Background(), SeverityHigh, "recovery required")
	if !errors.Is(err, failure) {
		t.Fatalf("Alert() error = %v, want %v", err, failure)
	}
	if !strings.Contains(err.Error(), "mock: channel down") {
		t.Errorf("error should name the channel: %v", err)
	}
	if ok.Count() != 1 {
		t.Error("healthy channel should still receive the alert")
	}
}

func TestMultiAlerter_SendSummary(t *testing.T) {
	withLayout := NewMockAlerter()
	var buf bytes.Buffer
	// Hide the console's own summary layout to exercise the fallback.
	plain := struct{ Alerter }{NewConsoleAlerter(slog.New(slog.NewTextHandler(&buf, nil)))}

	multi := NewMultiAlerter(nil, withLayout)
	multi.AddAlerter(plain, SeverityCritical)

	s := SessionSummary{Symbol: "MES", TotalTrades: 3}
	if err := multi.SendSummary(context.Background(), s); err != nil {
		t.Fatalf("SendSummary() error = %v", err)
	}

	if got := withLayout.Summaries(); len(got) != 1 || got[0].TotalTrades != 3 {
		t.Errorf("summaries = %+v", got)
	}
	if withLayout.Count() != 0 {
		t.Error("summary sender should not also get a plain alert")
	}
	if !strings.Contains(buf.String(), "[ALERT] Session summary") {
		t.Errorf("plain channel should log the summary regardless of its floor: %q", buf.String())
	}
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{"": SeverityInfo, "warning": SeverityWarning, "high": SeverityHigh, "critical": SeverityCritical} {
		got, ok := ParseSeverity(in)
		if !ok || got != want {
			t.Errorf("ParseSeverity(%q) = %v, %v", in, got, ok)
		}
	}
	if got, ok := ParseSeverity("High"); !ok || got != SeverityHigh {
		t.Errorf("ParseSeverity should ignore case, got %v, %v", got, ok)
	}
	if _, ok := ParseSeverity("loud"); ok {
		t.Error("expected unknown severity to fail")
	}
}

func TestKnownEvents(t *testing.T) {
	if !IsKnownEvent("flatten_failed") || IsKnownEvent("all") || IsKnownEvent("pnl") {
		t.Error("IsKnownEvent mismatch")
	}

	names := KnownEvents()
	if len(names) != 11 {
		t.Fatalf("KnownEvents() = %d names, want 11", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("KnownEvents not sorted at %d: %v", i, names)
		}
	}
}

func TestConsoleAlerter_SendSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleAlerter(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := c.SendSummary(context.Background(), SessionSummary{Symbol: "MES", TotalTrades: 2}); err != nil {
		t.Fatalf("SendSummary() error = %v", err)
	}
	if out := buf.String(); !strings.Contains(out, "Session summary") || strings.Contains(out, "[ALERT]") {
		t.Errorf("summary line = %q", out)
	}
}

func TestConsoleAlerter_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	alerter := NewConsoleAlerter(logger)

	_ = alerter.Alert(context.Background(), SeverityInfo, "position opened")
	_ = alerter.Alert(context.Background(), SeverityCritical, "flatten rejected", "position_id", "pos-1")

	out := buf.String()
	if strings.Contains(out, "position opened") {
		t.Error("info alert should be below the handler level")
	}
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "position_id=pos-1") {
		t.Errorf("critical alert not logged at error: %q", out)
	}
}
