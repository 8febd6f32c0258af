package alerting

import (
	"context"
	"log/slog"
)

// ConsoleAlerter writes alerts to the process log. Critical alerts log at
// error, high and warning at warn, the rest at info.
type ConsoleAlerter struct {
	logger *slog.Logger
}

// NewConsoleAlerter creates a console channel on logger.
func NewConsoleAlerter(logger *slog.Logger) *ConsoleAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleAlerter{logger: logger.With("component", "alert")}
}

func (c *ConsoleAlerter) Name() string { return "console" }

// Alert implements Alerter. It never fails.
func (c *ConsoleAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if !c.logger.Enabled(ctx, severity.level()) {
		return nil
	}
	args := append([]any{"severity", severity.String()}, fields...)
	c.logger.Log(ctx, severity.level(), "[ALERT] "+message, args...)
	return nil
}

// SendSummary logs the session summary as one info line.
func (c *ConsoleAlerter) SendSummary(ctx context.Context, s SessionSummary) error {
	c.logger.Log(ctx, slog.LevelInfo, "Session summary", s.Fields()...)
	return nil
}
