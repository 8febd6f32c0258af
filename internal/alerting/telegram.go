package alerting

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig holds configuration for Telegram alerter.
type TelegramConfig struct {
	BotToken string
	ChatID   int64
	Timeout  time.Duration
	// APIEndpoint overrides the Bot API URL format; empty uses the public
	// API.
	APIEndpoint string
}

var _ SummarySender = (*TelegramAlerter)(nil)

// TelegramAlerter sends alerts via Telegram.
type TelegramAlerter struct {
	cfg TelegramConfig
	bot *tgbotapi.BotAPI
	now func() time.Time
}

// NewTelegramAlerter creates a Telegram alerter. It calls getMe to verify
// the token.
func NewTelegramAlerter(cfg TelegramConfig) (*TelegramAlerter, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	return &TelegramAlerter{cfg: cfg, bot: bot, now: time.Now}, nil
}

// Name returns the name of the alerter.
func (t *TelegramAlerter) Name() string {
	return "telegram"
}

// Alert sends an alert via Telegram.
func (t *TelegramAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	return t.send(ctx, t.formatMessage(severity, message, fields...))
}

// SendSummary sends a formatted session summary.
func (t *TelegramAlerter) SendSummary(ctx context.Context, summary SessionSummary) error {
	return t.send(ctx, t.formatSummary(summary))
}

func (t *TelegramAlerter) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.cfg.ChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// formatMessage formats the alert message for Telegram.
func (t *TelegramAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	text := fmt.Sprintf("%s <b>[%s]</b>\n%s", severity.Emoji(), severity.String(), html.EscapeString(message))

	if len(fields) > 0 {
		fieldsStr := FormatFields(fields...)
		if fieldsStr != "" {
			text += "\n\n<b>Details:</b>\n" + html.EscapeString(fieldsStr)
		}
	}

	text += fmt.Sprintf("\n\n<i>%s</i>", t.now().Format("2006-01-02 15:04:05 MST"))

	return text
}

// formatSummary formats a session summary for Telegram.
func (t *TelegramAlerter) formatSummary(s SessionSummary) string {
	plEmoji := "📈"
	if s.NetPnL.IsNegative() {
		plEmoji = "📉"
	}

	return fmt.Sprintf(`%s <b>Session Summary</b>
<b>Date:</b> %s
<b>Symbol:</b> %s

<b>P&amp;L:</b>
• Gross: $%s
• Fees: $%s
• Net: $%s
• Slippage: $%s

<b>Trades:</b>
• Total: %d
• Wins: %d | Losses: %d
• Win Rate: %s%%

<b>Open position:</b> %s`,
		plEmoji,
		s.Date.Format("2006-01-02"),
		html.EscapeString(s.Symbol),
		s.GrossPnL.StringFixed(2),
		s.Fees.StringFixed(2),
		s.NetPnL.StringFixed(2),
		s.Slippage.StringFixed(2),
		s.TotalTrades,
		s.WinningTrades,
		s.LosingTrades,
		s.WinRate.StringFixed(1),
		yesNo(s.OpenPosition),
	)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
