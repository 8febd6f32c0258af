package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeBotAPI struct {
	mu       sync.Mutex
	texts    []string
	chatIDs  []string
	modes    []string
	failSend bool
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"posengine","username":"posengine_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.texts = append(f.texts, r.PostForm.Get("text"))
		f.chatIDs = append(f.chatIDs, r.PostForm.Get("chat_id"))
		f.modes = append(f.modes, r.PostForm.Get("parse_mode"))
		fail := f.failSend
		f.mu.Unlock()
		if fail {
			_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestTelegram(t *testing.T, api *fakeBotAPI) *TelegramAlerter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	t.Cleanup(srv.Close)

	alerter, err := NewTelegramAlerter(TelegramConfig{
		BotToken:    "123:abc",
		ChatID:      42,
		Timeout:     2 * time.Second,
		APIEndpoint: srv.URL + "/bot%s/%s",
	})
	if err != nil {
		t.Fatalf("NewTelegramAlerter() error = %v", err)
	}
	alerter.now = func() time.Time { return t0 }
	return alerter
}

func TestTelegramAlerter_Alert(t *testing.T) {
	api := &fakeBotAPI{}
	alerter := newTestTelegram(t, api)

	if alerter.Name() != "telegram" {
		t.Errorf("expected name 'telegram', got %q", alerter.Name())
	}

	err := alerter.Alert(context.Background(), SeverityCritical, "flatten <rejected>", "position_id", "pos-1")
	if err != nil {
		t.Fatalf("Alert() error = %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.texts) != 1 {
		t.Fatalf("expected 1 message, got %d", len(api.texts))
	}
	text := api.texts[0]
	if !strings.Contains(text, "<b>[CRITICAL]</b>") {
		t.Errorf("missing severity header: %q", text)
	}
	if !strings.Contains(text, "flatten &lt;rejected&gt;") {
		t.Errorf("message not escaped: %q", text)
	}
	if !strings.Contains(text, "• position_id: pos-1") {
		t.Errorf("missing fields: %q", text)
	}
	if !strings.Contains(text, "2024-01-15 14:00:00 UTC") {
		t.Errorf("missing timestamp: %q", text)
	}
	if api.chatIDs[0] != "42" {
		t.Errorf("chat_id = %q, want 42", api.chatIDs[0])
	}
	if api.modes[0] != "HTML" {
		t.Errorf("parse_mode = %q, want HTML", api.modes[0])
	}
}

func TestTelegramAlerter_APIError(t *testing.T) {
	api := &fakeBotAPI{failSend: true}
	alerter := newTestTelegram(t, api)

	err := alerter.Alert(context.Background(), SeverityInfo, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("error = %v", err)
	}
}

func TestTelegramAlerter_CanceledContext(t *testing.T) {
	api := &fakeBotAPI{}
	alerter := newTestTelegram(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := alerter.Alert(ctx, SeverityInfo, "hello"); err == nil {
		t.Fatal("expected context error")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.texts) != 0 {
		t.Errorf("expected no message, got %d", len(api.texts))
	}
}

func TestTelegramAlerter_SendSummary(t *testing.T) {
	api := &fakeBotAPI{}
	alerter := newTestTelegram(t, api)

	summary := SessionSummary{
		Date:          t0,
		Symbol:        "MES",
		TotalTrades:   3,
		WinningTrades: 1,
		LosingTrades:  2,
		WinRate:       decimal.RequireFromString("33.333"),
		NetPnL:        decimal.RequireFromString("-12.5"),
	}
	if err := alerter.SendSummary(context.Background(), summary); err != nil {
		t.Fatalf("SendSummary() error = %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	text := api.texts[0]
	for _, want := range []string{"📉", "Net: $-12.50", "Win Rate: 33.3%", "Wins: 1 | Losses: 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q: %q", want, text)
		}
	}
}

func TestTelegramAlerter_BadToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
	}))
	defer srv.Close()

	_, err := NewTelegramAlerter(TelegramConfig{BotToken: "bad", ChatID: 1, APIEndpoint: srv.URL + "/bot%s/%s"})
	if err == nil {
		t.Fatal("expected error for rejected token")
	}
}
