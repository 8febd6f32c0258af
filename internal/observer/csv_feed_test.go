package observer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bars.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestParseCSV_Layouts(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"positional", "2024-01-02 09:30:00,5000.25,5010.50,4990,5005.75,1000\n"},
		{"named header", "timestamp,open,high,low,close,volume\n2024-01-02 09:30:00,5000.25,5010.50,4990,5005.75,1000\n"},
		{"reordered header", "Close,Open,Low,High,Volume,DateTime\n5005.75,5000.25,4990,5010.50,1000,2024-01-02 09:30:00\n"},
		{"split date and time", "Date,Time,Open,High,Low,Close\n2024-01-02,09:30:00,5000.25,5010.50,4990,5005.75\n"},
		{"comments and blank lines", "# exported bars\n\n2024-01-02 09:30:00,5000.25,5010.50,4990,5005.75\n"},
	}

	want := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseCSV(strings.NewReader(tt.data), "MES", nil)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if len(res.Events) != 1 || res.Skipped != 0 {
				t.Fatalf("events = %d skipped = %d, want 1/0", len(res.Events), res.Skipped)
			}

			bar := res.Events[0]
			if bar.Symbol != "MES" || !bar.Timestamp.Equal(want) {
				t.Errorf("bar = %s @ %s", bar.Symbol, bar.Timestamp)
			}
			if !bar.Open.Equal(decimal.RequireFromString("5000.25")) || !bar.High.Equal(decimal.RequireFromString("5010.5")) ||
				!bar.Low.Equal(decimal.NewFromInt(4990)) || !bar.Close.Equal(decimal.RequireFromString("5005.75")) {
				t.Errorf("ohlc = %s/%s/%s/%s", bar.Open, bar.High, bar.Low, bar.Close)
			}
		})
	}
}

func TestParseCSV_SkipsBadRows(t *testing.T) {
	data := `timestamp,open,high,low,close,volume
2024-01-02 09:30:00,invalid,5010,4990,5005,1000
2024-01-02 09:35:00,5005,5015,5000,5010,1200
2024-01-02 09:40:00,5005,5015
yesterday,5005,5015,5000,5010,1200
2024-01-02 09:45:00,5010,5020,5005,5015,n/a
`
	res, err := ParseCSV(strings.NewReader(data), "MES", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(res.Events) != 2 {
		t.Errorf("events = %d, want 2", len(res.Events))
	}
	if res.Events[1].Volume != 0 {
		t.Errorf("bad volume should read as 0, got %d", res.Events[1].Volume)
	}
	if res.Skipped != 3 || len(res.Errors) != 3 {
		t.Fatalf("skipped = %d errors = %d, want 3/3", res.Skipped, len(res.Errors))
	}

	lines := []int{res.Errors[0].Line, res.Errors[1].Line, res.Errors[2].Line}
	if lines[0] != 2 || lines[1] != 4 || lines[2] != 5 {
		t.Errorf("skipped lines = %v, want [2 4 5]", lines)
	}
	if !strings.Contains(res.Errors[0].Error(), "line 2: open") {
		t.Errorf("error = %q", res.Errors[0].Error())
	}
}

func TestParseCSV_KeepsFirstRowErrors(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 25; i++ {
		sb.WriteString("garbage,1,2,3,4\n")
	}

	res, err := ParseCSV(strings.NewReader(sb.String()), "MES", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 25 || len(res.Errors) != maxRowErrors {
		t.Errorf("skipped = %d errors = %d, want 25/%d", res.Skipped, len(res.Errors), maxRowErrors)
	}
}

func TestParseCSV_IncompleteHeader(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("timestamp,price\n2024-01-02 09:30:00,5000\n"), "MES", nil)
	if err == nil || !strings.Contains(err.Error(), "lacks a timestamp or price column") {
		t.Errorf("err = %v, want header error", err)
	}
}

func TestParseCSV_Empty(t *testing.T) {
	res, err := ParseCSV(strings.NewReader(""), "MES", nil)
	if err != nil || len(res.Events) != 0 || res.Skipped != 0 {
		t.Errorf("empty input: %+v %v", res, err)
	}
}

func TestParseTimestamp(t *testing.T) {
	chicago := time.FixedZone("CST", -6*60*60)

	tests := []struct {
		input string
		loc   *time.Location
		want  time.Time
	}{
		{"1704110400", chicago, time.Unix(1704110400, 0)},
		{"1704110400000", chicago, time.Unix(1704110400, 0)},
		{"2024-01-01T09:30:00Z", chicago, time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)},
		{"2024-01-01T09:30:00-06:00", time.UTC, time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC)},
		{"2024-01-15 15:00:00", chicago, time.Date(2024, 1, 15, 21, 0, 0, 0, time.UTC)},
		{"2024-01-15T15:00:00", time.UTC, time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)},
		{"20240115 15:00:00", time.UTC, time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)},
		{"01/15/2024 15:00", time.UTC, time.Date(2024, 1, 15, 15, 0, 0, 0, time.UTC)},
		{"2024-01-15", time.UTC, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseTimestamp(tt.input, tt.loc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.UTC(), tt.want.UTC())
			}
		})
	}

	if _, err := parseTimestamp("not-a-date", time.UTC); err == nil {
		t.Error("expected error for unrecognized timestamp")
	}
}

func TestCSVFeed_LoadAndSubscribe(t *testing.T) {
	path := writeCSV(t, `timestamp,open,high,low,close,volume
2024-01-02 09:30:00,5000,5010,4990,5005,1000
bad-row,1,2,3,4,5
2024-01-02 09:35:00,5005,5015,5000,5010,1200
`)
	feed := NewCSVFeed(path, "MES", nil)
	if feed.Name() != "csv" || feed.EventCount() != 0 {
		t.Fatalf("fresh feed: name %s count %d", feed.Name(), feed.EventCount())
	}

	if err := feed.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if feed.EventCount() != 2 || feed.Skipped() != 1 || len(feed.RowErrors()) != 1 {
		t.Errorf("count %d skipped %d errors %d, want 2/1/1", feed.EventCount(), feed.Skipped(), len(feed.RowErrors()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := feed.Subscribe(ctx, "MES")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := collect(t, ch); len(got) != 2 {
		t.Errorf("streamed %d bars, want 2", len(got))
	}

	other, err := feed.Subscribe(ctx, "MGC")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if got := collect(t, other); len(got) != 0 {
		t.Errorf("streamed %d bars for another symbol, want 0", len(got))
	}

	if err := feed.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if feed.EventCount() != 0 || feed.Skipped() != 0 || feed.RowErrors() != nil {
		t.Error("close should drop loaded bars")
	}
}

func TestCSVFeed_MissingFile(t *testing.T) {
	feed := NewCSVFeed(filepath.Join(t.TempDir(), "missing.csv"), "MES", nil)

	if _, err := feed.Subscribe(context.Background(), "MES"); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestCSVFeed_SubscribeCancelled(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString("2024-01-02 09:30:00,5000,5010,4990,5005,1000\n")
	}
	feed := NewCSVFeed(writeCSV(t, sb.String()), "MES", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := feed.Subscribe(ctx, "MES")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	received := 0
	for range ch {
		received++
		if received == 5 {
			cancel()
			break
		}
	}
	for range ch {
	}

	if received != 5 {
		t.Errorf("received %d before cancel, want 5", received)
	}
}
