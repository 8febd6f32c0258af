package observer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/types"
)

// maxRowErrors bounds how many skipped-row details a parse keeps.
const maxRowErrors = 10

// CSVFeed replays bars recorded in a CSV file. The file is read once, on
// Load or the first Subscribe.
type CSVFeed struct {
	filePath string
	symbol   string
	location *time.Location

	parsed *ParseResult
}

// NewCSVFeed creates a feed over filePath. Timestamps without a zone are
// read in loc (UTC when nil).
func NewCSVFeed(filePath, symbol string, loc *time.Location) *CSVFeed {
	if loc == nil {
		loc = time.UTC
	}
	return &CSVFeed{filePath: filePath, symbol: symbol, location: loc}
}

// Name returns the feed identifier.
func (f *CSVFeed) Name() string { return "csv" }

// Load reads and parses the file. Repeated calls are no-ops.
func (f *CSVFeed) Load() error {
	if f.parsed != nil {
		return nil
	}
	file, err := os.Open(f.filePath)
	if err != nil {
		return fmt.Errorf("open bars: %w", err)
	}
	defer file.Close()

	res, err := ParseCSV(file, f.symbol, f.location)
	if err != nil {
		return fmt.Errorf("parse %s: %w", f.filePath, err)
	}
	f.parsed = &res
	return nil
}

// Subscribe streams the file's bars for symbol. The channel closes after
// the last bar or when ctx is cancelled.
func (f *CSVFeed) Subscribe(ctx context.Context, symbol string) (<-chan types.MarketEvent, error) {
	if err := f.Load(); err != nil {
		return nil, err
	}
	return stream(ctx, f.parsed.Events, symbol, 100), nil
}

// Close drops the loaded bars. A later Subscribe reads the file again.
func (f *CSVFeed) Close() error {
	f.parsed = nil
	return nil
}

// EventCount returns the number of loaded bars.
func (f *CSVFeed) EventCount() int {
	if f.parsed == nil {
		return 0
	}
	return len(f.parsed.Events)
}

// Skipped returns how many rows could not be parsed.
func (f *CSVFeed) Skipped() int {
	if f.parsed == nil {
		return 0
	}
	return f.parsed.Skipped
}

// RowErrors returns details for the first skipped rows.
func (f *CSVFeed) RowErrors() []RowError {
	if f.parsed == nil {
		return nil
	}
	return f.parsed.Errors
}

// RowError describes a skipped row.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// ParseResult is the outcome of ParseCSV.
type ParseResult struct {
	Events  []types.MarketEvent
	Skipped int
	Errors  []RowError // at most maxRowErrors
}

func (r *ParseResult) skip(line int, err error) {
	r.Skipped++
	if len(r.Errors) < maxRowErrors {
		r.Errors = append(r.Errors, RowError{Line: line, Err: err})
	}
}

// layout maps bar fields to column indexes. A timestamp split over date and
// time columns has clock >= 0.
type layout struct {
	stamp, clock           int
	open, high, low, close int
	volume                 int
}

var positional = layout{stamp: 0, clock: -1, open: 1, high: 2, low: 3, close: 4, volume: 5}

var errNoHeader = errors.New("not a header")

// headerLayout builds a layout from a header row. Column names are matched
// case-insensitively; a separate "time" column next to "date" is joined.
func headerLayout(record []string) (layout, error) {
	idx := make(map[string]int, len(record))
	for i, name := range record {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	col := func(names ...string) int {
		for _, n := range names {
			if i, ok := idx[n]; ok {
				return i
			}
		}
		return -1
	}

	l := layout{
		stamp:  col("timestamp", "datetime", "date_time"),
		clock:  -1,
		open:   col("open", "o"),
		high:   col("high", "h"),
		low:    col("low", "l"),
		close:  col("close", "c", "last"),
		volume: col("volume", "vol", "v"),
	}
	if l.stamp < 0 {
		date, clock := col("date", "day"), col("time")
		switch {
		case date >= 0 && clock >= 0:
			l.stamp, l.clock = date, clock
		case date >= 0:
			l.stamp = date
		default:
			l.stamp = clock
		}
	}
	if l.stamp < 0 && l.open < 0 {
		return positional, errNoHeader
	}
	if l.stamp < 0 || l.open < 0 || l.high < 0 || l.low < 0 || l.close < 0 {
		return positional, fmt.Errorf("header %v lacks a timestamp or price column", record)
	}
	return l, nil
}

func (l layout) width() int {
	w := 0
	for _, i := range []int{l.stamp, l.clock, l.open, l.high, l.low, l.close} {
		if i+1 > w {
			w = i + 1
		}
	}
	return w
}

// ParseCSV reads bars from r. An optional header row names the columns;
// without one the order is timestamp,open,high,low,close[,volume]. Rows
// that cannot be parsed are skipped and counted. Only a malformed header
// or unreadable input fails the parse.
func ParseCSV(r io.Reader, symbol string, loc *time.Location) (ParseResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var res ParseResult
	cols := positional
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		line, _ := reader.FieldPos(0)

		if first {
			first = false
			l, herr := headerLayout(record)
			switch {
			case herr == nil:
				cols = l
				continue
			case !errors.Is(herr, errNoHeader):
				return res, herr
			}
		}

		if len(record) < cols.width() {
			res.skip(line, fmt.Errorf("%d fields, want %d", len(record), cols.width()))
			continue
		}
		bar, err := cols.parse(record, symbol, loc)
		if err != nil {
			res.skip(line, err)
			continue
		}
		res.Events = append(res.Events, bar)
	}
}

func (l layout) parse(record []string, symbol string, loc *time.Location) (types.MarketEvent, error) {
	bar := types.MarketEvent{Symbol: symbol}

	stamp := record[l.stamp]
	if l.clock >= 0 {
		stamp += " " + record[l.clock]
	}
	ts, err := parseTimestamp(stamp, loc)
	if err != nil {
		return bar, err
	}
	bar.Timestamp = ts

	prices := []struct {
		name string
		col  int
		dst  *decimal.Decimal
	}{
		{"open", l.open, &bar.Open},
		{"high", l.high, &bar.High},
		{"low", l.low, &bar.Low},
		{"close", l.close, &bar.Close},
	}
	for _, p := range prices {
		v, err := decimal.NewFromString(strings.TrimSpace(record[p.col]))
		if err != nil {
			return bar, fmt.Errorf("%s %q: %w", p.name, record[p.col], err)
		}
		*p.dst = v
	}

	// Volume is informational; a bad value leaves it zero.
	if l.volume >= 0 && l.volume < len(record) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(record[l.volume]), 64); err == nil && v >= 0 {
			bar.Volume = int64(v)
		}
	}
	return bar, nil
}

var stampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"20060102 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// parseTimestamp accepts unix seconds or milliseconds, RFC 3339, and the
// zone-less layouts above, which are read in loc.
func parseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e11 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range stampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
