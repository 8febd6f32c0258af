// Package session computes trading session boundaries.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zones on hosts without a system database

	"github.com/tathienbao/position-engine/internal/types"
)

// Calendar closes one session per day at a fixed wall-clock time in its
// location. Weekend days roll to the next weekday close.
type Calendar struct {
	Location *time.Location
	// Close is the daily session close as an offset from local midnight.
	Close time.Duration
	// Cutoff moves the effective session end earlier than the close, so
	// forced exits have time to work before the venue stops trading.
	Cutoff time.Duration
	// TradeWeekends disables the weekend roll.
	TradeWeekends bool
}

// NewCalendar builds a calendar from an IANA zone name and an "HH:MM" close.
func NewCalendar(zone, closeAt string, cutoff time.Duration) (*Calendar, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", types.ErrInvalidConfig, zone, err)
	}
	closeOffset, err := ParseClock(closeAt)
	if err != nil {
		return nil, err
	}
	if cutoff < 0 || cutoff >= 24*time.Hour {
		return nil, fmt.Errorf("%w: cutoff %s out of range", types.ErrInvalidConfig, cutoff)
	}
	return &Calendar{Location: loc, Close: closeOffset, Cutoff: cutoff}, nil
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: clock %q must be HH:MM", types.ErrInvalidConfig, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: clock %q has invalid hour", types.ErrInvalidConfig, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: clock %q has invalid minute", types.ErrInvalidConfig, s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// SessionEnd returns the first effective session end strictly after t.
func (c *Calendar) SessionEnd(t time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)

	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for i := 0; i < 8; i++ {
		end := c.endOn(day.AddDate(0, 0, i))
		if c.isTradingDay(end) && end.After(t) {
			return end
		}
	}
	// Unreachable for any valid calendar.
	return c.endOn(day.AddDate(0, 0, 1))
}

func (c *Calendar) endOn(day time.Time) time.Time {
	h := int(c.Close / time.Hour)
	m := int((c.Close % time.Hour) / time.Minute)
	at := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
	return at.Add(-c.Cutoff)
}

func (c *Calendar) isTradingDay(t time.Time) bool {
	if c.TradeWeekends {
		return true
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}
