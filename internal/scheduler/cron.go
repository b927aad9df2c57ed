package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidCron is returned for expressions the parser rejects.
	ErrInvalidCron = errors.New("invalid cron expression")
	// ErrInvalidTimezone is returned for unknown IANA zone names.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// Five fields (minute hour day-of-month month day-of-week) plus descriptors
// such as @daily or @every 1h.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron reports whether expr is a valid cron expression.
func ValidateCron(expr string) bool {
	_, err := parser.Parse(strings.TrimSpace(expr))
	return err == nil
}

// LoadLocation resolves a zone name; empty means UTC.
func LoadLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return loc, nil
}

// ParseCron parses expr for the zone tz.
func ParseCron(expr, tz string) (cron.Schedule, *time.Location, error) {
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, expr, err)
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return nil, nil, err
	}
	return sched, loc, nil
}

// NextFires returns the next n fire times after from.
func NextFires(expr, tz string, from time.Time, n int) ([]time.Time, error) {
	sched, loc, err := ParseCron(expr, tz)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from.In(loc)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out, nil
}

// latestFire returns the most recent fire time in (anchor, now]. ok is false
// when no fire time falls in that range.
func latestFire(sched cron.Schedule, anchor, now time.Time) (time.Time, bool) {
	first := sched.Next(anchor)
	if first.IsZero() || first.After(now) {
		return time.Time{}, false
	}
	// Search back from now with a growing window so long gaps stay cheap.
	for w := time.Minute; ; w *= 2 {
		from := now.Add(-w)
		if !from.After(anchor) {
			from = anchor
		}
		f := sched.Next(from)
		if !f.IsZero() && !f.After(now) {
			for {
				n := sched.Next(f)
				if n.IsZero() || n.After(now) {
					return f, true
				}
				f = n
			}
		}
		if from.Equal(anchor) {
			return first, true
		}
	}
}

// PreviousFire returns the latest fire time at or before now, looking back at
// most a year. ok is false when the expression did not fire in that year.
func PreviousFire(expr, tz string, now time.Time) (t time.Time, ok bool, err error) {
	sched, loc, err := ParseCron(expr, tz)
	if err != nil {
		return time.Time{}, false, err
	}
	now = now.In(loc)
	t, ok = latestFire(sched, now.AddDate(-1, 0, 0), now)
	return t, ok, nil
}
