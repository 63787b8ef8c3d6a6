package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MinInterval is the shortest accepted "every" interval. Profile pages are
// rate limited, so sweeps never run more often than this.
const MinInterval = time.Minute

// Expression is a parsed schedule. Sweeps and webhook retries run on an
// interval counted from the end of the previous run; backups run once a day
// at a fixed wall-clock time.
type Expression struct {
	// Every is the interval; zero for daily expressions.
	Every time.Duration
	// Hour and Minute give the time of day for daily expressions.
	Hour, Minute int
}

// Daily reports whether the expression runs at a time of day.
func (e Expression) Daily() bool { return e.Every == 0 }

// String renders the expression in its canonical form.
func (e Expression) String() string {
	if e.Daily() {
		return fmt.Sprintf("daily at %02d:%02d", e.Hour, e.Minute)
	}
	switch {
	case e.Every%(24*time.Hour) == 0:
		return fmt.Sprintf("every %dd", e.Every/(24*time.Hour))
	case e.Every%time.Hour == 0:
		return fmt.Sprintf("every %dh", e.Every/time.Hour)
	default:
		return fmt.Sprintf("every %dm", e.Every/time.Minute)
	}
}

var intervalUnits = map[string]time.Duration{
	"m": time.Minute, "min": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
}

// ParseExpression accepts the schedule shapes of the configuration:
//
//	every 2m | every 30 minutes | every 6h | every 1d | hourly
//	daily at 03:00 | daily
func ParseExpression(expr string) (Expression, error) {
	fields := strings.Fields(strings.ToLower(expr))
	switch {
	case len(fields) == 1 && fields[0] == "hourly":
		return Expression{Every: time.Hour}, nil
	case len(fields) == 1 && fields[0] == "daily":
		return Expression{}, nil
	case len(fields) == 3 && fields[0] == "daily" && fields[1] == "at":
		return parseTimeOfDay(fields[2])
	case len(fields) >= 2 && len(fields) <= 3 && fields[0] == "every":
		return parseInterval(strings.Join(fields[1:], ""))
	}
	return Expression{}, fmt.Errorf("unrecognized schedule expression %q (want \"every 5m\" or \"daily at 03:00\")", expr)
}

// parseInterval parses "5m", "30minutes" or "1d".
func parseInterval(s string) (Expression, error) {
	digits := len(s) - len(strings.TrimLeft(s, "0123456789"))
	n, err := strconv.Atoi(s[:digits])
	unit, ok := intervalUnits[s[digits:]]
	if err != nil || !ok {
		return Expression{}, fmt.Errorf("invalid interval %q", s)
	}
	every := time.Duration(n) * unit
	if every < MinInterval {
		return Expression{}, fmt.Errorf("interval %q is shorter than one minute", s)
	}
	return Expression{Every: every}, nil
}

// parseTimeOfDay parses "HH:MM".
func parseTimeOfDay(s string) (Expression, error) {
	hh, mm, ok := strings.Cut(s, ":")
	hour, hErr := strconv.Atoi(hh)
	minute, mErr := strconv.Atoi(mm)
	if !ok || len(mm) != 2 || hErr != nil || mErr != nil ||
		hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Expression{}, fmt.Errorf("invalid time of day %q", s)
	}
	return Expression{Hour: hour, Minute: minute}, nil
}

// NextRun returns the first run strictly after from.
func (e Expression) NextRun(from time.Time) time.Time {
	if !e.Daily() {
		return from.Add(e.Every)
	}
	next := time.Date(from.Year(), from.Month(), from.Day(), e.Hour, e.Minute, 0, 0, from.Location())
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
