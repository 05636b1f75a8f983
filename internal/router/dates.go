package router

import (
	"fmt"
	"strings"
	"time"
)

// Bound distinguishes how a partial date expands: a bare year or month
// becomes its first day as a start bound and its last day as an end bound.
type Bound int

// Bound values for ParsePartialDate.
const (
	StartBound Bound = iota
	EndBound
)

// ParsePartialDate accepts YYYY, YYYY-MM, or YYYY-MM-DD and expands the
// partial forms according to bound. All results are midnight UTC.
func ParsePartialDate(s string, bound Bound) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch strings.Count(s, "-") {
	case 0:
		t, err := time.Parse("2006", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse year %q: %w", s, err)
		}
		if bound == EndBound {
			return time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, time.UTC), nil
		}
		return t, nil
	case 1:
		t, err := time.Parse("2006-01", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse month %q: %w", s, err)
		}
		if bound == EndBound {
			return t.AddDate(0, 1, -1), nil
		}
		return t, nil
	case 2:
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("unrecognized date %q", s)
	}
}

// dayTrunc drops the time-of-day component so window arithmetic counts
// calendar days, not elapsed hours.
func dayTrunc(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
