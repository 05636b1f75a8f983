// Package router selects the authoritative feed for a requested date
// window. It is a pure function over calendar arithmetic and never
// performs I/O; ambiguity always resolves to the broadest-coverage feed
// with the reason recorded in the rationale.
package router

import (
	"fmt"
	"time"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// Coverage windows, measured in days between the window end and today.
const (
	realTimeWindowDays = 3
	dailyWindowDays    = 30
	monthlyWindowDays  = 90
)

// Decision is the outcome of routing one date window.
type Decision struct {
	Kind      edgar.FeedKind
	Rationale string
	Start     time.Time
	End       time.Time
}

// Router picks a feed for a date window using an injected clock.
type Router struct {
	clock edgar.Clock
}

// New creates a Router.
func New(clock edgar.Clock) *Router {
	return &Router{clock: clock}
}

// Route decides which feed is authoritative for the window [start, end].
// Either bound may be empty. Partial dates (YYYY, YYYY-MM) are expanded to
// their first day as a start bound and last day as an end bound. Parse
// errors never propagate: the quarterly feed covers everything, so it is
// the safe fallback.
func (r *Router) Route(start, end string) Decision {
	today := dayTrunc(r.clock.Now())

	if start == "" && end == "" {
		return Decision{
			Kind:      edgar.FeedRealTime,
			Rationale: "most recent activity, no window constraint",
			End:       today,
		}
	}

	var startAt, endAt time.Time
	if start != "" {
		t, err := ParsePartialDate(start, StartBound)
		if err != nil {
			return Decision{
				Kind:      edgar.FeedQuarterly,
				Rationale: fmt.Sprintf("unparseable start date, falling back to full coverage: %v", err),
			}
		}
		startAt = t
	}
	endAt = today
	if end != "" {
		t, err := ParsePartialDate(end, EndBound)
		if err != nil {
			return Decision{
				Kind:      edgar.FeedQuarterly,
				Rationale: fmt.Sprintf("unparseable end date, falling back to full coverage: %v", err),
				Start:     startAt,
			}
		}
		endAt = t
	}

	age := int(today.Sub(dayTrunc(endAt)).Hours() / 24)
	d := Decision{Start: startAt, End: endAt}
	switch {
	case age <= realTimeWindowDays:
		d.Kind = edgar.FeedRealTime
		d.Rationale = fmt.Sprintf("window ends %d days ago, within real-time coverage", age)
	case age <= dailyWindowDays:
		d.Kind = edgar.FeedDaily
		d.Rationale = fmt.Sprintf("window ends %d days ago, within daily index coverage", age)
	case age <= monthlyWindowDays:
		d.Kind = edgar.FeedMonthly
		d.Rationale = fmt.Sprintf("window ends %d days ago, within monthly index coverage", age)
	default:
		d.Kind = edgar.FeedQuarterly
		d.Rationale = fmt.Sprintf("window ends %d days ago, only the quarterly index reaches that far", age)
	}
	return d
}
