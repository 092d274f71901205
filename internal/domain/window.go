package domain

import "time"

// Window is the effective date range a sync must fetch from the provider.
// Skip means the cache already covers the requested range and no remote call
// may be made.
type Window struct {
	Start time.Time
	End   time.Time
	Skip  bool
}

// Day truncates a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ComputeWindow narrows the requested date range to the dates not yet known
// locally. The watermark is the most recent date already persisted for the
// user and kind, or nil when nothing is stored.
//
// With forceRefresh the requested range is returned verbatim: the caller has
// demanded fresh data for every day regardless of what is cached. Otherwise
// the start advances past the watermark, and when that leaves an empty range
// the window is marked Skip so the caller reports "already up to date"
// without spending rate-limit budget.
func ComputeWindow(requestedStart, requestedEnd time.Time, watermark *time.Time, forceRefresh bool) Window {
	start := Day(requestedStart)
	end := Day(requestedEnd)

	if forceRefresh {
		return Window{Start: start, End: end}
	}

	if watermark != nil {
		next := Day(*watermark).AddDate(0, 0, 1)
		if next.After(start) {
			start = next
		}
	}

	if start.After(end) {
		return Window{Start: start, End: end, Skip: true}
	}
	return Window{Start: start, End: end}
}
