// Package freshness decides whether a timestamped data stream is fresh
// enough to act on. It is pure: no I/O, no wall clock unless the caller
// omits one.
//
// Freshness is the first gate consulted before any execution decision:
// a stale or missing market-data timestamp rejects the proposal outright.
package freshness

import (
	"fmt"
	"time"
)

// ReasonCode classifies the outcome of a freshness check.
type ReasonCode string

const (
	ReasonFresh            ReasonCode = "FRESH"
	ReasonStaleData        ReasonCode = "STALE_DATA"
	ReasonMissingTimestamp ReasonCode = "MISSING_TIMESTAMP"
)

// DefaultBarIntervalMultiplier is applied when the caller passes a
// non-positive multiplier to StaleAfterForBarInterval.
const DefaultBarIntervalMultiplier = 2

// Check is the result of a freshness evaluation.
type Check struct {
	OK         bool           `json:"ok"`
	ReasonCode ReasonCode     `json:"reason_code"`
	LatestTS   *time.Time     `json:"latest_ts_utc,omitempty"`
	Now        time.Time      `json:"now_utc"`
	Age        *time.Duration `json:"age,omitempty"`
	StaleAfter time.Duration  `json:"stale_after"`
	Details    map[string]any `json:"details,omitempty"`
}

// CheckFreshness evaluates whether latest is within staleAfter of now.
//
// A nil latest yields MISSING_TIMESTAMP. Naive (zero-offset unnamed
// location) timestamps are assumed UTC and reported via the
// "assumed_utc" detail. A negative age means the source timestamp is
// ahead of the evaluating clock (skew); it counts as fresh but is
// reported via the "negative_age" detail. The boundary age == staleAfter
// is fresh.
func CheckFreshness(latest *time.Time, staleAfter time.Duration, now *time.Time, source string) Check {
	var evalNow time.Time
	if now != nil {
		evalNow = *now
	} else {
		evalNow = time.Now()
	}
	evalNow = evalNow.UTC()

	details := map[string]any{}
	if source != "" {
		details["source"] = source
	}

	if latest == nil {
		return Check{
			OK:         false,
			ReasonCode: ReasonMissingTimestamp,
			Now:        evalNow,
			StaleAfter: staleAfter,
			Details:    details,
		}
	}

	latestUTC := latest.UTC()
	if latest.Location() == time.UTC || latest.Location().String() == "" {
		// time.Time carries no "naive" concept; a zero-name location is
		// the closest wire-level equivalent and is treated as UTC.
		details["assumed_utc"] = true
	}

	age := evalNow.Sub(latestUTC)
	if age < 0 {
		details["negative_age"] = true
		details["skew"] = (-age).String()
	}

	ok := age <= staleAfter
	code := ReasonFresh
	if !ok {
		code = ReasonStaleData
		details["exceeded_by"] = (age - staleAfter).String()
	}

	return Check{
		OK:         ok,
		ReasonCode: code,
		LatestTS:   &latestUTC,
		Now:        evalNow,
		Age:        &age,
		StaleAfter: staleAfter,
		Details:    details,
	}
}

// StaleAfterForBarInterval derives a staleness threshold for bar-shaped
// streams: multiplier bar intervals. A non-positive multiplier falls
// back to DefaultBarIntervalMultiplier.
func StaleAfterForBarInterval(interval time.Duration, multiplier int) time.Duration {
	if multiplier <= 0 {
		multiplier = DefaultBarIntervalMultiplier
	}
	return time.Duration(multiplier) * interval
}

// String renders the check for log lines.
func (c Check) String() string {
	return fmt.Sprintf("freshness %s ok=%t stale_after=%s", c.ReasonCode, c.OK, c.StaleAfter)
}
