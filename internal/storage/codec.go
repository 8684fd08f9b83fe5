package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Wire layout kept compatible with the previous deployment so an existing
// data directory keeps working across upgrades:
//
//   off-until:  "2006-01-02T15:04:05" — ISO-8601, second precision, naive UTC
//   shift:      "<unix-start>|<work-seconds>" — both decimal floats
const offUntilLayout = "2006-01-02T15:04:05"

// EncodeOffUntil renders t in the stored off-until format.
// The value is normalized to UTC and truncated to whole seconds.
func EncodeOffUntil(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(offUntilLayout)
}

// DecodeOffUntil parses a stored off-until value as a UTC instant.
func DecodeOffUntil(s string) (time.Time, error) {
	t, err := time.Parse(offUntilLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("off-until value %q: %w", s, err)
	}
	return t.UTC(), nil
}

// EncodeShift renders a shift as "<start>|<work>".
// Both fields are written with one decimal place.
func EncodeShift(start time.Time, work time.Duration) string {
	ts := float64(start.UTC().UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(ts, 'f', 1, 64) + "|" + strconv.FormatFloat(work.Seconds(), 'f', 1, 64)
}

// DecodeShift parses a stored shift value. It accepts any float rendering in
// either field, not only the one-decimal form EncodeShift produces.
func DecodeShift(s string) (start time.Time, work time.Duration, err error) {
	lhs, rhs, ok := strings.Cut(strings.TrimSpace(s), "|")
	if !ok {
		return time.Time{}, 0, fmt.Errorf("shift value %q: missing separator", s)
	}
	ts, err := strconv.ParseFloat(lhs, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("shift value %q: start: %w", s, err)
	}
	secs, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("shift value %q: work: %w", s, err)
	}
	if secs < 0 || math.IsNaN(ts) || math.IsInf(ts, 0) || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, 0, fmt.Errorf("shift value %q: out of range", s)
	}
	sec, frac := math.Modf(ts)
	start = time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC()
	work = time.Duration(secs * float64(time.Second))
	return start, work, nil
}
