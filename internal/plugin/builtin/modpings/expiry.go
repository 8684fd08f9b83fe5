package modpings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Duration strings are unit-suffixed offsets in descending order of
// magnitude, e.g. "2d12h", "1w 3d", "30M". Units are case-sensitive where
// it matters: "m" is months, "M" is minutes.
var durationRe = regexp.MustCompile(
	`^` +
		`(?:(\d+) ?(?:years|year|Y|y) ?)?` +
		`(?:(\d+) ?(?:months|month|m) ?)?` +
		`(?:(\d+) ?(?:weeks|week|W|w) ?)?` +
		`(?:(\d+) ?(?:days|day|D|d) ?)?` +
		`(?:(\d+) ?(?:hours|hour|H|h) ?)?` +
		`(?:(\d+) ?(?:minutes|minute|M) ?)?` +
		`(?:(\d+) ?(?:seconds|second|S|s) ?)?` +
		`$`)

// isoLayouts accepts ISO-8601 datetime strings that start with a date,
// optionally followed by a time, with "T" or a single space as separator.
// Offsets are honored and the result normalized to UTC.
var isoLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseExpiry turns a duration string or an ISO-8601 timestamp into an
// absolute UTC time. Durations are relative to now.
func ParseExpiry(now time.Time, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty duration")
	}
	if t, ok := parseDurationOffset(now, s); ok {
		return t, nil
	}
	if t, err := parseISO(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("`%s` is not a valid duration string", s)
}

func parseDurationOffset(now time.Time, s string) (time.Time, bool) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	any := false
	for _, g := range m[1:] {
		if g != "" {
			any = true
			break
		}
	}
	if !any {
		return time.Time{}, false
	}

	num := func(g string) int {
		if g == "" {
			return 0
		}
		n, _ := strconv.Atoi(g)
		return n
	}

	years, months := num(m[1]), num(m[2])
	t := now
	if years != 0 || months != 0 {
		t = t.AddDate(years, months, 0)
	}
	t = t.Add(time.Duration(num(m[3])) * 7 * 24 * time.Hour)
	t = t.Add(time.Duration(num(m[4])) * 24 * time.Hour)
	t = t.Add(time.Duration(num(m[5])) * time.Hour)
	t = t.Add(time.Duration(num(m[6])) * time.Minute)
	t = t.Add(time.Duration(num(m[7])) * time.Second)
	return t, true
}

func parseISO(s string) (time.Time, error) {
	for _, layout := range isoLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("`%s` is not a valid ISO-8601 datetime string", s)
}

// clockLayouts accepts wall-clock times for the schedule command.
var clockLayouts = []string{
	"15:04:05",
	"15:04",
	"3:04PM",
	"3:04pm",
	"03:04PM",
	"03:04pm",
	"3PM",
	"3pm",
}

// parseClock resolves a wall-clock string against today's date in UTC.
func parseClock(now time.Time, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range clockLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err != nil {
			continue
		}
		y, mo, d := now.UTC().Date()
		return time.Date(y, mo, d, t.Hour(), t.Minute(), t.Second(), 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("`%s` is not a valid time", s)
}
