package storage

import (
	"testing"
	"time"
)

func TestOffUntilRoundTrip(t *testing.T) {
	t.Parallel()
	in := time.Date(2026, 3, 14, 9, 26, 53, 500_000_000, time.UTC)
	raw := EncodeOffUntil(in)
	if raw != "2026-03-14T09:26:53" {
		t.Fatalf("EncodeOffUntil = %q", raw)
	}
	out, err := DecodeOffUntil(raw)
	if err != nil {
		t.Fatalf("DecodeOffUntil error: %v", err)
	}
	if !out.Equal(in.Truncate(time.Second)) {
		t.Fatalf("round trip = %v, want %v", out, in.Truncate(time.Second))
	}
}

func TestDecodeOffUntilRejectsOffsets(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"2026-03-14T09:26:53Z",
		"2026-03-14T09:26:53+02:00",
		"2026-03-14 09:26:53",
		"garbage",
	} {
		if _, err := DecodeOffUntil(raw); err == nil {
			t.Fatalf("DecodeOffUntil(%q): expected error", raw)
		}
	}
}

func TestShiftEncodeFormat(t *testing.T) {
	t.Parallel()
	start := time.Unix(1758216000, 0).UTC()
	raw := EncodeShift(start, 20*time.Hour)
	if raw != "1758216000.0|72000.0" {
		t.Fatalf("EncodeShift = %q", raw)
	}
}

func TestDecodeShiftVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		start int64
		work  time.Duration
	}{
		{name: "one decimal", raw: "1758216000.0|72000.0", start: 1758216000, work: 20 * time.Hour},
		{name: "bare ints", raw: "1758216000|100800", start: 1758216000, work: 28 * time.Hour},
		{name: "full precision", raw: "1758216000.500000|60.000000", start: 1758216000, work: time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			start, work, err := DecodeShift(tt.raw)
			if err != nil {
				t.Fatalf("DecodeShift(%q) error: %v", tt.raw, err)
			}
			if start.Unix() != tt.start {
				t.Fatalf("start = %d, want %d", start.Unix(), tt.start)
			}
			if work != tt.work {
				t.Fatalf("work = %v, want %v", work, tt.work)
			}
		})
	}
}

func TestDecodeShiftInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "123", "a|b", "1|-5", "NaN|60", "1|Inf"} {
		if _, _, err := DecodeShift(raw); err == nil {
			t.Fatalf("DecodeShift(%q): expected error", raw)
		}
	}
}
