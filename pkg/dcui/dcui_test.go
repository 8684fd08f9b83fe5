package dcui

import (
	"strings"
	"testing"
)

func TestBuilderBasic(t *testing.T) {
	t.Parallel()
	msg := New().
		Title("📌", "Status").
		Blank().
		KV("driver", "sqlite").
		Bullets("one", "two").
		Build()

	want := "📌 **Status**\n\n• **driver**: sqlite\n• one\n• two"
	if msg.Text != want {
		t.Errorf("Build text:\n%q\nwant:\n%q", msg.Text, want)
	}
	if len(msg.More) != 0 {
		t.Errorf("unexpected follow-up messages: %v", msg.More)
	}
}

func TestEscapesMarkdown(t *testing.T) {
	t.Parallel()
	msg := New().Line("a*b_c`d").Build()
	if msg.Text != "a\\*b\\_c\\`d" {
		t.Errorf("unescaped markdown: %q", msg.Text)
	}
}

func TestPreSplitsLongContent(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("0123456789\n", 400) // ~4400 chars
	msg := New().Pre(long).Build()

	if len(msg.More) == 0 {
		t.Fatal("long pre block should spill into follow-up messages")
	}
	for _, part := range append([]string{msg.Text}, msg.More...) {
		if len(part) > MaxMessageLen {
			t.Errorf("chunk exceeds message limit: %d", len(part))
		}
		if !strings.HasPrefix(part, "```\n") || !strings.HasSuffix(part, "\n```") {
			t.Errorf("chunk not fenced: %q…", part[:8])
		}
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hell…"},
		{"héllo", 2, "hé…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Errorf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
