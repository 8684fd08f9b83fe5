package router

import (
	"reflect"
	"testing"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "plain", in: "modpings off 2h", want: []string{"modpings", "off", "2h"}},
		{name: "quoted", in: `say "hello there" now`, want: []string{"say", "hello there", "now"}},
		{name: "escaped", in: `say a\ b`, want: []string{"say", "a b"}},
		{name: "empty", in: "   ", want: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tokenizeCommandLine(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"a", "--key=v", "--other", "w", "-x", "b"})
	if !reflect.DeepEqual(pos, []string{"a", "b"}) {
		t.Fatalf("pos = %v", pos)
	}
	if flags["key"] != "v" || flags["other"] != "w" || flags["x"] != "b" {
		t.Fatalf("flags = %v", flags)
	}
	if len(bools) != 0 {
		t.Fatalf("bools = %v", bools)
	}
}

func TestCmdTreeTraversal(t *testing.T) {
	t.Parallel()
	root := newRoot()
	root.add(splitRoute("modpings off"), Command{Route: "modpings off"})
	root.add(splitRoute("modpings schedule start"), Command{Route: "modpings schedule start"})

	if n := root.find([]string{"modpings", "off"}); n == nil || n.cmd == nil {
		t.Fatal("leaf not found")
	}
	if n := root.find([]string{"modpings", "schedule"}); n == nil || n.cmd != nil {
		t.Fatal("container node should have no command")
	}
	if n := root.find([]string{"nope"}); n != nil {
		t.Fatal("missing route should return nil")
	}
}

func TestHasAnyRole(t *testing.T) {
	t.Parallel()
	if !hasAnyRole([]string{"1", "2"}, []string{"2", "3"}) {
		t.Fatal("expected overlap")
	}
	if hasAnyRole([]string{"1"}, []string{"2"}) {
		t.Fatal("expected no overlap")
	}
	if hasAnyRole(nil, []string{"2"}) {
		t.Fatal("nil roles should not match")
	}
}
