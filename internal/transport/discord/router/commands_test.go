package router

import (
	"context"
	"reflect"
	"testing"
	"time"

	"modbot/internal/config"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

type nopAdapter struct{}

func (nopAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (nopAdapter) Stop(ctx context.Context) error                         { return nil }
func (nopAdapter) Ready(ctx context.Context) error                        { return nil }
func (nopAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopAdapter) SendEmbed(ctx context.Context, to kit.ChatTarget, e kit.Embed) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (nopAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error { return nil }
func (nopAdapter) AddReaction(ctx context.Context, ref kit.MessageRef, emoji string) error {
	return nil
}
func (nopAdapter) RemoveReaction(ctx context.Context, ref kit.MessageRef, emoji, userID string) error {
	return nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfgm := config.NewManager("")
	cfgm.Commit(&config.Config{})
	return NewManager(logx.Nop(), nopAdapter{}, cfgm, &Services{})
}

// dispatch routes one message and runs whatever job it enqueued, synchronously.
func dispatch(t *testing.T, m *Manager, text string) {
	t.Helper()
	m.routeMessage(context.Background(), kit.Update{Message: &kit.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		FromID:    "user-1",
		Text:      text,
	}})
	select {
	case job := <-m.jobs:
		job()
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchAliasReachesSubcommands(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)

	var gotRoute string
	var gotArgs []string
	var gotPath []string
	record := func(route string) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			gotRoute = route
			gotArgs = req.Args
			gotPath = req.Path
			return nil
		}
	}
	m.SetRegistry([]Command{
		{Route: "modpings", Aliases: []string{"modping"}, Handle: record("modpings")},
		{Route: "modpings off", Handle: record("modpings off")},
	})

	dispatch(t, m, "!modping off 2h")
	if gotRoute != "modpings off" {
		t.Fatalf("alias dispatch ran %q, want %q", gotRoute, "modpings off")
	}
	if !reflect.DeepEqual(gotArgs, []string{"2h"}) {
		t.Fatalf("args = %v, want [2h]", gotArgs)
	}
	if !reflect.DeepEqual(gotPath, []string{"modpings", "off"}) {
		t.Fatalf("path = %v, want [modpings off]", gotPath)
	}

	// bare alias still reaches the group handler itself
	gotRoute = ""
	dispatch(t, m, "!modping")
	if gotRoute != "modpings" {
		t.Fatalf("bare alias ran %q, want %q", gotRoute, "modpings")
	}

	// unknown subcommand under an alias falls back to the group handler
	// with the leftover word as an argument
	gotRoute = ""
	dispatch(t, m, "!modping bogus")
	if gotRoute != "modpings" {
		t.Fatalf("alias with unknown sub ran %q, want %q", gotRoute, "modpings")
	}
	if !reflect.DeepEqual(gotArgs, []string{"bogus"}) {
		t.Fatalf("args = %v, want [bogus]", gotArgs)
	}
}

func TestDispatchUnknownWordIsSilent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	m.SetRegistry([]Command{
		{Route: "modpings", Handle: func(ctx context.Context, req *Request) error { return nil }},
	})

	m.routeMessage(context.Background(), kit.Update{Message: &kit.Message{
		ID: "msg-2", ChannelID: "chan-1", FromID: "user-1", Text: "!definitelynot",
	}})
	select {
	case <-m.jobs:
		t.Fatal("unknown command enqueued a job")
	default:
	}
}
