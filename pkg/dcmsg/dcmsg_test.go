package dcmsg

import (
	"context"
	"testing"
	"time"

	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

func TestSubClyde(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lower", in: "clyde", want: "clydе"},
		{name: "upper", in: "CLYDE", want: "CLYDЕ"},
		{name: "embedded", in: "xXclydeXx", want: "xXclydеXx"},
		{name: "untouched", in: "alice", want: "alice"},
		{name: "empty", in: "", want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := SubClyde(tt.in); got != tt.want {
				t.Fatalf("SubClyde(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAllowedReaction(t *testing.T) {
	t.Parallel()
	opt := DeletionOptions{
		AllowedUserIDs:    []string{"100"},
		ModerationRoleIDs: []string{"900"},
		Emojis:            []string{TrashcanEmoji},
	}

	tests := []struct {
		name    string
		re      kit.Reaction
		emojiOK bool
		userOK  bool
	}{
		{
			name:    "allowed user",
			re:      kit.Reaction{UserID: "100", Emoji: TrashcanEmoji},
			emojiOK: true, userOK: true,
		},
		{
			name:    "moderator",
			re:      kit.Reaction{UserID: "200", UserRoles: []string{"900"}, Emoji: TrashcanEmoji},
			emojiOK: true, userOK: true,
		},
		{
			name:    "wrong emoji",
			re:      kit.Reaction{UserID: "100", Emoji: "👍"},
			emojiOK: false, userOK: false,
		},
		{
			name:    "disallowed user",
			re:      kit.Reaction{UserID: "300", Emoji: TrashcanEmoji},
			emojiOK: true, userOK: false,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			emojiOK, userOK := AllowedReaction(tt.re, opt)
			if emojiOK != tt.emojiOK || userOK != tt.userOK {
				t.Fatalf("AllowedReaction = (%v, %v), want (%v, %v)", emojiOK, userOK, tt.emojiOK, tt.userOK)
			}
		})
	}
}

func TestFormatUser(t *testing.T) {
	t.Parallel()
	if got := FormatUser("1234"); got != "<@1234> (`1234`)" {
		t.Fatalf("FormatUser = %q", got)
	}
}

type fakeMsgAdapter struct {
	attached []string
	removed  []kit.Reaction
	deleted  []kit.MessageRef
}

func (f *fakeMsgAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeMsgAdapter) Stop(ctx context.Context) error                         { return nil }
func (f *fakeMsgAdapter) Ready(ctx context.Context) error                        { return nil }
func (f *fakeMsgAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (f *fakeMsgAdapter) SendEmbed(ctx context.Context, to kit.ChatTarget, e kit.Embed) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}
func (f *fakeMsgAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	f.deleted = append(f.deleted, ref)
	return nil
}
func (f *fakeMsgAdapter) AddReaction(ctx context.Context, ref kit.MessageRef, emoji string) error {
	f.attached = append(f.attached, emoji)
	return nil
}
func (f *fakeMsgAdapter) RemoveReaction(ctx context.Context, ref kit.MessageRef, emoji, userID string) error {
	f.removed = append(f.removed, kit.Reaction{Emoji: emoji, UserID: userID})
	return nil
}

// fakeWaiter injects its queued reactions the moment the deletion wait
// registers, so tests stay synchronous.
type fakeWaiter struct {
	inject    []kit.Reaction
	cancelled bool
}

func (f *fakeWaiter) WaitReaction(msgID string, ch chan<- kit.Reaction) (cancel func()) {
	for _, re := range f.inject {
		ch <- re
	}
	return func() { f.cancelled = true }
}

func TestWaitForDeletionAllowedReactionDeletes(t *testing.T) {
	t.Parallel()
	ad := &fakeMsgAdapter{}
	w := &fakeWaiter{inject: []kit.Reaction{{UserID: "100", Emoji: TrashcanEmoji}}}
	msg := kit.MessageRef{ChannelID: "chan-1", MessageID: "msg-1"}

	err := WaitForDeletion(context.Background(), ad, w, logx.Nop(), msg, DeletionOptions{
		AllowedUserIDs: []string{"100"},
		Timeout:        time.Second,
	})
	if err != nil {
		t.Fatalf("WaitForDeletion: %v", err)
	}
	if len(ad.deleted) != 1 || ad.deleted[0] != msg {
		t.Fatalf("deleted = %v, want [%v]", ad.deleted, msg)
	}
	if len(ad.attached) != 1 || ad.attached[0] != TrashcanEmoji {
		t.Fatalf("attached = %v, want the trashcan emoji", ad.attached)
	}
	if !w.cancelled {
		t.Fatal("reaction waiter was not unregistered")
	}
}

func TestWaitForDeletionDisallowedReactionRemoved(t *testing.T) {
	t.Parallel()
	ad := &fakeMsgAdapter{}
	w := &fakeWaiter{inject: []kit.Reaction{
		{UserID: "100", Emoji: "👍"},          // wrong emoji: ignored
		{UserID: "300", Emoji: TrashcanEmoji}, // disallowed user: removed
	}}
	msg := kit.MessageRef{ChannelID: "chan-1", MessageID: "msg-1"}

	err := WaitForDeletion(context.Background(), ad, w, logx.Nop(), msg, DeletionOptions{
		AllowedUserIDs: []string{"100"},
		Timeout:        30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitForDeletion: %v", err)
	}
	if len(ad.deleted) != 0 {
		t.Fatalf("deleted = %v, want none", ad.deleted)
	}
	if len(ad.removed) != 1 || ad.removed[0].Emoji != TrashcanEmoji || ad.removed[0].UserID != "300" {
		t.Fatalf("removed = %v, want the disallowed trashcan reaction by 300", ad.removed)
	}
}

func TestWaitForDeletionTimeoutLeavesMessage(t *testing.T) {
	t.Parallel()
	ad := &fakeMsgAdapter{}
	w := &fakeWaiter{}
	msg := kit.MessageRef{ChannelID: "chan-1", MessageID: "msg-1"}

	err := WaitForDeletion(context.Background(), ad, w, logx.Nop(), msg, DeletionOptions{
		AllowedUserIDs: []string{"100"},
		Timeout:        20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WaitForDeletion: %v", err)
	}
	if len(ad.deleted) != 0 || len(ad.removed) != 0 {
		t.Fatalf("timeout mutated the message: deleted=%v removed=%v", ad.deleted, ad.removed)
	}
	if !w.cancelled {
		t.Fatal("reaction waiter was not unregistered")
	}
}
