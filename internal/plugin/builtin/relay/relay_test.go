package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"modbot/internal/config"
	"modbot/internal/plugin"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

type sentMsg struct {
	channelID string
	text      string
	embed     *kit.Embed
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }
func (a *fakeAdapter) Ready(ctx context.Context) error                        { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sentMsg{channelID: to.ChannelID, text: text})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "m1"}, nil
}

func (a *fakeAdapter) SendEmbed(ctx context.Context, to kit.ChatTarget, e kit.Embed) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := e
	a.sent = append(a.sent, sentMsg{channelID: to.ChannelID, embed: &cp})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "m1"}, nil
}

func (a *fakeAdapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error { return nil }
func (a *fakeAdapter) AddReaction(ctx context.Context, ref kit.MessageRef, emoji string) error {
	return nil
}
func (a *fakeAdapter) RemoveReaction(ctx context.Context, ref kit.MessageRef, emoji, userID string) error {
	return nil
}

type webhookUpload struct {
	channelID, username, filename string
	size                          int
}

type fakeUploader struct {
	mu      sync.Mutex
	limit   int
	uploads []webhookUpload
}

func (u *fakeUploader) SendFile(ctx context.Context, to kit.ChatTarget, filename string, r io.Reader, opt *kit.SendOptions) (kit.MessageRef, error) {
	b, _ := io.ReadAll(r)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, webhookUpload{channelID: to.ChannelID, filename: filename, size: len(b)})
	return kit.MessageRef{ChannelID: to.ChannelID, MessageID: "f1"}, nil
}

func (u *fakeUploader) WebhookSendFile(ctx context.Context, to kit.ChatTarget, username, avatarURL, filename string, r io.Reader) error {
	b, _ := io.ReadAll(r)
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, webhookUpload{channelID: to.ChannelID, username: username, filename: filename, size: len(b)})
	return nil
}

func (u *fakeUploader) UploadLimit(guildID string) int { return u.limit }

func newTestPlugin(t *testing.T, up *fakeUploader) (*Plugin, *fakeAdapter) {
	t.Helper()
	adapter := &fakeAdapter{}

	cfgm := config.NewManager("")
	cfgm.Commit(&config.Config{})

	p := New()
	err := p.Init(context.Background(), plugin.PluginDeps{
		Logger:   logx.Nop(),
		Adapter:  adapter,
		Uploader: up,
		Config:   cfgm,
	})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return p, adapter
}

func request(adapter *fakeAdapter, msg *kit.Message, args ...string) *plugin.Request {
	return &plugin.Request{
		Update:   kit.Update{Kind: kit.UpdateMessage, Message: msg},
		Chat:     kit.ChatTarget{ChannelID: msg.ChannelID},
		GuildID:  "g1",
		FromID:   msg.FromID,
		FromName: msg.FromName,
		Args:     args,
		Adapter:  adapter,
		Logger:   logx.Nop(),
	}
}

func TestRelayReuploadsThroughWebhook(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("file-bytes"))
	}))
	t.Cleanup(srv.Close)

	up := &fakeUploader{limit: 1 << 20}
	p, adapter := newTestPlugin(t, up)

	msg := &kit.Message{
		ID:        "src",
		ChannelID: "c1",
		FromID:    "alice",
		FromName:  "clyde fan",
		Attachments: []kit.Attachment{
			{ID: "a1", URL: srv.URL + "/a.png", Filename: "a.png", Size: 10},
		},
	}
	if err := p.cmdRelay(context.Background(), request(adapter, msg, "c2")); err != nil {
		t.Fatalf("cmdRelay: %v", err)
	}

	up.mu.Lock()
	uploads := append([]webhookUpload(nil), up.uploads...)
	up.mu.Unlock()
	if len(uploads) != 1 {
		t.Fatalf("expected one upload, got %+v", uploads)
	}
	got := uploads[0]
	if got.channelID != "c2" || got.filename != "a.png" || got.size != len("file-bytes") {
		t.Errorf("unexpected upload %+v", got)
	}
	// Webhook identity passes through the clyde substitution.
	if got.username == "clyde fan" || !strings.Contains(got.username, "fan") {
		t.Errorf("username not substituted: %q", got.username)
	}

	adapter.mu.Lock()
	last := adapter.sent[len(adapter.sent)-1]
	adapter.mu.Unlock()
	if !strings.Contains(last.text, "Relayed 1 attachment(s)") || !strings.Contains(last.text, "<#c2>") {
		t.Errorf("unexpected confirmation %q", last.text)
	}
}

func TestRelayOversizedFallsBackToLinks(t *testing.T) {
	t.Parallel()
	up := &fakeUploader{limit: 1024}
	p, adapter := newTestPlugin(t, up)

	msg := &kit.Message{
		ID:        "src",
		ChannelID: "c1",
		FromID:    "alice",
		FromName:  "alice",
		Attachments: []kit.Attachment{
			{ID: "a1", URL: "https://cdn.example/big.bin", Filename: "big.bin", Size: 10 << 20},
		},
	}
	if err := p.cmdRelay(context.Background(), request(adapter, msg, "c2")); err != nil {
		t.Fatalf("cmdRelay: %v", err)
	}

	if len(up.uploads) != 0 {
		t.Errorf("oversized file must not be uploaded: %+v", up.uploads)
	}
	var linkEmbed *kit.Embed
	adapter.mu.Lock()
	for _, s := range adapter.sent {
		if s.embed != nil && s.channelID == "c2" {
			linkEmbed = s.embed
		}
	}
	adapter.mu.Unlock()
	if linkEmbed == nil {
		t.Fatal("expected a link embed in the destination channel")
	}
	if linkEmbed.Footer != "Attachments exceed upload size limit." || !strings.Contains(linkEmbed.Description, "big.bin") {
		t.Errorf("unexpected link embed %+v", linkEmbed)
	}
}

func TestRelayNoAttachments(t *testing.T) {
	t.Parallel()
	p, adapter := newTestPlugin(t, &fakeUploader{limit: 1024})

	msg := &kit.Message{ID: "src", ChannelID: "c1", FromID: "alice"}
	if err := p.cmdRelay(context.Background(), request(adapter, msg, "c2")); err != nil {
		t.Fatalf("cmdRelay: %v", err)
	}
	adapter.mu.Lock()
	last := adapter.sent[len(adapter.sent)-1]
	adapter.mu.Unlock()
	if last.embed == nil || !strings.Contains(last.embed.Description, "no attachments") {
		t.Errorf("expected denial embed, got %+v", last)
	}
}
