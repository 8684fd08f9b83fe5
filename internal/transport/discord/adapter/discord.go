package adapter

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	rtsup "modbot/internal/runtime/supervisor"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

// Config configures the Discord adapter.
type Config struct {
	Token   string
	GuildID string
}

type Adapter struct {
	cfg Config
	log logx.Logger

	session *discordgo.Session
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	readyOnce sync.Once
	readyCh   chan struct{}

	// sup owns adapter internal goroutines (drop logger, close watcher).
	sup *rtsup.Supervisor

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the gateway. Logged periodically to avoid per-update spam.
	droppedUpdates uint64

	webhookMu sync.Mutex
	webhooks  map[string]*discordgo.Webhook // channelID -> owned webhook
}

const webhookName = "modbot-relay"

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentMessageContent
	s.StateEnabled = true

	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		cfg:      cfg,
		log:      log,
		session:  s,
		readyCh:  make(chan struct{}),
		webhooks: map[string]*discordgo.Webhook{},
	}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.readyOnce.Do(func() { close(a.readyCh) })
		a.log.Info("gateway ready",
			logx.String("user", r.User.Username),
			logx.Int("guilds", len(r.Guilds)))
	})

	a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		msg := &kit.Message{
			ID:        m.ID,
			ChannelID: m.ChannelID,
			GuildID:   m.GuildID,
			FromID:    m.Author.ID,
			FromName:  m.Author.Username,
			Text:      m.Content,
			IsBot:     m.Author.Bot,
		}
		if m.Member != nil {
			msg.FromRoles = m.Member.Roles
		}
		for _, at := range m.Attachments {
			msg.Attachments = append(msg.Attachments, kit.Attachment{
				ID:       at.ID,
				URL:      at.URL,
				Filename: at.Filename,
				Size:     at.Size,
			})
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	})

	a.session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		re := &kit.Reaction{
			MessageID: r.MessageID,
			ChannelID: r.ChannelID,
			GuildID:   r.GuildID,
			UserID:    r.UserID,
			Emoji:     r.Emoji.APIName(),
		}
		if r.Member != nil {
			re.UserRoles = r.Member.Roles
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateReaction, Reaction: re})
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	if err := a.session.Open(); err != nil {
		a.runMu.Lock()
		a.running = false
		a.runMu.Unlock()
		return err
	}

	// Periodic summary for dropped updates.
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})

	// Close the gateway session when the adapter context is cancelled.
	// discordgo reconnects on its own while the session stays open.
	sup.Go0("gateway.close_on_cancel", func(c context.Context) {
		<-c.Done()
		_ = a.session.Close()
	})

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	if !wasRunning {
		a.log.Debug("discord stop called but not running")
		return nil
	}

	if sup != nil {
		sup.Cancel()
	}
	if err := a.session.Close(); err != nil {
		a.log.Warn("gateway close error", logx.Err(err))
	}

	if sup != nil {
		wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := sup.Wait(wctx); err != nil &&
			!errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			a.log.Warn("discord stop error", logx.Err(err))
		}
	}
	return nil
}

// Ready blocks until the first gateway READY event or ctx cancellation.
func (a *Adapter) Ready(ctx context.Context) error {
	select {
	case <-a.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const discordTextLimit = 2000

// splitDiscordText splits long messages into chunks under Discord's message
// length limit, preferring newline boundaries.
func splitDiscordText(s string, limit int) []string {
	if limit <= 0 {
		limit = discordTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					if i-start >= limit/3 {
						end = i + 1
					}
					break
				}
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitDiscordText(text, discordTextLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	var first kit.MessageRef
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		// Reply reference and embed only on the first chunk.
		if i == 0 {
			if opt.ReplyTo != nil {
				send.Reference = &discordgo.MessageReference{
					MessageID: opt.ReplyTo.MessageID,
					ChannelID: opt.ReplyTo.ChannelID,
				}
			}
			if opt.Embed != nil {
				send.Embeds = []*discordgo.MessageEmbed{toDiscordEmbed(*opt.Embed)}
			}
		}
		msg, err := a.session.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(ctx))
		if err != nil {
			if first.MessageID != "" {
				return first, err
			}
			return kit.MessageRef{}, err
		}
		if i == 0 {
			first = kit.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendEmbed(ctx context.Context, to kit.ChatTarget, e kit.Embed) (kit.MessageRef, error) {
	msg, err := a.session.ChannelMessageSendEmbed(to.ChannelID, toDiscordEmbed(e), discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

func toDiscordEmbed(e kit.Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer, IconURL: e.FooterIcon}
	}
	if e.Timestamp != nil {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	return a.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
}

func (a *Adapter) AddReaction(ctx context.Context, ref kit.MessageRef, emoji string) error {
	return a.session.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji, discordgo.WithContext(ctx))
}

func (a *Adapter) RemoveReaction(ctx context.Context, ref kit.MessageRef, emoji, userID string) error {
	return a.session.MessageReactionRemove(ref.ChannelID, ref.MessageID, emoji, userID, discordgo.WithContext(ctx))
}

func (a *Adapter) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return a.session.GuildMemberRoleAdd(guildID, userID, roleID, opts...)
}

func (a *Adapter) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return a.session.GuildMemberRoleRemove(guildID, userID, roleID, opts...)
}

// RoleMembers pages through the guild member list and returns the IDs of
// members holding roleID. The member list is not cached; callers should keep
// this off hot paths.
func (a *Adapter) RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	var out []string
	after := ""
	for {
		members, err := a.session.GuildMembers(guildID, after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			return out, nil
		}
		for _, m := range members {
			for _, r := range m.Roles {
				if r == roleID {
					out = append(out, m.User.ID)
					break
				}
			}
		}
		after = members[len(members)-1].User.ID
	}
}

func (a *Adapter) MemberHasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	m, err := a.session.State.Member(guildID, userID)
	if err != nil {
		m, err = a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return false, err
		}
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (a *Adapter) SendFile(ctx context.Context, to kit.ChatTarget, filename string, r io.Reader, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	send := &discordgo.MessageSend{
		Files: []*discordgo.File{{Name: filename, Reader: r}},
	}
	if opt.ReplyTo != nil {
		send.Reference = &discordgo.MessageReference{
			MessageID: opt.ReplyTo.MessageID,
			ChannelID: opt.ReplyTo.ChannelID,
		}
	}
	msg, err := a.session.ChannelMessageSendComplex(to.ChannelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// WebhookSendFile re-uploads a file through a channel webhook so the message
// carries the given username and avatar instead of the bot identity.
func (a *Adapter) WebhookSendFile(ctx context.Context, to kit.ChatTarget, username, avatarURL, filename string, r io.Reader) error {
	wh, err := a.channelWebhook(ctx, to.ChannelID)
	if err != nil {
		return err
	}
	_, err = a.session.WebhookExecute(wh.ID, wh.Token, false, &discordgo.WebhookParams{
		Username:  username,
		AvatarURL: avatarURL,
		Files:     []*discordgo.File{{Name: filename, Reader: r}},
	}, discordgo.WithContext(ctx))
	return err
}

func (a *Adapter) channelWebhook(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	a.webhookMu.Lock()
	defer a.webhookMu.Unlock()
	if wh, ok := a.webhooks[channelID]; ok {
		return wh, nil
	}

	hooks, err := a.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	for _, wh := range hooks {
		if wh.Name == webhookName && wh.Token != "" {
			a.webhooks[channelID] = wh
			return wh, nil
		}
	}
	wh, err := a.session.WebhookCreate(channelID, webhookName, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	a.webhooks[channelID] = wh
	return wh, nil
}

// UploadLimit reports the guild's max attachment size in bytes, derived from
// the boost tier. Falls back to the base limit when the guild is unknown.
func (a *Adapter) UploadLimit(guildID string) int {
	const mb = 1 << 20
	g, err := a.session.State.Guild(guildID)
	if err != nil {
		return 8 * mb
	}
	switch g.PremiumTier {
	case discordgo.PremiumTier3:
		return 100 * mb
	case discordgo.PremiumTier2:
		return 50 * mb
	default:
		return 8 * mb
	}
}
