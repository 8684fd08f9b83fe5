// Package dcmsg provides Discord message helpers used by the moderation
// plugins: reaction-gated deletion, attachment re-upload and denial embeds.
package dcmsg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"time"

	"github.com/bwmarrin/discordgo"

	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

// TrashcanEmoji is the default deletion emoji.
const TrashcanEmoji = "\U0001F5D1️"

// DefaultDeletionTimeout bounds how long a deletion reaction is honored.
const DefaultDeletionTimeout = 5 * time.Minute

// ReactionWaiter delivers reactions added to a given message.
// The router's command manager implements it.
type ReactionWaiter interface {
	// WaitReaction registers ch to receive reactions on msgID and returns an
	// unregister func.
	WaitReaction(msgID string, ch chan<- kit.Reaction) (cancel func())
}

// DeletionOptions tunes WaitForDeletion. The zero value attaches the
// trashcan emoji, waits five minutes and allows moderators.
type DeletionOptions struct {
	AllowedUserIDs    []string
	ModerationRoleIDs []string // users holding any of these may always delete
	Emojis            []string // deletion emojis; default is the trashcan
	Timeout           time.Duration
	SkipAttach        bool // don't add the emojis to the message first
}

// AllowedReaction reports whether a reaction should delete the message:
// the emoji must be one of the deletion emojis and the reacting user must be
// in the allowed set or hold a moderation role. Callers remove disallowed
// reactions themselves.
func AllowedReaction(re kit.Reaction, opt DeletionOptions) (emojiOK, userOK bool) {
	for _, e := range opt.Emojis {
		if re.Emoji == e {
			emojiOK = true
			break
		}
	}
	if !emojiOK {
		return false, false
	}
	for _, id := range opt.AllowedUserIDs {
		if re.UserID == id {
			return true, true
		}
	}
	for _, want := range opt.ModerationRoleIDs {
		for _, have := range re.UserRoles {
			if have == want {
				return true, true
			}
		}
	}
	return true, false
}

// WaitForDeletion attaches deletion emojis to msg and deletes it when an
// allowed user reacts with one of them within the timeout. Reactions by
// disallowed users are removed. A timeout is not an error.
func WaitForDeletion(ctx context.Context, adapter kit.Adapter, waiter ReactionWaiter, log logx.Logger, msg kit.MessageRef, opt DeletionOptions) error {
	if len(opt.Emojis) == 0 {
		opt.Emojis = []string{TrashcanEmoji}
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultDeletionTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Register before attaching so an early reaction isn't missed.
	ch := make(chan kit.Reaction, 16)
	cancel := waiter.WaitReaction(msg.MessageID, ch)
	defer cancel()

	if !opt.SkipAttach {
		for _, e := range opt.Emojis {
			if err := adapter.AddReaction(ctx, msg, e); err != nil {
				// Most likely the message was deleted prematurely.
				log.Debug("aborting deletion wait; could not attach emoji",
					logx.String("message_id", msg.MessageID), logx.Err(err))
				return nil
			}
		}
	}

	timer := time.NewTimer(opt.Timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case re := <-ch:
			emojiOK, userOK := AllowedReaction(re, opt)
			if !emojiOK {
				continue
			}
			if !userOK {
				// best-effort removal of the disallowed reaction
				if err := adapter.RemoveReaction(ctx, msg, re.Emoji, re.UserID); err != nil {
					log.Debug("could not remove disallowed reaction", logx.Err(err))
				}
				continue
			}
			return adapter.DeleteMessage(ctx, msg)
		}
	}
}

var clydeRe = regexp.MustCompile(`(?i)(clyd)(e)`)

// SubClyde replaces the "e" of any "clyde" in username with a Cyrillic
// lookalike. Discord rejects webhook usernames containing "clyde" with a 400.
func SubClyde(username string) string {
	return clydeRe.ReplaceAllStringFunc(username, func(m string) string {
		last := m[len(m)-1]
		if last == 'e' {
			return m[:len(m)-1] + "е"
		}
		return m[:len(m)-1] + "Е"
	})
}

// FormatUser renders a user mention with the raw ID, for log channels.
func FormatUser(userID string) string {
	return fmt.Sprintf("<@%s> (`%s`)", userID, userID)
}

// uploadLeeway leaves room for the rest of the multipart request.
const uploadLeeway = 512

// AttachmentSender tunes SendAttachments.
type AttachmentSender struct {
	Adapter  kit.Adapter
	Uploader kit.Uploader
	HTTP     *http.Client
	Log      logx.Logger

	// Webhook identity; when Username is set, files go through the channel
	// webhook so the message impersonates the original author.
	Username  string
	AvatarURL string

	// LinkLarge replaces oversized attachments with a link embed instead of
	// dropping them.
	LinkLarge bool
}

// SendAttachments re-uploads msg's attachments to dest, one message per file
// to stay under the request size limit. Oversized files (and 413 rejections)
// are grouped into a single embed linking the originals when LinkLarge is
// set. Individual failures are logged, not returned.
func (s *AttachmentSender) SendAttachments(ctx context.Context, msg kit.Message, dest kit.ChatTarget, guildID string) error {
	if s.Uploader == nil {
		return errors.New("uploader not available")
	}
	httpc := s.HTTP
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	log := s.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	limit := s.Uploader.UploadLimit(guildID)
	username := SubClyde(s.Username)

	var large []kit.Attachment
	for _, at := range msg.Attachments {
		if at.Size > limit-uploadLeeway {
			if s.LinkLarge {
				large = append(large, at)
			} else {
				log.Info("skipping oversized attachment",
					logx.String("filename", at.Filename), logx.Int("size", at.Size))
			}
			continue
		}

		body, err := fetchAttachment(ctx, httpc, at.URL)
		if err != nil {
			log.Warn("could not fetch attachment",
				logx.String("filename", at.Filename), logx.Err(err))
			continue
		}
		err = s.sendOne(ctx, dest, username, at.Filename, body)
		_ = body.Close()
		if err != nil {
			// The size check leaves leeway but some files still get through;
			// fall back to a link for those.
			if s.LinkLarge && isTooLarge(err) {
				large = append(large, at)
				continue
			}
			log.Warn("could not re-upload attachment",
				logx.String("filename", at.Filename), logx.Err(err))
		}
	}

	if s.LinkLarge && len(large) > 0 {
		desc := ""
		for i, at := range large {
			if i > 0 {
				desc += "\n"
			}
			desc += fmt.Sprintf("[%s](%s)", at.Filename, at.URL)
		}
		_, err := s.Adapter.SendEmbed(ctx, dest, kit.Embed{
			Description: desc,
			Footer:      "Attachments exceed upload size limit.",
		})
		return err
	}
	return nil
}

func (s *AttachmentSender) sendOne(ctx context.Context, dest kit.ChatTarget, username, filename string, r io.Reader) error {
	if username != "" {
		return s.Uploader.WebhookSendFile(ctx, dest, username, s.AvatarURL, filename, r)
	}
	_, err := s.Uploader.SendFile(ctx, dest, filename, r, nil)
	return err
}

func fetchAttachment(ctx context.Context, c *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}

func isTooLarge(err error) bool {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		return rest.Response.StatusCode == http.StatusRequestEntityTooLarge
	}
	return false
}

// negativeTitles are the embed titles cycled through by SendDenial.
var negativeTitles = []string{
	"Noooooo!!",
	"Nope.",
	"I'm sorry Dave, I'm afraid I can't do that.",
	"I don't think so.",
	"Not gonna happen.",
	"Out of the question.",
	"Huh? No.",
	"Nah.",
	"Naw.",
	"Not likely.",
	"No way, José.",
	"Not in a million years.",
	"Fat chance.",
	"Certainly not.",
	"NEGATORY.",
	"Nuh-uh.",
	"Not in my house!",
}

// SendDenial sends a red embed denying the request with the given reason.
func SendDenial(ctx context.Context, adapter kit.Adapter, to kit.ChatTarget, reason string) (kit.MessageRef, error) {
	return adapter.SendEmbed(ctx, to, kit.Embed{
		Title:       negativeTitles[rand.Intn(len(negativeTitles))],
		Description: reason,
		Color:       0xCD6D6D,
	})
}
