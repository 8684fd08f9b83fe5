// Package relay mirrors a message's attachments into another channel,
// re-uploaded through a webhook so they appear under the original author's
// name. Oversized files fall back to a link embed.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"modbot/internal/plugin"
	kit "modbot/internal/transport"
	"modbot/pkg/dcmsg"
	"modbot/pkg/dcui"
	logx "modbot/pkg/logx"
)

type Plugin struct {
	plugin.PluginBase

	httpc *http.Client
}

func New() *Plugin {
	return &Plugin{httpc: &http.Client{Timeout: 30 * time.Second}}
}

func (p *Plugin) Name() string { return "relay" }

func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "relay",
			Description: "re-upload this message's attachments to another channel",
			Usage:       "relay <channel_id> (attach the files to the command message)",
			Access:      plugin.AccessModerator,
			Handle:      p.cmdRelay,
		},
	}
}

func (p *Plugin) cmdRelay(ctx context.Context, req *plugin.Request) error {
	if len(req.Args) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: `relay <channel_id>` with files attached", nil)
		return err
	}
	msg := req.Update.Message
	if msg == nil || len(msg.Attachments) == 0 {
		_, err := dcmsg.SendDenial(ctx, req.Adapter, req.Chat, "There are no attachments on that message.")
		return err
	}
	if p.Deps.Uploader == nil {
		_, err := dcmsg.SendDenial(ctx, req.Adapter, req.Chat, "Attachment re-upload is not available.")
		return err
	}

	dest := kit.ChatTarget{ChannelID: strings.Trim(req.Args[0], "<#>")}

	sender := dcmsg.AttachmentSender{
		Adapter:   req.Adapter,
		Uploader:  p.Deps.Uploader,
		HTTP:      p.httpc,
		Log:       req.Logger,
		Username:  msg.FromName,
		LinkLarge: true,
	}
	if err := sender.SendAttachments(ctx, *msg, dest, req.GuildID); err != nil {
		return fmt.Errorf("relay attachments: %w", err)
	}

	var total uint64
	for _, at := range msg.Attachments {
		total += uint64(at.Size)
	}
	confirm := dcui.New().
		RawLine(fmt.Sprintf("📎 Relayed %d attachment(s) (%s) to <#%s>.",
			len(msg.Attachments), humanize.Bytes(total), dest.ChannelID)).
		Build()
	ref, err := confirm.Send(ctx, req.Adapter, req.Chat)
	if err != nil {
		return err
	}

	// The confirmation is deletable by the invoker (or any moderator) for a
	// short while; losing the waiter just means the message stays.
	if req.Services != nil && req.Services.Waiter != nil && p.Runner != nil {
		waiter := req.Services.Waiter
		opt := dcmsg.DeletionOptions{
			AllowedUserIDs: []string{req.FromID},
		}
		if req.Config != nil {
			opt.ModerationRoleIDs = req.Config.Discord.ModerationRoleIDs
		}
		p.Runner.Go0("relay.wait_deletion", func(c context.Context) {
			if err := dcmsg.WaitForDeletion(c, req.Adapter, waiter, p.Log, ref, opt); err != nil {
				p.Log.Debug("deletion wait ended", logx.Err(err))
			}
		})
	}
	return nil
}
