package modpings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"modbot/internal/plugin"
	"modbot/internal/storage"
	kit "modbot/internal/transport"
	"modbot/pkg/dcmsg"
	"modbot/pkg/dcui"
	logx "modbot/pkg/logx"
)

const (
	colorBrightGreen = 0x01D277

	emojiCheckMark = "✅"
	emojiOKHand    = "\U0001F44C"
)

const offWireLayout = "2006-01-02T15:04:05"

func (p *Plugin) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "modpings",
			Aliases:     []string{"modping"},
			Description: "remove and re-add the pingable moderators role",
			Usage:       "modpings <off|on|schedule>",
			Access:      plugin.AccessModerator,
			Handle:      p.cmdHelp,
		},
		{
			Route:       "modpings off",
			Description: "temporarily remove the pingable moderators role",
			Usage:       "modpings off <duration>",
			Access:      plugin.AccessModerator,
			NeedsReady:  true,
			Handle:      p.cmdOff,
		},
		{
			Route:       "modpings on",
			Description: "re-apply the pingable moderators role",
			Usage:       "modpings on",
			Access:      plugin.AccessModerator,
			NeedsReady:  true,
			Handle:      p.cmdOn,
		},
		{
			Route:       "modpings schedule",
			Description: "put the moderators role on a recurring shift",
			Usage:       "modpings schedule <start> <end>",
			Access:      plugin.AccessModerator,
			NeedsReady:  true,
			Handle:      p.cmdSchedule,
		},
		{
			Route:       "modpings schedule cancel",
			Description: "cancel your recurring shift schedule",
			Usage:       "modpings schedule cancel",
			Access:      plugin.AccessModerator,
			NeedsReady:  true,
			Handle:      p.cmdScheduleCancel,
		},
	}
}

func (p *Plugin) cmdHelp(ctx context.Context, req *plugin.Request) error {
	msg := dcui.New().
		Title("🔔", "modpings").
		Line("Remove and re-add the pingable moderators role.").
		Blank().
		RawLine("`modpings off <duration>` — pings off for a duration (max 30 days)").
		RawLine("`modpings on` — pings back on").
		RawLine("`modpings schedule <start> <end>` — recurring shift, UTC wall-clock times").
		RawLine("`modpings schedule cancel` — stop the recurring shift").
		Blank().
		RawLine("Duration units (case-sensitive): `y` years, `m` months, `w` weeks, `d` days, `h` hours, `M` minutes, `s` seconds. An ISO-8601 timestamp also works.").
		Build()
	_, err := msg.Send(ctx, req.Adapter, req.Chat)
	return err
}

// cmdOff removes the moderators role from the caller until the given time.
func (p *Plugin) cmdOff(ctx context.Context, req *plugin.Request) error {
	if len(req.Args) == 0 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: `modpings off <duration>`", nil)
		return err
	}

	now := time.Now().UTC().Truncate(time.Second)
	until, err := ParseExpiry(now, strings.Join(req.Args, " "))
	if err != nil {
		_, serr := dcmsg.SendDenial(ctx, req.Adapter, req.Chat, err.Error())
		return serr
	}
	until = until.Truncate(time.Second)

	if until.Sub(now) > p.options().maxOff() {
		_, err := req.Adapter.SendText(ctx, req.Chat, ":x: Cannot remove the role for longer than 30 days.", nil)
		return err
	}

	guildID, roleID := p.guildRole(req)
	modID := req.FromID

	untilWire := until.Format(offWireLayout)
	reason := fmt.Sprintf("Turned pings off until %s.", untilWire)
	if err := req.Services.Roles.RemoveRole(ctx, guildID, modID, roleID, reason); err != nil {
		return fmt.Errorf("remove moderators role: %w", err)
	}

	// Persist before arming so a crash in between is recovered on restart.
	if st := p.store(); st != nil {
		if err := st.SetOffUntil(ctx, modID, until); err != nil {
			return fmt.Errorf("persist off period: %w", err)
		}
	}

	// Allow rescheduling without going through the `on` command first.
	sch := p.scheduler()
	sch.Cancel(offKey(modID))
	if err := sch.ScheduleAt(offKey(modID), until, p.reapplyJob(guildID, modID)); err != nil {
		return fmt.Errorf("arm role re-apply: %w", err)
	}

	p.audit(ctx, modID, "pings_off", untilWire)

	_, err = req.Adapter.SendEmbed(ctx, req.Chat, kit.Embed{
		Color:     colorBrightGreen,
		Footer:    "Moderators role has been removed until",
		Timestamp: &until,
	})
	return err
}

// cmdOn re-applies the moderators role and clears the off period.
func (p *Plugin) cmdOn(ctx context.Context, req *plugin.Request) error {
	guildID, roleID := p.guildRole(req)
	modID := req.FromID

	has, err := req.Services.Roles.MemberHasRole(ctx, guildID, modID, roleID)
	if err != nil {
		return fmt.Errorf("check moderators role: %w", err)
	}
	if has {
		_, err := req.Adapter.SendText(ctx, req.Chat, ":question: You already have the role.", nil)
		return err
	}

	if err := req.Services.Roles.AddRole(ctx, guildID, modID, roleID, "Pings off period canceled."); err != nil {
		return fmt.Errorf("add moderators role: %w", err)
	}

	if st := p.store(); st != nil {
		if err := st.DeleteOffUntil(ctx, modID); err != nil {
			p.Log.Warn("off period not cleared from store", logx.String("mod_id", modID), logx.Err(err))
		}
	}

	if !p.scheduler().Cancel(offKey(modID)) {
		// The timer should exist whenever an off period is active.
		p.Log.Debug("no pending re-apply timer on pings on", logx.String("mod_id", modID))
	}

	p.audit(ctx, modID, "pings_on", "")

	_, err = req.Adapter.SendText(ctx, req.Chat, emojiCheckMark+" Moderators role has been re-applied.", nil)
	return err
}

// cmdSchedule sets up a recurring shift: role on at start, off at end, daily.
func (p *Plugin) cmdSchedule(ctx context.Context, req *plugin.Request) error {
	if len(req.Args) < 2 {
		_, err := req.Adapter.SendText(ctx, req.Chat, "usage: `modpings schedule <start> <end>`", nil)
		return err
	}

	now := time.Now().UTC()
	start, err := parseClock(now, req.Args[0])
	if err != nil {
		_, serr := dcmsg.SendDenial(ctx, req.Adapter, req.Chat, err.Error())
		return serr
	}
	end, err := parseClock(now, req.Args[1])
	if err != nil {
		_, serr := dcmsg.SendDenial(ctx, req.Adapter, req.Chat, err.Error())
		return serr
	}

	// An end before the start crosses midnight.
	if end.Before(start) {
		end = end.Add(24 * time.Hour)
	}

	work := end.Sub(start)
	if work < p.options().minWork() {
		msg := fmt.Sprintf(":x: %s You need to have the role on for a minimum of %d hours!",
			mention(req.FromID), int(p.options().minWork().Hours()))
		_, err := req.Adapter.SendText(ctx, req.Chat, msg, nil)
		return err
	}

	guildID, roleID := p.guildRole(req)
	modID := req.FromID

	if st := p.store(); st != nil {
		if err := st.SetShift(ctx, storage.ShiftEntry{ModID: modID, Start: start, Work: work}); err != nil {
			return fmt.Errorf("persist shift schedule: %w", err)
		}
	}

	if err := p.armShiftOn(guildID, modID, roleID, start, work); err != nil {
		return fmt.Errorf("arm shift start: %w", err)
	}

	p.audit(ctx, modID, "shift_set", fmt.Sprintf("%s work=%s", start.Format(offWireLayout), work))

	msg := fmt.Sprintf("%s %s Scheduled mod pings from %s to %s UTC Timing!",
		emojiOKHand, mention(modID), start.Format("03:04PM"), end.Format("03:04PM"))
	_, err = req.Adapter.SendText(ctx, req.Chat, msg, nil)
	return err
}

// cmdScheduleCancel removes the caller's recurring shift.
func (p *Plugin) cmdScheduleCancel(ctx context.Context, req *plugin.Request) error {
	modID := req.FromID

	had := p.scheduler().Cancel(shiftKey(modID))
	if st := p.store(); st != nil {
		if err := st.DeleteShift(ctx, modID); err != nil {
			return fmt.Errorf("delete shift schedule: %w", err)
		}
	}

	if !had && p.store() == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, ":question: You don't have a mod pings schedule.", nil)
		return err
	}

	p.audit(ctx, modID, "shift_cancel", "")

	_, err := req.Adapter.SendText(ctx, req.Chat, emojiCheckMark+" Your mod pings schedule has been cancelled.", nil)
	return err
}

func (p *Plugin) guildRole(req *plugin.Request) (guildID, roleID string) {
	guildID = req.GuildID
	if req.Config != nil {
		if guildID == "" {
			guildID = req.Config.Discord.GuildID
		}
		roleID = req.Config.Discord.ModeratorsRoleID
	}
	return guildID, roleID
}

func mention(userID string) string { return "<@" + userID + ">" }
