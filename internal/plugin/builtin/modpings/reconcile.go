package modpings

import (
	"context"
	"fmt"
	"time"

	logx "modbot/pkg/logx"
)

// reconcile rebuilds scheduler state from the durable store against live
// guild state. It runs once at startup, after the gateway session is ready:
//
//  1. moderators currently holding the role must not have a stale off entry;
//  2. mod-team members without the role and without an off entry get it
//     re-applied (fail open: a lost entry turns pings back on);
//  3. mod-team members with an off entry get a re-apply timer at the stored
//     expiry;
//  4. every stored shift schedule is re-armed, skipping cycles that
//     completed while the process was down.
func (p *Plugin) reconcile(ctx context.Context) error {
	if err := p.Deps.Adapter.Ready(ctx); err != nil {
		return fmt.Errorf("wait for gateway: %w", err)
	}

	cfg := p.Deps.Config.Get()
	if cfg == nil {
		return fmt.Errorf("config unavailable")
	}
	guildID := cfg.Discord.GuildID
	roleID := cfg.Discord.ModeratorsRoleID
	teamRoleID := cfg.Discord.ModTeamRoleID

	onDuty, err := p.Deps.Roles.RoleMembers(ctx, guildID, roleID)
	if err != nil {
		return fmt.Errorf("list moderators role members: %w", err)
	}
	team, err := p.Deps.Roles.RoleMembers(ctx, guildID, teamRoleID)
	if err != nil {
		return fmt.Errorf("list mod team members: %w", err)
	}

	hasRole := make(map[string]bool, len(onDuty))
	for _, id := range onDuty {
		hasRole[id] = true
	}

	offUntil := map[string]time.Time{}
	if st := p.store(); st != nil {
		entries, err := st.OffUntilAll(ctx)
		if err != nil {
			return fmt.Errorf("load off periods: %w", err)
		}
		for _, e := range entries {
			offUntil[e.ModID] = e.Until
		}
	}

	p.Log.Debug("applying the moderators role to the mod team where necessary",
		logx.Int("team", len(team)), logx.Int("on_duty", len(onDuty)), logx.Int("off_entries", len(offUntil)))

	reapplied, armed := 0, 0
	for _, modID := range team {
		if hasRole[modID] {
			// On-duty mods must not linger in the store.
			if _, ok := offUntil[modID]; ok {
				if err := p.store().DeleteOffUntil(ctx, modID); err != nil {
					p.Log.Warn("stale off entry not deleted", logx.String("mod_id", modID), logx.Err(err))
				}
			}
			continue
		}

		until, ok := offUntil[modID]
		if !ok {
			// Keep the role off only for mods with a stored off period.
			if err := p.Deps.Roles.AddRole(ctx, guildID, modID, roleID, "Pings off period expired."); err != nil {
				p.Log.Warn("role not re-applied", logx.String("mod_id", modID), logx.Err(err))
				continue
			}
			reapplied++
			continue
		}

		if err := p.scheduler().Replace(offKey(modID), until, p.reapplyJob(guildID, modID)); err != nil {
			p.Log.Warn("re-apply timer not armed", logx.String("mod_id", modID), logx.Err(err))
			continue
		}
		armed++
	}

	shifts := 0
	if st := p.store(); st != nil {
		entries, err := st.ShiftAll(ctx)
		if err != nil {
			return fmt.Errorf("load shift schedules: %w", err)
		}
		now := time.Now().UTC()
		for _, e := range entries {
			start := fastForward(e.Start, e.Work, now)
			if err := p.armShiftOn(guildID, e.ModID, roleID, start, e.Work); err != nil {
				p.Log.Warn("shift cycle not armed", logx.String("mod_id", e.ModID), logx.Err(err))
				continue
			}
			shifts++
		}
	}

	p.Log.Info("moderator pings reconciled",
		logx.Int("reapplied", reapplied), logx.Int("timers", armed), logx.Int("shifts", shifts))
	return nil
}

// sweep catches timers that drifted out of the scheduler: an expired off
// entry with no pending re-apply timer means the mod is stuck without the
// role until the next restart. Runs periodically, cheap when idle.
func (p *Plugin) sweep(ctx context.Context) error {
	st := p.store()
	if st == nil {
		return nil
	}
	cfg := p.Deps.Config.Get()
	if cfg == nil {
		return nil
	}

	entries, err := st.OffUntilAll(ctx)
	if err != nil {
		return fmt.Errorf("load off periods: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if e.Until.After(now) || p.scheduler().Contains(offKey(e.ModID)) {
			continue
		}
		p.Log.Warn("overdue off period with no timer, re-applying role", logx.String("mod_id", e.ModID))
		if err := p.reapplyJob(cfg.Discord.GuildID, e.ModID)(ctx); err != nil {
			p.Log.Warn("overdue re-apply failed", logx.String("mod_id", e.ModID), logx.Err(err))
		}
	}
	return nil
}
