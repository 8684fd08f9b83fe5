package modpings

import (
	"context"
	"fmt"
	"time"

	logx "modbot/pkg/logx"
)

// reapplyJob returns the moderators role when an off period expires.
func (p *Plugin) reapplyJob(guildID, modID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		roleID := p.moderatorsRoleID()
		if err := p.Deps.Roles.AddRole(ctx, guildID, modID, roleID, "Pings off period expired."); err != nil {
			return fmt.Errorf("re-apply moderators role: %w", err)
		}
		if st := p.store(); st != nil {
			if err := st.DeleteOffUntil(ctx, modID); err != nil {
				p.Log.Warn("expired off period not cleared from store", logx.String("mod_id", modID), logx.Err(err))
			}
		}
		p.audit(ctx, modID, "pings_reapplied", "")
		return nil
	}
}

// armShiftOn arms (or re-arms) the on-duty transition of a shift cycle.
// Replace semantics: a new schedule for the same moderator displaces the
// previous cycle's pending timer.
func (p *Plugin) armShiftOn(guildID, modID, roleID string, start time.Time, work time.Duration) error {
	if work <= 0 {
		return fmt.Errorf("shift work duration must be positive, got %s", work)
	}
	return p.scheduler().Replace(shiftKey(modID), start, p.shiftOnJob(guildID, modID, roleID, start, work))
}

// shiftOnJob applies the role at the start of a shift and arms the off
// transition. The scheduler removes the key before running the job, so
// re-arming under the same key is safe.
func (p *Plugin) shiftOnJob(guildID, modID, roleID string, start time.Time, work time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if p.pingsOff(ctx, modID) {
			p.Log.Debug("shift start skipped, pings are off", logx.String("mod_id", modID))
		} else {
			if err := p.Deps.Roles.AddRole(ctx, guildID, modID, roleID, "Moderator schedule time started!"); err != nil {
				return fmt.Errorf("shift start, add role: %w", err)
			}
			p.audit(ctx, modID, "shift_on", start.Format(offWireLayout))
		}

		end := start.Add(work)
		if err := p.scheduler().ScheduleAt(shiftKey(modID), end, p.shiftOffJob(guildID, modID, roleID, start, work)); err != nil {
			return fmt.Errorf("arm shift end: %w", err)
		}
		return nil
	}
}

// shiftOffJob removes the role at the end of a shift and arms the next
// cycle one gap interval later.
func (p *Plugin) shiftOffJob(guildID, modID, roleID string, start time.Time, work time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := p.Deps.Roles.RemoveRole(ctx, guildID, modID, roleID, "Moderator schedule time expired."); err != nil {
			return fmt.Errorf("shift end, remove role: %w", err)
		}
		p.audit(ctx, modID, "shift_off", "")

		next := start.Add(work).Add(shiftGap)
		if err := p.scheduler().ScheduleAt(shiftKey(modID), next, p.shiftOnJob(guildID, modID, roleID, next, work)); err != nil {
			return fmt.Errorf("arm next shift cycle: %w", err)
		}
		return nil
	}
}

// pingsOff reports whether the moderator currently has an active off period.
func (p *Plugin) pingsOff(ctx context.Context, modID string) bool {
	if st := p.store(); st != nil {
		entries, err := st.OffUntilAll(ctx)
		if err == nil {
			for _, e := range entries {
				if e.ModID == modID {
					return true
				}
			}
			return false
		}
		p.Log.Warn("off period lookup failed", logx.Err(err))
	}
	return p.scheduler().Contains(offKey(modID))
}

// fastForward advances a stored shift start past cycles that completed while
// the process was down, so restarts don't replay stale on/off transitions.
func fastForward(start time.Time, work time.Duration, now time.Time) time.Time {
	if work <= 0 {
		return start
	}
	for !start.Add(work).After(now) {
		start = start.Add(work + shiftGap)
	}
	return start
}

func (p *Plugin) moderatorsRoleID() string {
	if cfg := p.Deps.Config.Get(); cfg != nil {
		return cfg.Discord.ModeratorsRoleID
	}
	return ""
}
