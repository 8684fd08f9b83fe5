// Package modpings lets moderators toggle the pingable moderators role off
// for a bounded period, or put it on a recurring shift schedule. Pending
// role transitions are persisted so they survive restarts; a startup
// reconciler re-arms timers from the store against live guild state.
package modpings

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"modbot/internal/plugin"
	"modbot/internal/storage"
	logx "modbot/pkg/logx"
)

// EventReady is published on the event bus once startup reconciliation has
// finished and commands can safely mutate role state.
const EventReady = "modpings.ready"

const (
	defaultMinWorkHours = 16
	defaultMaxOffDays   = 30

	// Gap between a shift's off transition and the next cycle's start.
	shiftGap = time.Minute
)

// Options is the per-plugin config blob.
type Options struct {
	MinWorkHours  int    `json:"min_work_hours,omitempty"`
	MaxOffDays    int    `json:"max_off_days,omitempty"`
	SweepInterval string `json:"sweep_interval,omitempty"` // Go duration string, "" disables
}

func (o Options) minWork() time.Duration {
	h := o.MinWorkHours
	if h <= 0 {
		h = defaultMinWorkHours
	}
	return time.Duration(h) * time.Hour
}

func (o Options) maxOff() time.Duration {
	d := o.MaxOffDays
	if d <= 0 {
		d = defaultMaxOffDays
	}
	return time.Duration(d) * 24 * time.Hour
}

type Plugin struct {
	plugin.PluginBase

	mu  sync.Mutex
	opt Options
}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) Name() string { return "modpings" }

func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	opt, err := plugin.DecodePluginConfig[Options](raw)
	if err != nil {
		return err
	}
	if opt.MinWorkHours < 0 {
		return fmt.Errorf("min_work_hours must be >= 0")
	}
	if opt.MaxOffDays < 0 {
		return fmt.Errorf("max_off_days must be >= 0")
	}
	if opt.SweepInterval != "" {
		if _, err := time.ParseDuration(opt.SweepInterval); err != nil {
			return fmt.Errorf("sweep_interval: %w", err)
		}
	}
	return nil
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	opt, err := plugin.DecodePluginConfig[Options](raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.opt = opt
	p.mu.Unlock()
	return nil
}

func (p *Plugin) options() Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opt
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)

	p.Runner.Go0("modpings.reconcile", func(c context.Context) {
		if err := p.reconcile(c); err != nil {
			// Fail open: commands still work, timers rebuild on next start.
			p.Log.Warn("startup reconciliation incomplete", logx.Err(err))
		}
		p.PublishEvent(EventReady, nil)
	})

	if iv := p.sweepInterval(); iv > 0 {
		if err := p.Every("sweep", iv, 30*time.Second, p.sweep); err != nil {
			p.Log.Warn("drift sweep not registered", logx.Err(err))
		}
	}
	return nil
}

func (p *Plugin) sweepInterval() time.Duration {
	s := p.options().SweepInterval
	if s == "" {
		return time.Minute
	}
	iv, err := time.ParseDuration(s)
	if err != nil || iv <= 0 {
		return 0
	}
	return iv
}

func (p *Plugin) Stop(ctx context.Context) error {
	if sch := p.scheduler(); sch != nil {
		for _, t := range sch.Snapshot().Timers {
			if isOwnKey(t.Key) {
				sch.Cancel(t.Key)
			}
		}
	}
	return p.StopBase(ctx)
}

// ---- small accessors ----

func (p *Plugin) scheduler() plugin.SchedulerPort {
	if p.Deps.Services == nil {
		return nil
	}
	return p.Deps.Services.Scheduler
}

func (p *Plugin) store() storage.Store { return p.Deps.Store }

func (p *Plugin) audit(ctx context.Context, modID, action, detail string) {
	err := p.AppendAudit(ctx, storage.AuditEntry{
		ID:     uuid.NewString(),
		At:     time.Now().UTC(),
		ModID:  modID,
		Action: action,
		Detail: detail,
	})
	if err != nil && p.store() != nil {
		p.Log.Debug("audit append failed", logx.Err(err))
	}
}

const (
	offKeyPrefix   = "modpings:off:"
	shiftKeyPrefix = "modpings:shift:"
)

func offKey(modID string) string   { return offKeyPrefix + modID }
func shiftKey(modID string) string { return shiftKeyPrefix + modID }

func isOwnKey(key string) bool {
	return strings.HasPrefix(key, offKeyPrefix) || strings.HasPrefix(key, shiftKeyPrefix)
}
