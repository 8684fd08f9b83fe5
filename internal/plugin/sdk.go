package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"modbot/internal/eventbus"
	"modbot/internal/storage"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

// ConfigValidator is an optional hook to validate plugin config before applying it.
type ConfigValidator interface {
	ValidateConfig(ctx context.Context, raw json.RawMessage) error
}

// PluginBase is a small helper to make writing plugins faster and safer.
// Typical usage:
//
//	type Plugin struct { plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.PluginDeps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log        logx.Logger
	Deps       PluginDeps
	Runner     *Supervisor
	pluginName string

	ctx context.Context
}

// InitBase wires deps + logger.
func (b *PluginBase) InitBase(deps PluginDeps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	if !deps.Logger.IsZero() {
		b.Log = deps.Logger.With(logx.String("plugin", pluginName))
	} else {
		b.Log = logx.Nop().With(logx.String("plugin", pluginName))
	}
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = NewSupervisor(ctx, WithLogger(b.Log), WithCancelOnError(false))
}

// StopBase cancels runner + waits bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context { return b.ctx }

// Supervisor returns the per-plugin supervisor, if StartBase has been called.
func (b *PluginBase) Supervisor() *Supervisor { return b.Runner }

// Scheduler helpers (namespaced by plugin).

func (b *PluginBase) Every(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return errors.New("scheduler not available")
	}
	return b.Deps.Services.Scheduler.AddInterval(b.ns(name), every, timeout, job)
}

func (b *PluginBase) Cron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Services == nil || b.Deps.Services.Scheduler == nil {
		return errors.New("scheduler not available")
	}
	return b.Deps.Services.Scheduler.AddCron(b.ns(name), spec, timeout, job)
}

func (b *PluginBase) ns(name string) string {
	if b.pluginName == "" {
		return name
	}
	if name == "" {
		return b.pluginName
	}
	return b.pluginName + ":" + name
}

// AppendAudit writes an audit entry to the configured storage (if present).
// Plugins should treat this as best-effort.
func (b *PluginBase) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	if b == nil {
		return errors.New("plugin is nil")
	}
	st := b.Deps.Store
	if st == nil {
		return errors.New("storage not available")
	}
	return st.AppendAudit(ctx, e)
}

// PublishEvent publishes a lightweight event to the in-process event bus.
// Publish is non-blocking.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// Send is a convenience wrapper for plain channel messages.
func (b *PluginBase) Send(ctx context.Context, channelID, text string) error {
	if b.Deps.Adapter == nil {
		return errors.New("adapter not available")
	}
	_, err := b.Deps.Adapter.SendText(ctx, kit.ChatTarget{ChannelID: channelID}, text, nil)
	return err
}

// DecodePluginConfig decodes per-plugin raw json into a typed config struct.
func DecodePluginConfig[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
