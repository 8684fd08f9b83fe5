package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"modbot/internal/eventbus"
	"modbot/internal/storage"
	kit "modbot/internal/transport"
	logx "modbot/pkg/logx"
)

type StopReason string

const (
	StopShutdown      StopReason = "shutdown"
	StopPluginDisable StopReason = "disable"
)

type pluginEvent struct {
	Plugin string `json:"plugin"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps PluginDeps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// ConfigurablePlugin reacts to per-plugin config blob changes without a restart.
type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, raw json.RawMessage) error
}

type PluginDeps struct {
	Logger   logx.Logger
	Adapter  kit.Adapter
	Roles    kit.RoleManager
	Uploader kit.Uploader
	Config   *ConfigManager
	Services *Services
	Bus      eventbus.Bus
	Store    storage.Store
}

type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *ConfigManager
	deps PluginDeps
	reg  map[string]Plugin
	run  map[string]bool
	// inited tracks plugins that passed Init at least once. Init is not
	// re-called on enable/disable cycles to avoid double-initialization leaks.
	inited map[string]bool
	// last config blob hash per running plugin (skips redundant OnConfigChange)
	lastRawHash map[string]uint64

	// Long-lived base context for all plugin contexts. The app ctx passed to
	// StartAll/OnConfigUpdate may be call-scoped; it is only bridged so that
	// when it is done, baseCancel fires.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	// per-plugin run context (cancelled on disable/stop)
	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	cmdm *CommandManager
}

func NewPluginManager(log logx.Logger, cfgm *ConfigManager, deps PluginDeps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		cmdm:        cmdm,
	}
}

func (pm *PluginManager) emit(typ string, data pluginEvent) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// BindContext bridges the app context to the internal base context once:
// when appCtx is done, every plugin context is cancelled.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	if appCtx == nil {
		return
	}
	pm.mu.Lock()
	if pm.bound {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	cancel := pm.baseCancel
	pm.mu.Unlock()
	go func() {
		<-appCtx.Done()
		cancel()
	}()
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	pm.mu.Unlock()

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *Config) {
	pm.BindContext(ctx)
	_ = pm.reconcile(cfg)
}

// ValidateConfig runs every registered plugin's ConfigValidator against its
// blob in cfg, so a bad per-plugin config rejects the whole reload.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return nil
	}
	pm.mu.Lock()
	type pair struct {
		name string
		v    ConfigValidator
		raw  json.RawMessage
	}
	var pairs []pair
	for name, p := range pm.reg {
		v, ok := p.(ConfigValidator)
		if !ok {
			continue
		}
		pairs = append(pairs, pair{name: name, v: v, raw: cfg.Plugins[name].Config})
	}
	pm.mu.Unlock()

	for _, pr := range pairs {
		if err := pr.v.ValidateConfig(ctx, pr.raw); err != nil {
			return fmt.Errorf("plugins.%s: %w", pr.name, err)
		}
	}
	return nil
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	// cancel plugin context first (stop background loops promptly)
	if cancel != nil {
		cancel()
	}

	// call Stop with stopCtx, but never let a misbehaving plugin block shutdown forever
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
		pm.emit("plugin.stop_timeout", pluginEvent{Plugin: name, Reason: string(reason), Err: stopCtx.Err().Error()})
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit("plugin.stopped", pluginEvent{Plugin: name, Reason: string(reason), TookMS: took.Milliseconds()})
	pm.log.Debug("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
}

func (pm *PluginManager) reconcile(cfg *Config) error {
	type op struct {
		name    string
		p       Plugin
		raw     PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		enabled := ok && raw.Enabled
		ops = append(ops, op{
			name:    name,
			p:       p,
			raw:     raw,
			rawHash: canonicalHashJSON(raw.Config),
			enabled: enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()

	const callTimeout = 10 * time.Second

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.log.Debug("plugin enable requested", logx.String("plugin", o.name))
			pm.emit("plugin.enable_requested", pluginEvent{Plugin: o.name})

			// long-lived plugin ctx from the internal base ctx
			pctx, cancel := context.WithCancel(pm.baseCtx)

			pm.mu.Lock()
			needInit := !pm.inited[o.name]
			deps := pm.deps
			pm.mu.Unlock()
			if needInit {
				ictx, icancel := context.WithTimeout(pctx, callTimeout)
				err := pm.safeCall("plugin.init."+o.name, func() error { return o.p.Init(ictx, deps) })
				icancel()
				if err != nil {
					pm.log.Error("plugin init failed", logx.String("plugin", o.name), logx.Err(err))
					pm.emit("plugin.init_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
					cancel()
					continue
				}
				pm.mu.Lock()
				pm.inited[o.name] = true
				pm.mu.Unlock()
			}

			// apply config before Start
			if v, ok := o.p.(ConfigValidator); ok {
				cctx, ccancel := context.WithTimeout(pctx, callTimeout)
				err := v.ValidateConfig(cctx, o.raw.Config)
				ccancel()
				if err != nil {
					pm.log.Error("plugin config invalid", logx.String("plugin", o.name), logx.Err(err))
					pm.emit("plugin.config_invalid", pluginEvent{Plugin: o.name, Err: err.Error()})
					cancel()
					continue
				}
			}
			if cp, ok := o.p.(ConfigurablePlugin); ok {
				cctx, ccancel := context.WithTimeout(pctx, callTimeout)
				err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
				ccancel()
				if err != nil {
					pm.log.Error("plugin config apply failed", logx.String("plugin", o.name), logx.Err(err))
					pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
					cancel()
					continue
				}
			}

			if err := pm.startWithTimeout(o.name, o.p, pctx, cancel, callTimeout); err != nil {
				pm.log.Error("plugin start failed", logx.String("plugin", o.name), logx.Err(err))
				pm.emit("plugin.start_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
				cancel()
				continue
			}

			pm.mu.Lock()
			pm.run[o.name] = true
			pm.pctx[o.name] = pctx
			pm.pcancel[o.name] = cancel
			pm.lastRawHash[o.name] = o.rawHash
			pm.mu.Unlock()

			pm.log.Info("plugin started", logx.String("plugin", o.name))
			pm.emit("plugin.started", pluginEvent{Plugin: o.name})

		case !o.enabled && o.run:
			pm.log.Debug("plugin disable requested", logx.String("plugin", o.name))
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()

		case o.enabled && o.run:
			cp, ok := o.p.(ConfigurablePlugin)
			if !ok {
				break
			}
			pm.mu.Lock()
			oldHash := pm.lastRawHash[o.name]
			pctx := pm.pctx[o.name]
			pm.mu.Unlock()
			// Skip OnConfigChange when the blob didn't change, so unrelated
			// config reloads don't thrash schedules.
			if o.rawHash == oldHash {
				break
			}
			if pctx == nil {
				pctx = pm.baseCtx
			}
			cctx, ccancel := context.WithTimeout(pctx, callTimeout)
			err := pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
			ccancel()
			if err != nil {
				pm.log.Error("plugin config apply failed", logx.String("plugin", o.name), logx.Err(err))
				pm.emit("plugin.config_failed", pluginEvent{Plugin: o.name, Err: err.Error()})
				break
			}
			pm.emit("plugin.config_applied", pluginEvent{Plugin: o.name})
			pm.mu.Lock()
			pm.lastRawHash[o.name] = o.rawHash
			pm.mu.Unlock()
		}
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
	return nil
}

// startWithTimeout calls Start(pctx) but enforces a deadline. If it times
// out, the plugin ctx is cancelled.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	if timeout <= 0 {
		return <-done
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		return fmt.Errorf("start timed out after %s", timeout)
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", label, r)
		}
	}()
	return fn()
}

// refreshRegistryLocked rebuilds the command registry from running plugins.
// Call with pm.mu held.
func (pm *PluginManager) refreshRegistryLocked(cfg *Config) {
	if pm.cmdm == nil {
		return
	}
	var cmds []Command
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		if !ok || !raw.Enabled {
			continue
		}
		for _, c := range pm.safeCommands(name, p) {
			if c.PluginName == "" {
				c.PluginName = name
			}
			cmds = append(cmds, c)
		}
	}
	pm.cmdm.SetRegistry(cmds)
}

func (pm *PluginManager) safeCommands(name string, p Plugin) (out []Command) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("plugin Commands() panicked", logx.String("plugin", name), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Commands()
}

// Running reports whether the named plugin is currently started.
func (pm *PluginManager) Running(name string) bool {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.run[name]
}
