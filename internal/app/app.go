package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"modbot/internal/config"
	"modbot/internal/eventbus"
	"modbot/internal/storage"
	"modbot/internal/task/scheduler"
	kit "modbot/internal/transport"
	discord "modbot/internal/transport/discord/adapter"
	logx "modbot/pkg/logx"
)

// readyFallback opens the command gate even if no plugin ever signals
// readiness, so a broken reconciler can't lock commands out forever.
const readyFallback = 2 * time.Minute

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *discord.Adapter
	sched   *scheduler.Service

	cmdm *CommandManager
	pm   *PluginManager

	serv *Services

	updates   chan kit.Update
	readyOnce sync.Once
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return nil, fmt.Errorf("discord.token is required")
	}
	if strings.TrimSpace(cfg.Discord.GuildID) == "" {
		return nil, fmt.Errorf("discord.guild_id is required")
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "discord"))
	ad, err := discord.New(discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the Discord sink disabled, set the target, then apply
	// the final config so Apply() doesn't warn about a missing channel.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    false,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	logSvc.SetDiscordTarget(strings.TrimSpace(cfg.Discord.LogChannelID))
	finalLogCfg := baseLogCfg
	finalLogCfg.Discord.Enabled = cfg.Logging.Discord.Enabled
	logSvc.Apply(finalLogCfg)

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		log.Warn("storage disabled; schedules will not survive restarts")
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedSvc := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)

	serv := &Services{
		Scheduler: schedSvc,
		Store:     store,
		Roles:     ad,
	}

	cmdm := NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfgm, serv)
	serv.Waiter = cmdm

	pm := NewPluginManager(log.With(logx.String("comp", "plugins")), cfgm, PluginDeps{
		Logger:   log,
		Adapter:  ad,
		Roles:    ad,
		Uploader: ad,
		Config:   cfgm,
		Services: serv,
		Bus:      bus,
		Store:    store,
	}, cmdm)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   schedSvc,
		cmdm:    cmdm,
		pm:      pm,
		serv:    serv,
		updates: make(chan kit.Update, 256),
	}, nil
}

func (a *App) Plugins() *PluginManager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))
	a.serv.AppSupervisor = a.sup

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *Config) error {
		if strings.TrimSpace(cfg.Discord.Token) == "" {
			return fmt.Errorf("discord.token is required")
		}
		if cfg.Scheduler.Workers < 0 {
			return fmt.Errorf("scheduler.workers must be >= 0")
		}
		if cfg.Scheduler.HistorySize < 0 {
			return fmt.Errorf("scheduler.history_size must be >= 0")
		}
		if cfg.Scheduler.RetryMax < 0 {
			return fmt.Errorf("scheduler.retry_max must be >= 0")
		}
		if _, err := parseDurationField("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if a.pm != nil {
			return a.pm.ValidateConfig(c, cfg)
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	// The command gate stays closed until a plugin finishes its startup
	// reconciliation and publishes "<plugin>.ready" on the bus.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.watch", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if strings.HasSuffix(e.Type, ".ready") {
					a.markReady("event " + e.Type)
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
	a.sup.Go0("ready.fallback", func(c context.Context) {
		select {
		case <-c.Done():
		case <-time.After(readyFallback):
			a.markReady("fallback timeout")
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer, ok := <-sub:
						if !ok {
							break drain
						}
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}

				sections, attrs, pluginChanged := config.SummarizeConfigChange(lastApplied, newCfg)
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Debug("config change summary", fields...)
					if len(pluginChanged) > 0 {
						a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
					}
				} else {
					a.log.Debug("config reload received, but no effective changes detected")
				}
				lastApplied = newCfg

				for _, s := range sections {
					if s == "storage" {
						a.log.Warn("storage config changed; restart required for changes to take effect")
						break
					}
				}

				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) markReady(via string) {
	a.readyOnce.Do(func() {
		a.cmdm.SetReady()
		a.log.Info("command gate open", logx.String("via", via))
	})
}

func (a *App) applyConfig(ctx context.Context, cfg *Config) {
	if cfg == nil {
		return
	}

	a.logs.SetDiscordTarget(strings.TrimSpace(cfg.Discord.LogChannelID))
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	})

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.sched.Enabled()
		a.sched.Apply(schedCfg)
		if prevEnabled && !schedCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && schedCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	a.pm.OnConfigUpdate(ctx, cfg)
	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound each shutdown step so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
