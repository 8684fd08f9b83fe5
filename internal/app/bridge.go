package app

import (
	"time"

	"modbot/internal/config"
	"modbot/internal/plugin"
	"modbot/internal/runtime/supervisor"
	"modbot/internal/transport/discord/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.Manager

var NewConfigManager = config.NewManager

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Router ----

type Services = router.Services

type CommandManager = router.Manager

var NewCommandManager = router.NewManager

// ---- Plugin ----

type PluginManager = plugin.PluginManager

type PluginDeps = plugin.PluginDeps

var NewPluginManager = plugin.NewPluginManager

type StopReason = plugin.StopReason

const (
	StopShutdown      = plugin.StopShutdown
	StopPluginDisable = plugin.StopPluginDisable
)
