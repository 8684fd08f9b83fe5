package plugin

import (
	"modbot/internal/config"
	"modbot/internal/runtime/supervisor"
	"modbot/internal/transport/discord/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.Manager

// PluginConfigRaw is the raw per-plugin config blob inside config.Config.
// It lives in the config package to keep the schema centralized.
type PluginConfigRaw = config.PluginConfigRaw

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Router API ----

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessModerator = router.AccessModerator
)

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc

type Services = router.Services

type CommandManager = router.Manager

type SchedulerPort = router.SchedulerPort
