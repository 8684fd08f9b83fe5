package router

import (
	"context"
	"time"

	"modbot/internal/config"
	"modbot/internal/runtime/supervisor"
	"modbot/internal/storage"
	"modbot/internal/task/scheduler"
	kit "modbot/internal/transport"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.Manager

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.New

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

type RestartOption = supervisor.RestartOption

var WithRestartBackoff = supervisor.WithRestartBackoff

var WithPublishFirstError = supervisor.WithPublishFirstError

var WithStopOnCleanExit = supervisor.WithStopOnCleanExit

// ---- Service ports exposed to command handlers ----

// SchedulerPort is the subset of the scheduler API handlers may use.
type SchedulerPort interface {
	Enabled() bool
	Snapshot() scheduler.Snapshot

	ScheduleAt(key string, at time.Time, job scheduler.Job) error
	Replace(key string, at time.Time, job scheduler.Job) error
	Cancel(key string) bool
	CancelAll()
	Contains(key string) bool

	AddCron(name, spec string, timeout time.Duration, job scheduler.Job) error
	AddInterval(name string, every time.Duration, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
}

var _ SchedulerPort = (*scheduler.Service)(nil)

// RolesPort mirrors transport.RoleManager without importing it here twice.
type RolesPort interface {
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)
	MemberHasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
}

// ReactionWaiter delivers reactions added to a message; *Manager implements
// it and the app injects it here for reaction-gated flows.
type ReactionWaiter interface {
	WaitReaction(msgID string, ch chan<- kit.Reaction) (cancel func())
}

var _ ReactionWaiter = (*Manager)(nil)

type Services struct {
	Scheduler SchedulerPort
	Store     storage.Store
	Roles     RolesPort
	Waiter    ReactionWaiter

	// AppSupervisor is set by the app once started.
	// It can be nil in minimal/test environments.
	AppSupervisor *Supervisor
}
