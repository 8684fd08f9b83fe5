package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is the durable schedule store. If omitted, storage is disabled
	// and schedules do not survive restarts.
	Storage *StorageConfig `json:"storage,omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`

	// ModeratorsRoleID is the pingable role being toggled on and off.
	ModeratorsRoleID string `json:"moderators_role_id"`

	// ModTeamRoleID marks full team membership; team members without the
	// moderators role are candidates for reconciliation.
	ModTeamRoleID string `json:"mod_team_role_id"`

	// ModerationRoleIDs are the roles allowed to run moderation commands.
	ModerationRoleIDs []string `json:"moderation_role_ids"`

	// LogChannelID receives the rate-limited log feed (empty disables it).
	LogChannelID string `json:"log_channel_id"`

	// CommandPrefix defaults to "!".
	CommandPrefix string `json:"command_prefix,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the task scheduler service.
//
// All durations are Go duration strings (e.g. "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	Workers int  `json:"workers"`
	// DefaultTimeout is applied to tasks that don't set their own.
	// Use "0s" to disable a global default timeout.
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
	RetryMax       int    `json:"retry_max,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// StorageConfig controls the durable schedule store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./modbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields to ensure removed legacy keys
// are caught early during config reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
