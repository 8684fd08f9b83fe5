package config

import (
	"encoding/json"
	"hash/fnv"
	"reflect"
	"sort"
	"strings"

	logx "modbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) a list of plugin names that changed (enable/config).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Discord (never log token)
	if strings.TrimSpace(oldCfg.Discord.GuildID) != strings.TrimSpace(newCfg.Discord.GuildID) ||
		strings.TrimSpace(oldCfg.Discord.ModeratorsRoleID) != strings.TrimSpace(newCfg.Discord.ModeratorsRoleID) ||
		strings.TrimSpace(oldCfg.Discord.ModTeamRoleID) != strings.TrimSpace(newCfg.Discord.ModTeamRoleID) ||
		!reflect.DeepEqual(oldCfg.Discord.ModerationRoleIDs, newCfg.Discord.ModerationRoleIDs) ||
		strings.TrimSpace(oldCfg.Discord.LogChannelID) != strings.TrimSpace(newCfg.Discord.LogChannelID) ||
		strings.TrimSpace(oldCfg.Discord.CommandPrefix) != strings.TrimSpace(newCfg.Discord.CommandPrefix) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.log_channel_set", strings.TrimSpace(newCfg.Discord.LogChannelID) != ""),
			logx.Int("discord.moderation_role_count", len(newCfg.Discord.ModerationRoleIDs)),
			logx.String("discord.command_prefix", strings.TrimSpace(newCfg.Discord.CommandPrefix)),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File != newCfg.Logging.File ||
		oldCfg.Logging.Discord != newCfg.Logging.Discord {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Storage (nil means disabled)
	oldS, newS := oldCfg.Storage, newCfg.Storage
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	// Plugins (summarize only; details at debug)
	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled || rawHash(o.Config) != rawHash(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// rawHash hashes a JSON blob after re-marshaling, so whitespace-only edits
// don't register as a change.
func rawHash(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var v any
	b := []byte(raw)
	if err := json.Unmarshal(b, &v); err == nil {
		if nb, err := json.Marshal(v); err == nil {
			b = nb
		}
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
