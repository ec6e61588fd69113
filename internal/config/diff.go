package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else
// is reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true if any recorder tunable changed. Sessions already
	// recording keep their old values.
	VADChanged bool

	// AnimationSpeedChanged is true if animation.speed changed.
	AnimationSpeedChanged bool

	// ConversationChanged is true if welcome text, verification prompt,
	// reset grace or the failure bound changed.
	ConversationChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && !d.AnimationSpeedChanged &&
		!d.ConversationChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.VADChanged = old.VAD != new.VAD
	d.AnimationSpeedChanged = old.Animation.Speed != new.Animation.Speed
	d.ConversationChanged = old.Conversation != new.Conversation

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.StaticDir != new.Server.StaticDir ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Animation.BaseDuration != new.Animation.BaseDuration || old.Animation.FrameRate != new.Animation.FrameRate {
		d.RestartRequired = append(d.RestartRequired, "animation")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	// ProviderEntry.Options holds maps, so the collaborator blocks are not
	// comparable with ==.
	if !reflect.DeepEqual(old.Collaborators, new.Collaborators) {
		d.RestartRequired = append(d.RestartRequired, "collaborators")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
