package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// (provider credentials, listen address, backend URL) requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	GreetingChanged bool
	NewGreeting     string

	LexiconChanged  bool
	NewLexiconTerms []string
}

// Empty reports whether the diff carries no reloadable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.GreetingChanged && !d.LexiconChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Agent.Greeting != new.Agent.Greeting {
		d.GreetingChanged = true
		d.NewGreeting = new.Agent.Greeting
	}

	if !slices.Equal(old.Agent.LexiconTerms, new.Agent.LexiconTerms) {
		d.LexiconChanged = true
		d.NewLexiconTerms = new.Agent.LexiconTerms
	}

	return d
}
