// Package logging provides the subsystem-logger wiring shared by every
// long-running component, following the same per-subsystem btclog.Logger
// pattern used throughout the btcsuite/lnd corpus.
package logging

import (
	"os"

	"github.com/btcsuite/btclog"
)

// backend writes all subsystem loggers to stdout. Operators that want file
// output wrap it with their own io.Writer before calling NewSubsystemLogger.
var backend = btclog.NewBackend(os.Stdout)

// registry holds every logger handed out so SetLevel/SetLevels can retune
// them at runtime (e.g. in response to a SIGHUP or a config reload).
var registry = make(map[string]btclog.Logger)

// NewSubsystemLogger returns (creating if necessary) the logger for the
// given subsystem tag, e.g. "BTCC" for internal/btcclient, "INDX" for
// internal/indexer. Tags are short, upper-case, and fixed width by
// convention in this codebase, matching btcsuite's own subsystem tags.
func NewSubsystemLogger(tag string) btclog.Logger {
	if log, ok := registry[tag]; ok {
		return log
	}

	log := backend.Logger(tag)
	log.SetLevel(btclog.LevelInfo)
	registry[tag] = log

	return log
}

// SetLevel sets the log level for a single subsystem tag. A no-op if the
// tag hasn't been registered yet.
func SetLevel(tag string, level btclog.Level) {
	if log, ok := registry[tag]; ok {
		log.SetLevel(level)
	}
}

// SetLevels sets the log level across every registered subsystem, used at
// startup to apply the configured global log level before per-subsystem
// overrides are layered on top.
func SetLevels(level btclog.Level) {
	for _, log := range registry {
		log.SetLevel(level)
	}
}
