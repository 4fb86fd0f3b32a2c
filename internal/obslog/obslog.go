// Package obslog wires structured logging the way every geth-family
// daemon in this codebase's lineage does: one named sub-logger per
// component, backed by go-ethereum/log (slog underneath).
package obslog

import (
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
)

// Init installs the process-wide log handler. format is "json" for
// production (machine-parseable) or "terminal" for local development.
func Init(component string, level slog.Level, format string) {
	var handler slog.Handler
	if format == "json" {
		handler = log.JSONHandler(os.Stdout)
	} else {
		handler = log.NewTerminalHandler(os.Stdout, true)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(level)
	log.SetDefault(log.NewLogger(glogger))
	log.Root().Info("logger initialized", "component", component, "level", level.String(), "format", format)
}

// New returns a sub-logger scoped to a component name, e.g. "relay" or
// "validator.envelope".
func New(component string) log.Logger {
	return log.New("component", component)
}

// ParseLevel maps a lowercase level name to a slog level, defaulting to
// Info on anything unrecognized.
func ParseLevel(name string) slog.Level {
	switch name {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
