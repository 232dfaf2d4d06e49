// Package logging builds the per-component zerolog.Logger used
// throughout the cluster, the structured generalization of the
// reference system's named, colored Logger.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// New returns a logger tagged with the given component name.
func New(component string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ForNode returns a component logger additionally tagged with the
// owning node's address.
func ForNode(component, node string) zerolog.Logger {
	return New(component).With().Str("node", node).Logger()
}
