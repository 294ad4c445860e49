// Package logging provides the structured logger threaded through the
// processor and the HTTP transport. Grounded on
// github.com/sirupsen/logrus, the same dependency i5heu-ouroboros-kv uses
// for a comparably small on-disk-store daemon.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger. jsonFormat selects structured JSON output (for
// production supervisors); otherwise a human-readable text formatter is
// used, matching logrus's own default split.
func New(level string, jsonFormat bool, out io.Writer) *logrus.Logger {
	log := logrus.New()
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	if jsonFormat {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// Nop returns a logger that discards everything, for tests and library
// callers that don't want daemon logging.
func Nop() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
