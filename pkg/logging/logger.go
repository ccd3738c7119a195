package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. The master, node, and client components
// log through it, tagged with a "component" field; pkg/env's missing-.env
// notice is the one message printed with the standard library log package.
var Log *logrus.Logger

// Init configures Log from a textual level ("debug", "info", "warn", ...)
// and an environment name. "production" gets JSON output for log shipping;
// anything else gets a human-readable text formatter with full timestamps.
func Init(level, env string) {
	Log = logrus.New()
	Log.Out = os.Stdout

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if env == "production" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// For component logs through Log with a component field attached, matching
// the style used across the master, node, and client entry points.
func For(component string) *logrus.Entry {
	if Log == nil {
		Init("info", "development")
	}
	return Log.WithField("component", component)
}
