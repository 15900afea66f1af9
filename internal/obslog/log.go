// Package obslog provides the structured logging idiom shared by every
// worker in the pipeline: field-based records via logrus, one logger per
// component, correlation_id threaded through as a field rather than
// interpolated into the message string.
package obslog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Fields is a type alias so call sites don't need to import logrus directly.
type Fields = logrus.Fields

// New returns a component-scoped logger. Level is parsed from levelName;
// an unrecognized value falls back to info (configuration validation of
// LOG_LEVEL happens in internal/config, not here).
func New(component string, levelName string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	return l.WithField("component", component)
}
