package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used throughout the gateway. It is satisfied
// by *logrus.Logger and *logrus.Entry.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// Component derives a component-scoped logger from a parent logger.
func Component(log Logger, name string) Logger {
	return log.WithField("component", name)
}
