// Package logflags configures the debugger's diagnostic log. Nothing is
// logged until Setup is called with a level.
package logflags

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	l.Formatter = &logrus.TextFormatter{DisableTimestamp: true}
	return l
}

// Setup sends the log to file, or stderr when file is empty, at the given
// level. An empty level keeps the log disabled.
func Setup(level, file string) (io.Closer, error) {
	if level == "" {
		logger.Out = io.Discard
		return io.NopCloser(nil), nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)

	if file == "" {
		logger.Out = os.Stderr
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	logger.Out = f
	return f, nil
}

// New returns a log entry for one layer of the debugger, e.g. "gdbconn".
func New(layer string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{"layer": layer})
}
