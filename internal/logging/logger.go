// Package logging provides structured logging for the orchestrator core.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with the fields this service attaches
// consistently: engine, stream, and container identity.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger at the given level ("debug", "info", "warn", "error")
// and format ("json" or "text").
func New(level, format string) *Logger {
	l := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}
	l.SetOutput(os.Stdout)

	return &Logger{Logger: l}
}

// NewFromEnv builds a Logger from LOG_LEVEL and LOG_FORMAT, defaulting to
// "info" and "json" when unset.
func NewFromEnv() *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(level, format)
}

// WithEngine returns an entry tagged with the engine's key.
func (l *Logger) WithEngine(engineKey string) *logrus.Entry {
	return l.Logger.WithField("engine_key", engineKey)
}

// WithStream returns an entry tagged with a stream id, and optionally the
// engine it belongs to.
func (l *Logger) WithStream(streamID, engineKey string) *logrus.Entry {
	fields := logrus.Fields{"stream_id": streamID}
	if engineKey != "" {
		fields["engine_key"] = engineKey
	}
	return l.Logger.WithFields(fields)
}

// WithContainer returns an entry tagged with a runtime container id.
func (l *Logger) WithContainer(containerID string) *logrus.Entry {
	return l.Logger.WithField("container_id", containerID)
}
