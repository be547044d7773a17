// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the logrus loggers used across the harvester.
// Engine components receive an *logrus.Entry tagged with their component name
// and treat a nil entry as "discard".
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pdiddy/research-harvester/pkg/types"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New returns a logger writing to w (stderr when nil) at the configured level
// and format. Unknown levels fall back to info.
func New(cfg types.LogConfig, w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := logrus.New()
	logger.SetOutput(w)

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timestampFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	}
	return logger
}

// FromEnv reads LOG_LEVEL and LOG_FORMAT, letting DEBUG=1 imply debug level.
func FromEnv() types.LogConfig {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
		if os.Getenv("DEBUG") == "1" {
			level = "debug"
		}
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "text"
	}
	return types.LogConfig{Level: level, Format: format}
}

// Component returns an entry tagged with the component name.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		return Discard().WithField("component", name)
	}
	return logger.WithField("component", name)
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OrDiscard returns e, or a discarding entry when e is nil.
func OrDiscard(e *logrus.Entry) *logrus.Entry {
	if e == nil {
		return logrus.NewEntry(Discard())
	}
	return e
}
