// Package logging configures the logrus logger shared by the service.
package logging

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/visionscript/capture-service/internal/models"
)

// New creates a logger from the log section of the config
func New(config models.LogConfig) (*logrus.Logger, error) {
	return NewWithOutput(config, os.Stdout)
}

// NewWithOutput is New writing to out
func NewWithOutput(config models.LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", config.Level)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unsupported log format %q", config.Format)
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
