// Package logging builds the connector's logrus logger.
package logging

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"idm-connector/internal/config"
)

// New returns a logger configured from cfg. Unknown levels are an error.
func New(cfg *config.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}
	logger.SetLevel(level)
	return logger, nil
}

// WithTrace returns an entry carrying the trace id of the span in ctx, if any.
func WithTrace(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	entry := logrus.NewEntry(logger)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry = entry.WithField("trace_id", sc.TraceID().String())
	}
	return entry
}
