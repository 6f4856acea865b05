package output

import (
	"fmt"
	"io"

	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/config"
	"idm-connector/internal/kafka"
	"idm-connector/internal/livesync"
	"idm-connector/internal/nats"
)

// Sink is a sync handler that owns resources.
type Sink interface {
	livesync.Handler
	Close() error
}

type nopCloser struct {
	livesync.Handler
}

func (nopCloser) Close() error { return nil }

// New builds the sink named by cfg.Output.Type. The NATS connection is owned
// by the caller; stdout writes to w.
func New(cfg *config.Config, nc *natsgo.Conn, w io.Writer, logger *logrus.Logger) (Sink, error) {
	switch cfg.Output.Type {
	case "", "stdout":
		return nopCloser{NewJSONLines(w)}, nil
	case "nats":
		if nc == nil {
			return nil, fmt.Errorf("output nats requires a NATS connection")
		}
		return nopCloser{nats.NewPublisher(nc, cfg.NATS.SubjectPrefix, logger)}, nil
	case "kafka":
		return kafka.NewProducer(&cfg.Kafka, logger), nil
	}
	return nil, fmt.Errorf("unsupported output type %q", cfg.Output.Type)
}
