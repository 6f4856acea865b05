package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/models"
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// Publisher delivers sync output to NATS. Events go to <prefix>.<entity>,
// checkpoints to <prefix>.<entity>.checkpoint.
type Publisher struct {
	conn   conn
	prefix string
	logger *logrus.Logger
}

// Connect dials url with reconnect handling.
func Connect(url string, maxReconnect int, reconnectWait time.Duration, logger *logrus.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("idm-connector"),
		nats.MaxReconnects(maxReconnect),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", url)
	return nc, nil
}

// NewPublisher publishes on nc under prefix.
func NewPublisher(nc *nats.Conn, prefix string, logger *logrus.Logger) *Publisher {
	return &Publisher{conn: nc, prefix: prefix, logger: logger}
}

// HandleEvent publishes one change event. The event id is sent as
// Nats-Msg-Id so JetStream streams de-duplicate redelivered passes.
func (p *Publisher) HandleEvent(_ context.Context, event *models.ChangeEvent) error {
	// Raw JSON is set when a script reshaped the event
	data := event.RawJSON
	if len(data) == 0 {
		var err error
		data, err = json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}

	msg := nats.NewMsg(p.prefix + "." + event.Entity)
	msg.Header.Set(nats.MsgIdHdr, event.ID)
	msg.Data = data

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	p.logger.Debugf("Published %s event for %s %s", event.Type, event.Entity, event.Identity)
	return nil
}

// HandleCheckpoint flushes pending events, then announces the checkpoint.
// The flush makes sure the server has every event before the caller commits.
func (p *Publisher) HandleCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	msg := nats.NewMsg(p.prefix + "." + cp.Entity + ".checkpoint")
	msg.Data = data
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return p.conn.FlushWithContext(ctx)
}
