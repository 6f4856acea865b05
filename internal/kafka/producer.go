// Package kafka delivers sync output to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/config"
	"idm-connector/internal/models"
)

const batchSize = 100

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers the events of a pass and writes them in batches keyed by
// <entity>:<identity>, so every version of one entity lands on the same
// partition in order. The checkpoint message is written in the same call as
// the last batch, but keyed <entity>:checkpoint it usually lands on another
// partition. Consumers get no ordering between a checkpoint and the events
// it closes; the pass only succeeds once all of them were acknowledged.
type Producer struct {
	writer messageWriter
	logger *logrus.Logger

	mu      sync.Mutex
	pending map[string][]kafka.Message
}

// NewProducer creates a synchronous writer for cfg.Topic.
func NewProducer(cfg *config.KafkaConfig, logger *logrus.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              batchSize,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	logger.Infof("Kafka producer brokers=%v topic=%s", cfg.Brokers, cfg.Topic)
	return newProducer(w, logger)
}

func newProducer(w messageWriter, logger *logrus.Logger) *Producer {
	return &Producer{writer: w, logger: logger, pending: make(map[string][]kafka.Message)}
}

func (p *Producer) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	data := event.RawJSON
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(event); err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
	}

	msg := kafka.Message{
		Key:   []byte(event.Entity + ":" + event.Identity),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("event")},
			{Key: "id", Value: []byte(event.ID)},
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[event.Entity] = append(p.pending[event.Entity], msg)
	if len(p.pending[event.Entity]) >= batchSize {
		return p.flushLocked(ctx, event.Entity)
	}
	return nil
}

func (p *Producer) HandleCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[cp.Entity] = append(p.pending[cp.Entity], kafka.Message{
		Key:     []byte(cp.Entity + ":checkpoint"),
		Value:   data,
		Headers: []kafka.Header{{Key: "type", Value: []byte("checkpoint")}},
	})
	return p.flushLocked(ctx, cp.Entity)
}

func (p *Producer) flushLocked(ctx context.Context, entity string) error {
	msgs := p.pending[entity]
	if len(msgs) == 0 {
		return nil
	}
	// A failed write drops the batch; the pass fails and the next one
	// replays from the old checkpoint.
	delete(p.pending, entity)
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d messages to Kafka: %w", len(msgs), err)
	}
	p.logger.Debugf("Wrote %d %s messages to Kafka", len(msgs), entity)
	return nil
}

// HandleAbort drops the events a failed pass left buffered so they are not
// written under the next pass's checkpoint.
func (p *Producer) HandleAbort(_ context.Context, entity string, _ error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.pending[entity]); n > 0 {
		p.logger.Debugf("Discarding %d buffered %s messages of a failed pass", n, entity)
	}
	delete(p.pending, entity)
}

// Close releases the writer. Buffered events of an unfinished pass are dropped.
func (p *Producer) Close() error {
	return p.writer.Close()
}
