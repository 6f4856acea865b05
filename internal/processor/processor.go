// Package processor reshapes change events between the sync engine and the
// configured output.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"idm-connector/internal/livesync"
	"idm-connector/internal/models"
)

// Processor runs every event through a Transformer before handing it to the
// next handler. Rejected events are dropped; any other transform error fails
// the pass so the checkpoint is withheld.
type Processor struct {
	next        livesync.Handler
	transformer *Transformer
	logger      *logrus.Logger

	mu      sync.Mutex
	dropped map[string]int // per entity, reset at each checkpoint
}

// NewProcessor wraps next. A nil or disabled transformer passes events
// through unchanged.
func NewProcessor(next livesync.Handler, transformer *Transformer, logger *logrus.Logger) *Processor {
	return &Processor{
		next:        next,
		transformer: transformer,
		logger:      logger,
		dropped:     make(map[string]int),
	}
}

// Wrap returns next itself when there is nothing to transform.
func Wrap(next livesync.Handler, transformer *Transformer, logger *logrus.Logger) livesync.Handler {
	if transformer == nil || !transformer.Enabled() {
		return next
	}
	return NewProcessor(next, transformer, logger)
}

func (p *Processor) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	if p.transformer != nil {
		transformed, err := p.transformer.Transform(event)
		if errors.Is(err, ErrEventRejected) || (err == nil && transformed == nil) {
			p.mu.Lock()
			p.dropped[event.Entity]++
			p.mu.Unlock()
			p.logger.Debugf("Event rejected by transformer: %s %s", event.Entity, event.Identity)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to transform %s %s: %w", event.Entity, event.Identity, err)
		}
		event = transformed
	}
	return p.next.HandleEvent(ctx, event)
}

// HandleAbort forgets the drop count of the failed pass and forwards the
// abort to the next handler.
func (p *Processor) HandleAbort(ctx context.Context, entity string, err error) {
	p.mu.Lock()
	delete(p.dropped, entity)
	p.mu.Unlock()

	if a, ok := p.next.(livesync.Aborter); ok {
		a.HandleAbort(ctx, entity, err)
	}
}

func (p *Processor) HandleCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	p.mu.Lock()
	dropped := p.dropped[cp.Entity]
	delete(p.dropped, cp.Entity)
	p.mu.Unlock()

	if dropped > 0 {
		p.logger.Infof("Transformer dropped %d %s events this pass", dropped, cp.Entity)
	}
	return p.next.HandleCheckpoint(ctx, cp)
}
