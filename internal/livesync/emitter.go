package livesync

import (
	"context"

	"idm-connector/internal/entity"
	"idm-connector/internal/models"
)

// Handler receives the output of a pass. Events arrive in order; the
// checkpoint arrives once, after the last event, and only when every event
// was accepted.
type Handler interface {
	HandleEvent(ctx context.Context, ev *models.ChangeEvent) error
	HandleCheckpoint(ctx context.Context, cp *models.Checkpoint) error
}

// Aborter is implemented by handlers that hold output back until the
// checkpoint. HandleAbort is called once when a pass fails after it started,
// and the handler must discard whatever that pass left buffered.
type Aborter interface {
	HandleAbort(ctx context.Context, entity string, err error)
}

// HandlerFuncs adapts plain functions to Handler. A nil func accepts.
type HandlerFuncs struct {
	Event      func(ctx context.Context, ev *models.ChangeEvent) error
	Checkpoint func(ctx context.Context, cp *models.Checkpoint) error
}

func (h HandlerFuncs) HandleEvent(ctx context.Context, ev *models.ChangeEvent) error {
	if h.Event == nil {
		return nil
	}
	return h.Event(ctx, ev)
}

func (h HandlerFuncs) HandleCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	if h.Checkpoint == nil {
		return nil
	}
	return h.Checkpoint(ctx, cp)
}

// emitter turns change records into events stamped with the pass checkpoint.
type emitter struct {
	kind       entity.Kind
	checkpoint string
	handler    Handler
	newID      func() string
	sent       int
}

func (e *emitter) emit(ctx context.Context, rec models.ChangeRecord) error {
	ev := &models.ChangeEvent{
		ID:         e.newID(),
		Type:       models.DeltaCreateOrUpdate,
		Entity:     string(e.kind),
		Identity:   rec.Identity,
		ModifiedAt: rec.ModifiedAt,
		Token:      e.checkpoint,
		Snapshot:   rec.Snapshot,
	}
	if err := e.handler.HandleEvent(ctx, ev); err != nil {
		return &SinkError{Kind: e.kind, Identity: rec.Identity, Err: err}
	}
	e.sent++
	return nil
}

func (e *emitter) finish(ctx context.Context) error {
	cp := &models.Checkpoint{
		Type:   "CHECKPOINT",
		Entity: string(e.kind),
		Token:  e.checkpoint,
		Events: e.sent,
	}
	if err := e.handler.HandleCheckpoint(ctx, cp); err != nil {
		return &SinkError{Kind: e.kind, Err: err}
	}
	return nil
}
