// Package livesync computes incremental change feeds over the identity store.
//
// A pass streams every entity of one kind modified after the caller's token,
// then hands back a checkpoint token taken at the start of the pass. The
// checkpoint is only released when every event was accepted, so a caller that
// persists it after Sync returns never skips a change.
package livesync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"idm-connector/internal/entity"
	"idm-connector/internal/logging"
	"idm-connector/internal/metrics"
	"idm-connector/internal/token"
	"idm-connector/internal/tracing"
)

// Pool hands out dedicated connections. *sql.DB satisfies it.
type Pool interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Syncer runs sync passes.
//
// Thread-safety: passes for different kinds may run concurrently; a second
// pass for a kind that is already running fails with ErrPassInProgress.
type Syncer struct {
	pool    Pool
	engine  *Engine
	tracker *Tracker
	logger  *logrus.Logger
	newID   func() string

	mu      sync.Mutex
	running map[entity.Kind]bool
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithClock replaces the clock used to take pass checkpoints.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.tracker.now = now }
}

// WithIDGenerator replaces the event id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Syncer) { s.newID = newID }
}

// NewSyncer creates a Syncer reading from pool.
func NewSyncer(pool Pool, logger *logrus.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		pool:    pool,
		engine:  &Engine{},
		tracker: &Tracker{now: time.Now},
		logger:  logger,
		newID:   uuid.NewString,
		running: make(map[entity.Kind]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync delivers every entity of kind modified after tok to h, then signals
// the pass checkpoint and returns it. An empty tok starts from the beginning.
// On any error no checkpoint is signalled and the caller keeps its old token;
// a handler implementing Aborter is told to drop what it buffered.
func (s *Syncer) Sync(ctx context.Context, kind entity.Kind, tok string, h Handler) (checkpoint string, err error) {
	if _, err := entity.Lookup(kind); err != nil {
		return "", err
	}
	since, err := token.Decode(tok)
	if err != nil {
		return "", err
	}
	if !s.acquire(kind) {
		return "", fmt.Errorf("%w: %s", ErrPassInProgress, kind)
	}
	defer s.release(kind)

	ctx, span := tracing.Tracer().Start(ctx, "sync.pass")
	span.SetAttributes(
		attribute.String("idm.entity", string(kind)),
		attribute.String("idm.since", since.String()),
	)
	defer span.End()

	start := time.Now()
	em := &emitter{
		kind:       kind,
		checkpoint: s.tracker.PassCheckpoint(),
		handler:    h,
		newID:      s.newID,
	}
	log := logging.WithTrace(ctx, s.logger).WithField("entity", kind)

	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.WithField("events", em.sent).Errorf("Sync pass failed: %v", err)
			if a, ok := h.(Aborter); ok {
				a.HandleAbort(context.WithoutCancel(ctx), string(kind), err)
			}
		} else {
			log.WithFields(logrus.Fields{
				"events":     em.sent,
				"checkpoint": checkpoint,
				"duration":   time.Since(start).String(),
			}).Info("Sync pass complete")
		}
		span.SetAttributes(attribute.Int("idm.events", em.sent))
		metrics.SyncPasses.WithLabelValues(string(kind), result).Inc()
		metrics.EventsEmitted.WithLabelValues(string(kind)).Add(float64(em.sent))
		metrics.PassDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	log.Debugf("Starting sync pass since %s", since)

	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return "", &SyncFailedError{Kind: kind, Op: "acquire connection", Err: err}
	}
	defer conn.Close()

	for rec, err := range s.engine.QueryChanges(ctx, conn, kind, since) {
		if err != nil {
			return "", err
		}
		if err := em.emit(ctx, rec); err != nil {
			return "", err
		}
	}

	if err := ctx.Err(); err != nil {
		return "", &SyncFailedError{Kind: kind, Op: "finish pass", Err: err}
	}
	if err := em.finish(ctx); err != nil {
		return "", err
	}
	return em.checkpoint, nil
}

// LatestToken returns a token positioned at the newest change of kind, so a
// caller can start following changes without replaying history.
func (s *Syncer) LatestToken(ctx context.Context, kind entity.Kind) (string, error) {
	if _, err := entity.Lookup(kind); err != nil {
		return "", err
	}
	conn, err := s.pool.Conn(ctx)
	if err != nil {
		return "", &SyncFailedError{Kind: kind, Op: "acquire connection", Err: err}
	}
	defer conn.Close()

	tok, err := s.tracker.LatestToken(ctx, conn, kind)
	if err != nil {
		return "", err
	}
	s.logger.WithField("entity", kind).Debugf("Latest token %s", tok)
	return tok, nil
}

func (s *Syncer) acquire(kind entity.Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[kind] {
		return false
	}
	s.running[kind] = true
	return true
}

func (s *Syncer) release(kind entity.Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, kind)
}

// IsRetryable reports whether err is transient: a store failure rather than
// a bad token, an unsupported kind, or a handler refusal.
func IsRetryable(err error) bool {
	var failed *SyncFailedError
	if !errors.As(err, &failed) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
