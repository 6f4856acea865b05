// Package worker drives sync passes for each configured entity kind and
// persists the returned checkpoints.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"idm-connector/internal/checkpoint"
	"idm-connector/internal/config"
	"idm-connector/internal/entity"
	"idm-connector/internal/livesync"
)

// TriggerSource signals that a kind has pending writes.
type TriggerSource interface {
	Triggers(kind entity.Kind) <-chan struct{}
}

// Syncer is the part of *livesync.Syncer the runner uses.
type Syncer interface {
	Sync(ctx context.Context, kind entity.Kind, tok string, h livesync.Handler) (string, error)
	LatestToken(ctx context.Context, kind entity.Kind) (string, error)
}

// Runner runs one pass loop per kind. Passes of one kind are sequential;
// kinds run concurrently.
type Runner struct {
	syncer      Syncer
	checkpoints checkpoint.Store
	handler     livesync.Handler
	triggers    TriggerSource
	kinds       []entity.Kind
	interval    time.Duration
	timeout     time.Duration
	startFrom   string
	logger      *logrus.Logger
}

// NewRunner validates the configured kinds. triggers may be nil, in which
// case passes run on the interval only.
func NewRunner(cfg *config.SyncConfig, syncer Syncer, checkpoints checkpoint.Store, handler livesync.Handler, triggers TriggerSource, logger *logrus.Logger) (*Runner, error) {
	kinds := make([]entity.Kind, 0, len(cfg.Entities))
	for _, name := range cfg.Entities {
		kind, err := entity.Parse(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive")
	}

	return &Runner{
		syncer:      syncer,
		checkpoints: checkpoints,
		handler:     handler,
		triggers:    triggers,
		kinds:       kinds,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		startFrom:   cfg.StartFrom,
		logger:      logger,
	}, nil
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Infof("Starting sync worker for %v every %s", r.kinds, r.interval)

	var wg sync.WaitGroup
	for _, kind := range r.kinds {
		wg.Add(1)
		go func(kind entity.Kind) {
			defer wg.Done()
			r.loop(ctx, kind)
		}(kind)
	}
	wg.Wait()

	r.logger.Info("Sync worker stopped")
	return nil
}

func (r *Runner) loop(ctx context.Context, kind entity.Kind) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var trigger <-chan struct{}
	if r.triggers != nil {
		trigger = r.triggers.Triggers(kind)
	}

	for {
		if err := r.RunOnce(ctx, kind); err != nil && ctx.Err() == nil {
			log := r.logger.WithField("entity", kind)
			if livesync.IsRetryable(err) {
				log.Warnf("Pass failed, retrying on next trigger: %v", err)
			} else {
				log.Errorf("Pass failed, keeping previous checkpoint: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-trigger:
		}
	}
}

// RunOnce performs one pass for kind from its stored checkpoint and saves
// the new checkpoint on success.
func (r *Runner) RunOnce(ctx context.Context, kind entity.Kind) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tok, err := r.startToken(ctx, kind)
	if err != nil {
		return err
	}

	next, err := r.syncer.Sync(ctx, kind, tok, r.handler)
	if err != nil {
		return err
	}

	if err := r.checkpoints.Save(ctx, kind, next); err != nil {
		return fmt.Errorf("pass succeeded but checkpoint was not saved: %w", err)
	}
	return nil
}

func (r *Runner) startToken(ctx context.Context, kind entity.Kind) (string, error) {
	tok, found, err := r.checkpoints.Load(ctx, kind)
	if err != nil {
		return "", err
	}
	if found {
		return tok, nil
	}

	if r.startFrom != "latest" {
		r.logger.WithField("entity", kind).Info("No checkpoint, syncing from the beginning")
		return "", nil
	}

	tok, err = r.syncer.LatestToken(ctx, kind)
	if err != nil {
		return "", err
	}
	if err := r.checkpoints.Save(ctx, kind, tok); err != nil {
		return "", err
	}
	r.logger.WithField("entity", kind).Info("No checkpoint, following changes from the latest modification")
	return tok, nil
}
