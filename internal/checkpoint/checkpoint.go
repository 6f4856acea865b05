// Package checkpoint persists the last acknowledged sync token per entity
// kind between runs.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/config"
	"idm-connector/internal/entity"
)

// Store loads and saves tokens. Load reports found=false when nothing was
// saved yet for kind.
type Store interface {
	Load(ctx context.Context, kind entity.Kind) (tok string, found bool, err error)
	Save(ctx context.Context, kind entity.Kind, tok string) error
}

// New returns the backend selected by cfg. nc is only needed for nats-kv.
func New(cfg *config.CheckpointConfig, nc *nats.Conn, logger *logrus.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileStore(cfg.Dir, logger)
	case "nats-kv":
		if nc == nil {
			return nil, fmt.Errorf("checkpoint backend nats-kv requires a NATS connection")
		}
		return NewKVStore(nc, cfg.Bucket, logger)
	}
	return nil, fmt.Errorf("unsupported checkpoint backend %q", cfg.Backend)
}
