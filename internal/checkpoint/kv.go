package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"idm-connector/internal/entity"
)

// KVStore keeps tokens in a JetStream key-value bucket, one key per kind.
type KVStore struct {
	kv     nats.KeyValue
	logger *logrus.Logger
}

// NewKVStore binds to bucket, creating it when it does not exist.
func NewKVStore(nc *nats.Conn, bucket string, logger *logrus.Logger) (*KVStore, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "idm-connector sync checkpoints",
			History:     5,
		})
		if err == nil {
			logger.Infof("Created checkpoint bucket %s", bucket)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", bucket, err)
	}
	return &KVStore{kv: kv, logger: logger}, nil
}

func (s *KVStore) Load(_ context.Context, kind entity.Kind) (string, bool, error) {
	entry, err := s.kv.Get(string(kind))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return string(entry.Value()), true, nil
}

func (s *KVStore) Save(_ context.Context, kind entity.Kind, tok string) error {
	rev, err := s.kv.PutString(string(kind), tok)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	s.logger.Debugf("Saved %s checkpoint (revision %d)", kind, rev)
	return nil
}
