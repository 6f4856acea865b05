package livesync

import (
	"errors"
	"fmt"

	"idm-connector/internal/entity"
	"idm-connector/internal/token"
)

// InvalidTokenError is returned when the caller's token was not produced by
// this connector.
type InvalidTokenError = token.InvalidTokenError

// UnsupportedEntityError names an entity kind the connector cannot sync.
type UnsupportedEntityError = entity.UnsupportedError

// ErrPassInProgress is returned when a pass for the same entity kind is
// already running.
var ErrPassInProgress = errors.New("sync pass already in progress")

// SyncFailedError wraps a query or connectivity failure. The pass delivered
// no checkpoint.
type SyncFailedError struct {
	Kind entity.Kind
	Op   string
	Err  error
}

func (e *SyncFailedError) Error() string {
	return fmt.Sprintf("sync of %s failed: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *SyncFailedError) Unwrap() error {
	return e.Err
}

// SinkError wraps an error returned by the caller's handler. The pass halted
// at Identity; an empty Identity means the checkpoint signal was refused.
type SinkError struct {
	Kind     entity.Kind
	Identity string
	Err      error
}

func (e *SinkError) Error() string {
	if e.Identity == "" {
		return fmt.Sprintf("handler rejected %s checkpoint: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("handler rejected %s %s: %v", e.Kind, e.Identity, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
