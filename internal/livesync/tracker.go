package livesync

import (
	"context"
	"time"

	"idm-connector/internal/entity"
	"idm-connector/internal/store"
	"idm-connector/internal/token"
)

// Tracker derives checkpoint tokens.
type Tracker struct {
	now func() time.Time
}

// PassCheckpoint is the token for a pass starting now. Rows committed after
// this instant are left for the next pass.
func (t *Tracker) PassCheckpoint() string {
	return token.EncodeTime(store.Normalize(t.now()))
}

// LatestToken returns a token equal to the newest modification time of kind,
// or the beginning token when the table is empty.
func (t *Tracker) LatestToken(ctx context.Context, q store.Querier, kind entity.Kind) (string, error) {
	d, err := entity.Lookup(kind)
	if err != nil {
		return "", err
	}

	var latest store.NullTime
	if err := q.QueryRowContext(ctx, latestQuery(d)).Scan(&latest); err != nil {
		return "", &SyncFailedError{Kind: kind, Op: "query latest modification", Err: err}
	}
	if !latest.Valid {
		return token.Beginning(), nil
	}
	return token.EncodeTime(store.Normalize(latest.Time)), nil
}
