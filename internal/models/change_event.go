package models

import "time"

// DeltaCreateOrUpdate is the only delta type the sync subsystem produces.
// Deletions leave no trace in the store and are not reported.
const DeltaCreateOrUpdate = "CREATE_OR_UPDATE"

// ChangeRecord is one row returned by a change query.
type ChangeRecord struct {
	Identity   string
	ModifiedAt time.Time
	Snapshot   map[string]interface{}
}

// ChangeEvent represents an entity that was created or updated since the
// caller's last checkpoint
type ChangeEvent struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"` // CREATE_OR_UPDATE
	Entity     string                 `json:"entity"`
	Identity   string                 `json:"identity"`
	ModifiedAt time.Time              `json:"modified_at"`
	Token      string                 `json:"token"`
	Snapshot   map[string]interface{} `json:"snapshot"`
	RawJSON    []byte                 `json:"-"` // Set when a script reshaped the event
}

// Checkpoint is the final signal of a successful pass. Events counts the
// events offered to the handler, including any a transformer dropped.
type Checkpoint struct {
	Type   string `json:"type"` // CHECKPOINT
	Entity string `json:"entity"`
	Token  string `json:"token"`
	Events int    `json:"events"`
}
