// Package output selects and builds the sink that receives sync output.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"idm-connector/internal/models"
)

// JSONLines writes one JSON document per event or checkpoint.
type JSONLines struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLines writes to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w, enc: json.NewEncoder(w)}
}

func (j *JSONLines) HandleEvent(_ context.Context, event *models.ChangeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(event.RawJSON) > 0 {
		if _, err := fmt.Fprintf(j.w, "%s\n", event.RawJSON); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
		return nil
	}
	if err := j.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

func (j *JSONLines) HandleCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(cp); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}
