package output

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idm-connector/internal/config"
	"idm-connector/internal/models"
	"idm-connector/internal/testutil"
)

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	out := NewJSONLines(&buf)
	ctx := context.Background()

	require.NoError(t, out.HandleEvent(ctx, &models.ChangeEvent{
		ID:         "e1",
		Type:       models.DeltaCreateOrUpdate,
		Entity:     "permission",
		Identity:   "3",
		ModifiedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Token:      "tok",
		Snapshot:   map[string]interface{}{"code": "vpn", "members": []string{}},
	}))
	require.NoError(t, out.HandleEvent(ctx, &models.ChangeEvent{RawJSON: []byte(`{"x":1}`)}))
	require.NoError(t, out.HandleCheckpoint(ctx, &models.Checkpoint{Type: "CHECKPOINT", Entity: "permission", Token: "tok", Events: 2}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{
		"id": "e1",
		"type": "CREATE_OR_UPDATE",
		"entity": "permission",
		"identity": "3",
		"modified_at": "2024-01-02T03:04:05Z",
		"token": "tok",
		"snapshot": {"code": "vpn", "members": []}
	}`, lines[0])
	assert.Equal(t, `{"x":1}`, lines[1])
	assert.JSONEq(t, `{"type":"CHECKPOINT","entity":"permission","token":"tok","events":2}`, lines[2])
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Output: config.OutputConfig{Type: "stdout"}}

	sink, err := New(cfg, nil, &buf, testutil.Logger())
	require.NoError(t, err)
	require.NoError(t, sink.HandleCheckpoint(context.Background(), &models.Checkpoint{Entity: "account"}))
	assert.Contains(t, buf.String(), `"entity":"account"`)
	assert.NoError(t, sink.Close())

	cfg.Output.Type = "nats"
	_, err = New(cfg, nil, &buf, testutil.Logger())
	assert.EqualError(t, err, "output nats requires a NATS connection")

	cfg.Output.Type = "kafka"
	cfg.Kafka = config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "idm.changes"}
	sink, err = New(cfg, nil, &buf, testutil.Logger())
	require.NoError(t, err)
	assert.NoError(t, sink.Close())

	cfg.Output.Type = "webhook"
	_, err = New(cfg, nil, &buf, testutil.Logger())
	assert.EqualError(t, err, `unsupported output type "webhook"`)
}
