package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idm-connector/internal/models"
	"idm-connector/internal/testutil"
)

type fakeConn struct {
	msgs       []*nats.Msg
	flushes    int
	publishErr error
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) FlushWithContext(context.Context) error {
	f.flushes++
	return nil
}

func TestPublisher(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{conn: fc, prefix: "idm", logger: testutil.Logger()}
	ctx := context.Background()

	ev := &models.ChangeEvent{
		ID:       "b7c6",
		Type:     models.DeltaCreateOrUpdate,
		Entity:   "account",
		Identity: "42",
		Snapshot: map[string]interface{}{"username": "jdoe"},
	}
	require.NoError(t, p.HandleEvent(ctx, ev))

	reshaped := *ev
	reshaped.RawJSON = []byte(`{"custom":true}`)
	require.NoError(t, p.HandleEvent(ctx, &reshaped))

	require.NoError(t, p.HandleCheckpoint(ctx, &models.Checkpoint{Type: "CHECKPOINT", Entity: "account", Token: "tok", Events: 2}))

	require.Len(t, fc.msgs, 3)
	assert.Equal(t, "idm.account", fc.msgs[0].Subject)
	assert.Equal(t, "b7c6", fc.msgs[0].Header.Get(nats.MsgIdHdr))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(fc.msgs[0].Data, &body))
	assert.Equal(t, "42", body["identity"])

	assert.JSONEq(t, `{"custom":true}`, string(fc.msgs[1].Data))

	assert.Equal(t, "idm.account.checkpoint", fc.msgs[2].Subject)
	assert.JSONEq(t, `{"type":"CHECKPOINT","entity":"account","token":"tok","events":2}`, string(fc.msgs[2].Data))
	assert.Equal(t, 2, fc.flushes)
}

func TestPublisher_Error(t *testing.T) {
	fc := &fakeConn{publishErr: errors.New("nats: connection closed")}
	p := &Publisher{conn: fc, prefix: "idm", logger: testutil.Logger()}

	err := p.HandleEvent(context.Background(), &models.ChangeEvent{ID: "1", Entity: "permission"})
	assert.EqualError(t, err, "failed to publish to NATS: nats: connection closed")
}
