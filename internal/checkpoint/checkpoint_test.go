package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idm-connector/internal/config"
	"idm-connector/internal/entity"
	"idm-connector/internal/testutil"
)

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "checkpoints")

	s, err := NewFileStore(dir, testutil.Logger())
	require.NoError(t, err)

	_, found, err := s.Load(ctx, entity.Account)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, entity.Account, "first"))
	require.NoError(t, s.Save(ctx, entity.Account, "second"))
	require.NoError(t, s.Save(ctx, entity.Permission, "other"))

	tok, found, err := s.Load(ctx, entity.Account)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "second", tok)

	tok, _, err = s.Load(ctx, entity.Permission)
	require.NoError(t, err)
	assert.Equal(t, "other", tok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir, testutil.Logger())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, entity.Account, "tok"))

	reopened, err := NewFileStore(dir, testutil.Logger())
	require.NoError(t, err)
	tok, found, err := reopened.Load(ctx, entity.Account)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok", tok)
}

func TestNew(t *testing.T) {
	s, err := New(&config.CheckpointConfig{Backend: "file", Dir: t.TempDir()}, nil, testutil.Logger())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = New(&config.CheckpointConfig{Backend: "nats-kv", Bucket: "b"}, nil, testutil.Logger())
	assert.EqualError(t, err, "checkpoint backend nats-kv requires a NATS connection")

	_, err = New(&config.CheckpointConfig{Backend: "etcd"}, nil, testutil.Logger())
	assert.EqualError(t, err, `unsupported checkpoint backend "etcd"`)
}
