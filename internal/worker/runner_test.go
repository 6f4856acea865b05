package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idm-connector/internal/checkpoint"
	"idm-connector/internal/config"
	"idm-connector/internal/entity"
	"idm-connector/internal/livesync"
	"idm-connector/internal/models"
	"idm-connector/internal/store"
	"idm-connector/internal/testutil"
)

var t0 = time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)

type collector struct {
	mu          sync.Mutex
	identities  []string
	checkpoints chan *models.Checkpoint
	fail        bool
}

func newCollector() *collector {
	return &collector{checkpoints: make(chan *models.Checkpoint, 16)}
}

func (c *collector) HandleEvent(_ context.Context, ev *models.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("downstream unavailable")
	}
	c.identities = append(c.identities, ev.Identity)
	return nil
}

func (c *collector) HandleCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	c.checkpoints <- cp
	return nil
}

func (c *collector) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.identities...)
}

type fixture struct {
	store       *store.Store
	clock       *testutil.Clock
	checkpoints *checkpoint.FileStore
	handler     *collector
	syncer      *livesync.Syncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(t0)
	st, err := store.Open(context.Background(), &config.DatabaseConfig{
		Driver:    "sqlite3",
		Path:      filepath.Join(t.TempDir(), "idm.db"),
		Bootstrap: true,
	}, testutil.Logger(), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cps, err := checkpoint.NewFileStore(t.TempDir(), testutil.Logger())
	require.NoError(t, err)

	return &fixture{
		store:       st,
		clock:       clock,
		checkpoints: cps,
		handler:     newCollector(),
		syncer:      livesync.NewSyncer(st.DB(), testutil.Logger(), livesync.WithClock(clock.Now)),
	}
}

func (f *fixture) runner(t *testing.T, cfg config.SyncConfig, triggers TriggerSource) *Runner {
	t.Helper()
	r, err := NewRunner(&cfg, f.syncer, f.checkpoints, f.handler, triggers, testutil.Logger())
	require.NoError(t, err)
	return r
}

func (f *fixture) account(t *testing.T, name string) string {
	t.Helper()
	id, err := f.store.CreateAccount(context.Background(), models.AccountInput{Username: &name})
	require.NoError(t, err)
	return id
}

func TestRunOnce_PersistsCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.runner(t, config.SyncConfig{Entities: []string{"account"}, Interval: time.Minute}, nil)

	alice := f.account(t, "alice")
	f.clock.Advance(time.Second)

	require.NoError(t, r.RunOnce(ctx, entity.Account))
	assert.Equal(t, []string{alice}, f.handler.seen())
	cp := <-f.handler.checkpoints

	saved, found, err := f.checkpoints.Load(ctx, entity.Account)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cp.Token, saved)

	f.clock.Advance(time.Second)
	bob := f.account(t, "bob")
	f.clock.Advance(time.Second)

	require.NoError(t, r.RunOnce(ctx, entity.Account))
	assert.Equal(t, []string{alice, bob}, f.handler.seen())
}

func TestRunOnce_FailureKeepsCheckpoint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.runner(t, config.SyncConfig{Entities: []string{"account"}, Interval: time.Minute}, nil)

	f.account(t, "alice")
	f.handler.fail = true

	err := r.RunOnce(ctx, entity.Account)
	var sinkErr *livesync.SinkError
	assert.True(t, errors.As(err, &sinkErr))

	_, found, err := f.checkpoints.Load(ctx, entity.Account)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunOnce_StartFromLatest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := f.runner(t, config.SyncConfig{Entities: []string{"account"}, Interval: time.Minute, StartFrom: "latest"}, nil)

	f.account(t, "history")
	f.clock.Advance(time.Second)

	require.NoError(t, r.RunOnce(ctx, entity.Account))
	assert.Empty(t, f.handler.seen())

	f.clock.Advance(time.Second)
	fresh := f.account(t, "fresh")
	f.clock.Advance(time.Second)

	require.NoError(t, r.RunOnce(ctx, entity.Account))
	assert.Equal(t, []string{fresh}, f.handler.seen())
}

type manualTriggers struct {
	ch chan struct{}
}

func (m *manualTriggers) Triggers(entity.Kind) <-chan struct{} { return m.ch }

func TestRun_Trigger(t *testing.T) {
	f := newFixture(t)
	triggers := &manualTriggers{ch: make(chan struct{}, 1)}
	r := f.runner(t, config.SyncConfig{Entities: []string{"account"}, Interval: time.Hour}, triggers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-f.handler.checkpoints:
	case <-time.After(5 * time.Second):
		t.Fatal("initial pass did not run")
	}

	f.clock.Advance(time.Second)
	id := f.account(t, "alice")
	f.clock.Advance(time.Second)
	triggers.ch <- struct{}{}

	select {
	case cp := <-f.handler.checkpoints:
		assert.Equal(t, 1, cp.Events)
	case <-time.After(5 * time.Second):
		t.Fatal("triggered pass did not run")
	}
	assert.Equal(t, []string{id}, f.handler.seen())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestNewRunner_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := NewRunner(&config.SyncConfig{Entities: []string{"group"}, Interval: time.Second}, f.syncer, f.checkpoints, f.handler, nil, testutil.Logger())
	assert.EqualError(t, err, `unsupported entity kind "group"`)

	_, err = NewRunner(&config.SyncConfig{Entities: []string{"account"}}, f.syncer, f.checkpoints, f.handler, nil, testutil.Logger())
	assert.EqualError(t, err, "sync interval must be positive")
}
