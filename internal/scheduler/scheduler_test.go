package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilyakasyanov/walletsync/internal/conflict"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
	"github.com/ilyakasyanov/walletsync/internal/queue"
	"github.com/ilyakasyanov/walletsync/internal/store"
	"github.com/ilyakasyanov/walletsync/internal/syncer"
	"github.com/ilyakasyanov/walletsync/internal/transport"

	_ "modernc.org/sqlite"
)

// pingTransport answers pings per the reachable flag; data calls are
// trivially empty.
type pingTransport struct {
	reachable atomic.Bool
	pings     atomic.Int64
}

type unreachableError struct{}

func (unreachableError) Error() string { return "host unreachable" }

func (p *pingTransport) Ping(ctx context.Context) error {
	p.pings.Add(1)
	if p.reachable.Load() {
		return nil
	}
	return unreachableError{}
}

func (p *pingTransport) Push(ctx context.Context, _ transport.Credentials, op models.PendingOperation) (*transport.PushResult, error) {
	return &transport.PushResult{CloudID: "cloud-" + op.EntityID}, nil
}

func (p *pingTransport) Pull(ctx context.Context, _ transport.Credentials) (*models.Snapshot, error) {
	return models.NewSnapshot(), nil
}

func (p *pingTransport) PullSince(ctx context.Context, creds transport.Credentials, _ int64) (*models.Snapshot, error) {
	return p.Pull(ctx, creds)
}

func (p *pingTransport) PushSnapshot(ctx context.Context, _ transport.Credentials, _ *models.ExportBundle) error {
	return nil
}

func setupScheduler(t *testing.T, tr transport.Transport, cfg Config) (*Scheduler, *store.Store, *queue.Queue) {
	t.Helper()
	db, err := store.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logging.NewNopLogger()
	st := store.New(db, log)
	q := queue.New(db, queue.DefaultConfig(), log)
	hist := conflict.NewHistory(db, log)
	det := conflict.NewDetector(hist, log)
	d := syncer.New(st, q, det, hist, tr, syncer.NewEmitter(), syncer.Config{}, log)

	creds := func() transport.Credentials {
		return transport.Credentials{UserID: "user-1", Token: "opaque-token"}
	}
	return New(d, st, q, tr, creds, cfg, log), st, q
}

func TestScheduler_ProbeFlipsOnlineAndKicksCycle(t *testing.T) {
	tr := &pingTransport{}
	tr.reachable.Store(true)
	s, st, _ := setupScheduler(t, tr, Config{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: time.Second})

	assert.False(t, s.IsOnline())

	s.Start(context.Background())
	defer s.Close()

	assert.Eventually(t, s.IsOnline, time.Second, 5*time.Millisecond)

	// the offline-to-online flip triggers an immediate cycle
	assert.Eventually(t, func() bool {
		state, err := st.SyncState(context.Background())
		return err == nil && state.LastSync > 0
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_OfflineSkipsCycles(t *testing.T) {
	tr := &pingTransport{}
	s, st, _ := setupScheduler(t, tr, Config{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: time.Second})

	s.Start(context.Background())
	defer s.Close()

	s.ForceSync()
	assert.Eventually(t, func() bool { return tr.pings.Load() >= 2 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.IsOnline())
	state, err := st.SyncState(context.Background())
	require.NoError(t, err)
	assert.Zero(t, state.LastSync)
}

func TestScheduler_Status(t *testing.T) {
	tr := &pingTransport{}
	s, _, q := setupScheduler(t, tr, Config{})
	ctx := context.Background()

	_, err := q.AddOperation(ctx, models.PendingOperation{
		Type:       models.OpCreate,
		EntityType: models.EntityExpense,
		EntityID:   "e1",
		Data:       []byte(`{"version":1}`),
	})
	require.NoError(t, err)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	assert.False(t, status.SyncInProgress)
	assert.Zero(t, status.LastSyncTimestamp)
	assert.Equal(t, 1, status.PendingOperationsCount)
}

func TestScheduler_ForceSyncNeverBlocks(t *testing.T) {
	s, _, _ := setupScheduler(t, &pingTransport{}, Config{})

	// no loop is draining the trigger; repeated requests collapse
	for i := 0; i < 5; i++ {
		s.ForceSync()
	}
	assert.Len(t, s.trigger, 1)
}

func TestScheduler_TriggeredCycleRunsExactlyOnce(t *testing.T) {
	tr := &pingTransport{}
	tr.reachable.Store(true)

	db, err := store.OpenDatabase(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := logging.NewNopLogger()
	st := store.New(db, log)
	q := queue.New(db, queue.DefaultConfig(), log)
	hist := conflict.NewHistory(db, log)
	det := conflict.NewDetector(hist, log)
	em := syncer.NewEmitter()
	d := syncer.New(st, q, det, hist, tr, em, syncer.Config{}, log)

	var cycles atomic.Int64
	em.Subscribe(func(ev syncer.Event) {
		if ev.Type == syncer.EventSyncCompleted {
			cycles.Add(1)
		}
	})

	creds := func() transport.Credentials {
		return transport.Credentials{UserID: "user-1", Token: "opaque-token"}
	}
	s := New(d, st, q, tr, creds, Config{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: time.Second}, log)
	s.Start(context.Background())
	defer s.Close()

	// the offline-to-online flip runs the first cycle
	assert.Eventually(t, func() bool { return cycles.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.ForceSync()
	assert.Eventually(t, func() bool { return cycles.Load() == 2 }, time.Second, 5*time.Millisecond)

	// the next scheduled tick is seconds away; a trigger must not leave
	// a stale tick that fires another cycle right behind it
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int64(2), cycles.Load())
}

func TestScheduler_CloseWithoutStart(t *testing.T) {
	s, _, _ := setupScheduler(t, &pingTransport{}, Config{})
	s.Close()
}

func TestScheduler_StartTwice(t *testing.T) {
	tr := &pingTransport{}
	tr.reachable.Store(true)
	s, _, _ := setupScheduler(t, tr, Config{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: time.Second})

	s.Start(context.Background())
	s.Start(context.Background())
	s.Close()
}
