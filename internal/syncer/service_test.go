package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/notify"
	"github.com/goran-ethernal/CanvasIndexor/internal/persistence"
	"github.com/goran-ethernal/CanvasIndexor/internal/rpc"
	"github.com/goran-ethernal/CanvasIndexor/internal/store"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func TestNew_RequiresDependencies(t *testing.T) {
	cfg := testConfig(t, 0)
	chain := newFakeChain(0)

	_, err := New(nil, chain, nil, nil, nopLoggers)
	require.ErrorContains(t, err, "config is required")

	_, err = New(cfg, nil, nil, nil, nopLoggers)
	require.ErrorContains(t, err, "chain client is required")

	_, err = New(cfg, chain, nil, nil, nil)
	require.ErrorContains(t, err, "logger factory is required")
}

func TestService_BackfillThenWatchThenStop(t *testing.T) {
	cfg := testConfig(t, 0)
	chain := newFakeChain(10, placed(5, 1, 1, red), placed(8, 2, 2, blue))
	s, _ := newTestService(t, cfg, chain, nil, nil)

	require.Equal(t, canvas.PhaseLoading, s.Phase())
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return s.Phase() == canvas.PhaseWatching }, waitFor, 5*time.Millisecond)
	require.Equal(t, 2, s.Store().Count())
	require.Equal(t, uint64(10), s.LastProcessedBlock())

	progress := s.Progress()
	require.Equal(t, uint64(10), progress.TargetBlock)
	require.Equal(t, 100.0, progress.Percent)

	require.NoError(t, s.Stop())
	require.Equal(t, canvas.PhaseStopped, s.Phase())

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("sync loop did not exit")
	}

	snap, result, err := persistence.Load(cfg.Persistence.SnapshotPath(), 0)
	require.NoError(t, err)
	require.Equal(t, persistence.Loaded, result)
	require.Equal(t, uint64(10), snap.LastProcessedBlock)
	require.Equal(t, 2, snap.TotalPixels)

	// stopping twice is harmless
	require.NoError(t, s.Stop())
}

func TestService_ResumesFromSnapshot(t *testing.T) {
	cfg := testConfig(t, 0)

	existing := canvas.NewSnapshot(8)
	existing.Pixels[canvas.Coord{X: 3, Y: 4}] = canvas.PixelRecord{X: 3, Y: 4, Color: red, PlacedBy: actor, Timestamp: 1000}
	_, err := persistence.Save(cfg.Persistence.SnapshotPath(), existing)
	require.NoError(t, err)

	chain := newFakeChain(12, placed(2, 9, 9, blue), placed(11, 5, 5, green))
	s, _ := newTestService(t, cfg, chain, nil, nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Phase() == canvas.PhaseWatching }, waitFor, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	_, ok := s.Store().Get(9, 9)
	require.False(t, ok, "blocks before the checkpoint are not refetched")
	_, ok = s.Store().Get(5, 5)
	require.True(t, ok)
	require.Equal(t, 2, s.Store().Count())
	require.Zero(t, chain.callsFor(Chunk{1, 4}))
	require.Equal(t, 1, chain.callsFor(Chunk{9, 12}))
}

func TestService_StartFailsWithoutHeight(t *testing.T) {
	chain := newFakeChain(0)
	chain.heightErr = rpc.NewChainError(rpc.ClassTransientNetwork, "eth_getBlockByNumber", errors.New("dial tcp: refused"))

	s, _ := newTestService(t, testConfig(t, 0), chain, nil, nil)

	err := s.Start(context.Background())
	require.ErrorContains(t, err, "failed to get backfill target height")
	require.NoError(t, s.Stop())
}

func TestService_StopBeforeStart(t *testing.T) {
	cfg := testConfig(t, 0)
	s, _ := newTestService(t, cfg, newFakeChain(0), nil, nil)

	require.NoError(t, s.Stop())
	<-s.Done()

	_, result, _ := persistence.Load(cfg.Persistence.SnapshotPath(), 0)
	require.Equal(t, persistence.Missing, result, "nothing is written without a loaded state")
}

func TestService_CursorIsMonotonic(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, 0), newFakeChain(0), nil, nil)

	require.Equal(t, uint64(10), s.advanceCursor(10))
	require.Equal(t, uint64(10), s.advanceCursor(5))
	require.Equal(t, uint64(11), s.advanceCursor(11))
	require.Equal(t, uint64(11), s.LastProcessedBlock())
}

func TestService_ReapplyIsIdempotent(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, 0), newFakeChain(0), nil, nil)

	ev := placed(3, 4, 4, red)
	require.Equal(t, store.Inserted, s.apply(ev, sourceLive))
	require.Equal(t, store.Noop, s.apply(ev, sourceLive))
	require.Equal(t, 1, s.Store().Count())
}

func TestService_CaptureSnapshot(t *testing.T) {
	s, _ := newTestService(t, testConfig(t, 0), newFakeChain(0), nil, nil)

	s.apply(placed(4, 1, 2, red), sourceLive)
	s.advanceCursor(4)

	snap := s.CaptureSnapshot()
	require.Equal(t, uint64(4), snap.LastProcessedBlock)
	require.Equal(t, 1, snap.TotalPixels)
	require.Len(t, snap.Pixels, 1)
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []canvas.PixelUpdate
}

func (r *updateRecorder) Name() string { return "recorder" }

func (r *updateRecorder) OnPixelUpdate(u canvas.PixelUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *updateRecorder) recorded() []canvas.PixelUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]canvas.PixelUpdate(nil), r.updates...)
}

func TestService_LiveTailReconnects(t *testing.T) {
	cfg := testConfig(t, 10)
	chain := newFakeChain(10)

	hub := notify.NewHub(logger.NewNopLogger())
	observer := &updateRecorder{}
	hub.Register(observer)

	s, sleeps := newTestService(t, cfg, chain, hub, nil)

	first := newFakeSubscription()
	first.batches <- canvas.EventBatch{FromBlock: 11, ToBlock: 12, Events: []canvas.PlacedEvent{placed(12, 1, 1, red)}}
	chain.subs <- first

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.LastProcessedBlock() == 12 }, waitFor, 5*time.Millisecond)

	// drop the connection, the watcher resubscribes after the cursor
	second := newFakeSubscription()
	second.batches <- canvas.EventBatch{FromBlock: 13, ToBlock: 15, Events: []canvas.PlacedEvent{placed(14, 1, 1, 0)}}
	chain.subs <- second
	first.errs <- rpc.NewChainError(rpc.ClassTransientNetwork, "eth_getLogs", errors.New("connection reset"))

	require.Eventually(t, func() bool { return s.LastProcessedBlock() == 15 }, waitFor, 5*time.Millisecond)

	require.Equal(t, []uint64{11, 13}, chain.subscriptions())
	require.Positive(t, first.unsubscribed.Load())
	require.Len(t, sleeps.recorded(), 1)
	require.LessOrEqual(t, sleeps.recorded()[0], time.Second)

	_, ok := s.Store().Get(1, 1)
	require.False(t, ok, "erase applied")
	require.Zero(t, s.Store().Count())

	updates := observer.recorded()
	require.Len(t, updates, 2)
	require.False(t, updates[0].Erased)
	require.Equal(t, uint64(12), updates[0].BlockNumber)
	require.True(t, updates[1].Erased)
}

func TestService_EmptyBatchAdvancesCursor(t *testing.T) {
	chain := newFakeChain(10)
	s, _ := newTestService(t, testConfig(t, 10), chain, nil, nil)

	sub := newFakeSubscription()
	sub.batches <- canvas.EventBatch{FromBlock: 11, ToBlock: 20}
	chain.subs <- sub

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.LastProcessedBlock() == 20 }, waitFor, 5*time.Millisecond)
}

func TestService_BackfillEventsAreNotPublished(t *testing.T) {
	chain := newFakeChain(4, placed(2, 1, 1, red))

	hub := notify.NewHub(logger.NewNopLogger())
	observer := &updateRecorder{}
	hub.Register(observer)

	s, _ := newTestService(t, testConfig(t, 0), chain, hub, nil)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Phase() == canvas.PhaseWatching }, waitFor, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	require.Equal(t, 1, s.Store().Count())
	require.Empty(t, observer.recorded())
}
