package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	icommon "github.com/goran-ethernal/CanvasIndexor/internal/common"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
	"github.com/stretchr/testify/require"
)

const (
	red   = 0xff0000
	blue  = 0x0000ff
	green = 0x00ff00
)

var actor = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func placed(block uint64, x, y, color uint32) canvas.PlacedEvent {
	return canvas.PlacedEvent{
		Actor:       actor,
		X:           x,
		Y:           y,
		Color:       color,
		Timestamp:   1_700_000_000 + block,
		BlockNumber: block,
	}
}

// fakeChain serves events from memory and scripted subscriptions.
type fakeChain struct {
	mu        sync.Mutex
	height    uint64
	heightErr error
	events    []canvas.PlacedEvent
	fail      func(ctx context.Context, chunk Chunk, call int) error
	calls     map[Chunk]int

	subs          chan *fakeSubscription
	subscribeFrom []uint64
}

func newFakeChain(height uint64, events ...canvas.PlacedEvent) *fakeChain {
	return &fakeChain{
		height: height,
		events: events,
		calls:  make(map[Chunk]int),
		subs:   make(chan *fakeSubscription, 8),
	}
}

var _ pkgrpc.ChainClient = (*fakeChain)(nil)

func (f *fakeChain) CurrentHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.height, f.heightErr
}

func (f *fakeChain) GetEvents(ctx context.Context, from, to uint64) ([]canvas.PlacedEvent, error) {
	chunk := Chunk{From: from, To: to}

	f.mu.Lock()
	f.calls[chunk]++
	call := f.calls[chunk]
	fail := f.fail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(ctx, chunk, call); err != nil {
			return nil, err
		}
	}

	var out []canvas.PlacedEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}

	return out, nil
}

func (f *fakeChain) SubscribeEvents(ctx context.Context, fromBlock uint64) (pkgrpc.Subscription, error) {
	f.mu.Lock()
	f.subscribeFrom = append(f.subscribeFrom, fromBlock)
	f.mu.Unlock()

	select {
	case sub := <-f.subs:
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeChain) Close() {}

func (f *fakeChain) callsFor(chunk Chunk) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[chunk]
}

func (f *fakeChain) subscriptions() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]uint64(nil), f.subscribeFrom...)
}

type fakeSubscription struct {
	batches      chan canvas.EventBatch
	errs         chan error
	unsubscribed atomic.Int32
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		batches: make(chan canvas.EventBatch, 8),
		errs:    make(chan error, 1),
	}
}

func (s *fakeSubscription) Batches() <-chan canvas.EventBatch { return s.batches }
func (s *fakeSubscription) Err() <-chan error                 { return s.errs }
func (s *fakeSubscription) Unsubscribe()                      { s.unsubscribed.Add(1) }

type recordedGap struct {
	chunk    Chunk
	reason   string
	attempts int
}

type fakeGaps struct {
	mu   sync.Mutex
	gaps []recordedGap
}

func (g *fakeGaps) Record(_ context.Context, from, to uint64, reason string, attempts int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gaps = append(g.gaps, recordedGap{chunk: Chunk{From: from, To: to}, reason: reason, attempts: attempts})
	return nil
}

func (g *fakeGaps) recorded() []recordedGap {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]recordedGap(nil), g.gaps...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

func testConfig(t *testing.T, genesis uint64) *config.Config {
	t.Helper()

	delay := icommon.NewDuration(0)

	return &config.Config{
		Chain: config.ChainConfig{GenesisBlock: &genesis},
		Backfill: config.BackfillConfig{
			ChunkSize:       4,
			Parallelism:     2,
			InterBatchDelay: &delay,
		},
		Retry: config.RetryConfig{
			MaxRetries:        3,
			InitialBackoff:    icommon.NewDuration(100 * time.Millisecond),
			MaxBackoff:        icommon.NewDuration(250 * time.Millisecond),
			BackoffMultiplier: 2,
		},
		Live: config.LiveConfig{MaxReconnectDelay: icommon.NewDuration(time.Second)},
		Persistence: config.PersistenceConfig{
			SnapshotDir: t.TempDir(),
			Debounce:    icommon.NewDuration(time.Hour),
			MaxWait:     icommon.NewDuration(2 * time.Hour),
		},
	}
}

func nopLoggers(string) *logger.Logger {
	return logger.NewNopLogger()
}

// newTestService builds a service whose sleeps return immediately.
func newTestService(t *testing.T, cfg *config.Config, chain *fakeChain, hub Publisher, gaps GapRecorder) (*Service, *sleepRecorder) {
	t.Helper()

	s, err := New(cfg, chain, hub, gaps, nopLoggers)
	require.NoError(t, err)

	sleeps := &sleepRecorder{}
	s.backfiller.sleep = sleeps.sleep
	s.watcher.sleep = sleeps.sleep

	return s, sleeps
}
