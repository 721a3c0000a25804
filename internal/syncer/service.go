package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goran-ethernal/CanvasIndexor/internal/common"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/persistence"
	"github.com/goran-ethernal/CanvasIndexor/internal/store"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
)

const (
	sourceBackfill = "backfill"
	sourceLive     = "live"
)

// GapRecorder stores block ranges the backfill gave up on.
type GapRecorder interface {
	Record(ctx context.Context, from, to uint64, reason string, attempts int) error
}

// Publisher receives live pixel updates.
type Publisher interface {
	Publish(update canvas.PixelUpdate)
}

// LoggerFactory builds the logger for a component.
type LoggerFactory func(component string) *logger.Logger

// stateWriter is the single mutation path into the canvas.
type stateWriter interface {
	apply(ev canvas.PlacedEvent, source string) store.Change
	applyAll(evs []canvas.PlacedEvent, source string) []store.Change
	advanceCursor(block uint64) uint64
	cursorBlock() uint64
	setProgress(start, cursor, target uint64)
	markDirty()
}

// Service owns the canvas state and drives backfill followed by the live tail.
type Service struct {
	cfg       *config.Config
	client    pkgrpc.ChainClient
	store     *store.Store
	persister *persistence.Persister
	log       *logger.Logger

	backfiller *Backfiller
	watcher    *Watcher

	cursorMu sync.Mutex
	cursor   uint64

	stateMu  sync.RWMutex
	phase    canvas.Phase
	progress canvas.Progress

	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

var _ stateWriter = (*Service)(nil)

// New creates the sync service. gaps and hub may be nil.
func New(
	cfg *config.Config,
	client pkgrpc.ChainClient,
	hub Publisher,
	gaps GapRecorder,
	newLogger LoggerFactory,
) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if client == nil {
		return nil, errors.New("chain client is required")
	}
	if newLogger == nil {
		return nil, errors.New("logger factory is required")
	}

	s := &Service{
		cfg:    cfg,
		client: client,
		store:  store.New(),
		log:    newLogger(common.ComponentService),
		phase:  canvas.PhaseLoading,
		done:   make(chan struct{}),
	}
	s.progress.Phase = canvas.PhaseLoading

	s.persister = persistence.NewPersister(cfg.Persistence, s, newLogger(common.ComponentPersistence))
	s.backfiller = newBackfiller(cfg.Backfill, cfg.Retry, client, s, gaps, newLogger(common.ComponentBackfill))
	s.watcher = newWatcher(cfg.Live, cfg.Retry, client, s, hub, newLogger(common.ComponentWatcher))

	PhaseSet(canvas.PhaseLoading)

	return s, nil
}

// Store returns the canvas store for read access.
func (s *Service) Store() *store.Store {
	return s.store
}

// Start loads the snapshot, resolves the backfill target and launches the
// sync loop in the background. Errors returned here are startup failures.
func (s *Service) Start(ctx context.Context) error {
	genesis := *s.cfg.Chain.GenesisBlock

	snap := s.persister.Load(genesis)
	s.store.Restore(snap.Pixels)
	s.cursorMu.Lock()
	s.cursor = snap.LastProcessedBlock
	s.cursorMu.Unlock()
	s.started = true

	CursorSet(snap.LastProcessedBlock)
	PixelCountSet(s.store.Count())

	target, err := s.client.CurrentHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get backfill target height: %w", err)
	}

	start := snap.LastProcessedBlock
	s.setProgress(start, start, target)
	TargetSet(target)

	s.log.Infow("sync service starting",
		"last_processed_block", start,
		"target_block", target,
		"pixels", s.store.Count(),
	)

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.persister.Start(runCtx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)

		s.run(runCtx, start, target)
	}()

	return nil
}

func (s *Service) run(ctx context.Context, start, target uint64) {
	s.setPhase(canvas.PhaseBackfilling)

	if err := s.backfiller.Run(ctx, start, target); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Errorw("backfill stopped", "error", err)
		}
		return
	}

	s.setPhase(canvas.PhaseWatching)
	s.watcher.Run(ctx)
}

// Done is closed when the sync loop exits.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the sync loop, waits for it to exit and performs a final flush.
// It is safe to call more than once.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		} else {
			// the sync loop never ran
			close(s.done)
		}
		s.wg.Wait()

		s.setPhase(canvas.PhaseStopped)

		if !s.started {
			return
		}

		if err := s.persister.Close(); err != nil {
			s.stopErr = fmt.Errorf("final snapshot flush failed: %w", err)
			return
		}

		s.log.Infow("sync service stopped",
			"last_processed_block", s.cursorBlock(),
			"pixels", s.store.Count(),
		)
	})

	return s.stopErr
}

// CaptureSnapshot reads the cursor before the store so that a persisted
// snapshot never claims blocks whose events it does not contain.
func (s *Service) CaptureSnapshot() *canvas.Snapshot {
	block := s.cursorBlock()

	snap := canvas.NewSnapshot(block)
	snap.Pixels = s.store.Snapshot()
	snap.TotalPixels = len(snap.Pixels)

	return snap
}

// Phase returns the current lifecycle phase.
func (s *Service) Phase() canvas.Phase {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	return s.phase
}

// Progress returns the current sync progress.
func (s *Service) Progress() canvas.Progress {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	p := s.progress
	p.Phase = s.phase
	p.LastProcessedBlock = s.cursorBlock()
	return p
}

// LastProcessedBlock returns the cursor.
func (s *Service) LastProcessedBlock() uint64 {
	return s.cursorBlock()
}

func (s *Service) setPhase(next canvas.Phase) {
	s.stateMu.Lock()
	prev := s.phase
	if !prev.CanTransitionTo(next) {
		s.stateMu.Unlock()
		s.log.Debugw("ignoring phase transition", "from", prev, "to", next)
		return
	}
	s.phase = next
	if next == canvas.PhaseWatching {
		s.progress.Percent = 100
	}
	s.stateMu.Unlock()

	PhaseSet(next)
	s.log.Infow("phase transition", "from", prev, "to", next)
}

func (s *Service) apply(ev canvas.PlacedEvent, source string) store.Change {
	change := s.store.Upsert(ev.Record())
	EventAppliedInc(source, change)
	return change
}

// applyAll applies the events in order under one store lock, so readers
// never see a chunk half applied.
func (s *Service) applyAll(evs []canvas.PlacedEvent, source string) []store.Change {
	recs := make([]canvas.PixelRecord, len(evs))
	for i, ev := range evs {
		recs[i] = ev.Record()
	}

	changes := s.store.UpsertAll(recs)
	for _, change := range changes {
		EventAppliedInc(source, change)
	}
	return changes
}

// advanceCursor moves the cursor forward, never backward, and returns its new value.
func (s *Service) advanceCursor(block uint64) uint64 {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	if block > s.cursor {
		s.cursor = block
	}

	CursorSet(s.cursor)
	PixelCountSet(s.store.Count())

	return s.cursor
}

func (s *Service) cursorBlock() uint64 {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	return s.cursor
}

func (s *Service) setProgress(start, cursor, target uint64) {
	percent := progressPercent(start, cursor, target)

	s.stateMu.Lock()
	s.progress.TargetBlock = target
	s.progress.Percent = percent
	s.stateMu.Unlock()

	ProgressSet(percent)
}

func (s *Service) markDirty() {
	s.persister.MarkDirty()
}
