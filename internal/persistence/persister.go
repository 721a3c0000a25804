package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
)

// SnapshotSource produces a consistent view of the canvas to persist.
type SnapshotSource interface {
	CaptureSnapshot() *canvas.Snapshot
}

// Persister writes snapshots with debounced, bounded-staleness scheduling.
type Persister struct {
	source         SnapshotSource
	path           string
	debounce       time.Duration
	maxWait        time.Duration
	safetyInterval time.Duration
	log            *logger.Logger
	now            func() time.Time

	mu        sync.Mutex
	dirty     bool
	lastFlush time.Time
	timer     *time.Timer
	closed    bool

	// flushMu serializes writers
	flushMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPersister creates a persister for the snapshot at cfg.SnapshotPath().
func NewPersister(cfg config.PersistenceConfig, source SnapshotSource, log *logger.Logger) *Persister {
	return &Persister{
		source:         source,
		path:           cfg.SnapshotPath(),
		debounce:       cfg.Debounce.Duration,
		maxWait:        cfg.MaxWait.Duration,
		safetyInterval: cfg.SafetyInterval.Duration,
		log:            log,
		now:            time.Now,
	}
}

// Path returns the snapshot file path.
func (p *Persister) Path() string {
	return p.path
}

// Load reads the snapshot, falling back to an empty canvas at genesis.
func (p *Persister) Load(genesis uint64) *canvas.Snapshot {
	snap, result, err := Load(p.path, genesis)

	switch result {
	case Loaded:
		p.log.Infow("snapshot loaded",
			"path", p.path,
			"pixels", snap.TotalPixels,
			"last_processed_block", snap.LastProcessedBlock,
		)
	case Missing:
		p.log.Infow("no snapshot found, starting from genesis", "path", p.path, "genesis", genesis)
	case Discarded:
		p.log.Warnw("snapshot unusable, starting full resync from genesis",
			"path", p.path,
			"genesis", genesis,
			"error", err,
		)
	}

	SnapshotLoadInc(result)

	return snap
}

// Start begins the safety-net loop.
func (p *Persister) Start(ctx context.Context) {
	p.mu.Lock()
	p.lastFlush = p.now()
	p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)

	if p.safetyInterval <= 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.safetyInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if p.IsDirty() {
					p.log.Debug("safety interval elapsed with pending changes, flushing")
					_ = p.Flush()
				}
			}
		}
	}()
}

// MarkDirty records a mutation and schedules a flush.
func (p *Persister) MarkDirty() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.dirty = true

	decision := Decide(p.now(), p.lastFlush, p.debounce, p.maxWait)
	delay := decision.Delay
	if decision.FlushNow {
		delay = 0
	}

	p.armLocked(delay)
}

func (p *Persister) armLocked(delay time.Duration) {
	if p.timer == nil {
		p.timer = time.AfterFunc(delay, p.onTimer)
		return
	}
	p.timer.Stop()
	p.timer.Reset(delay)
}

func (p *Persister) onTimer() {
	if p.IsDirty() {
		_ = p.Flush()
	}
}

// IsDirty reports whether there are unflushed mutations.
func (p *Persister) IsDirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.dirty
}

// Flush writes the current snapshot. On failure the dirty flag is restored and a retry is scheduled.
func (p *Persister) Flush() error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	p.dirty = false
	p.lastFlush = p.now()
	p.mu.Unlock()

	start := time.Now()
	snap := p.source.CaptureSnapshot()

	size, err := Save(p.path, snap)
	SnapshotFlushDuration(time.Since(start))

	if err != nil {
		SnapshotFlushInc(false)
		p.log.Errorw("failed to write snapshot, in-memory state stays authoritative",
			"path", p.path,
			"error", err,
		)

		p.mu.Lock()
		p.dirty = true
		if !p.closed {
			p.armLocked(p.debounce)
		}
		p.mu.Unlock()

		return err
	}

	SnapshotFlushInc(true)
	SnapshotSize(size, snap.TotalPixels)

	p.log.Debugw("snapshot written",
		"pixels", snap.TotalPixels,
		"last_processed_block", snap.LastProcessedBlock,
		"size", humanize.Bytes(uint64(size)),
		"duration", time.Since(start),
	)

	return nil
}

// Close stops scheduling and performs one final synchronous flush.
func (p *Persister) Close() error {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	return p.Flush()
}
