package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/goran-ethernal/CanvasIndexor/internal/ledger"
	"github.com/goran-ethernal/CanvasIndexor/internal/store"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

var (
	ErrNotFound        = errors.New("pixel not found")
	ErrRegionTooLarge  = errors.New("region too large")
	ErrOutOfBounds     = errors.New("coordinates out of bounds")
	ErrInvalidArgument = errors.New("invalid argument")
)

// StatusSource reports the engine's sync progress.
type StatusSource interface {
	Progress() canvas.Progress
}

// ObserverCounter reports how many live observers are registered.
type ObserverCounter interface {
	Count() int
}

// GapSource lists block ranges skipped during backfill.
type GapSource interface {
	List(ctx context.Context) ([]ledger.SkippedRange, error)
	Count(ctx context.Context) (int, error)
}

// Config bounds the queries the facade accepts.
type Config struct {
	Resolution     uint32
	MaxRegionCells uint64
	MaxPageSize    int
}

// Page is one page of the row-major pixel listing.
type Page struct {
	Pixels  []canvas.PixelRecord `json:"pixels"`
	Total   int                  `json:"total"`
	Offset  int                  `json:"offset"`
	Limit   int                  `json:"limit"`
	HasMore bool                 `json:"has_more"`
}

// Stats summarizes the canvas and the engine state.
type Stats struct {
	Count              int          `json:"count"`
	LastProcessedBlock uint64       `json:"last_processed_block"`
	TargetBlock        uint64       `json:"target_block"`
	Phase              canvas.Phase `json:"phase"`
	ProgressPercent    float64      `json:"progress_percent"`
	ObserverCount      int          `json:"observer_count"`
	SkippedRanges      int          `json:"skipped_ranges"`
}

// Facade is the read-only view over the canvas used by outer layers.
type Facade struct {
	cfg       Config
	store     *store.Store
	status    StatusSource
	observers ObserverCounter
	gaps      GapSource
}

// New creates a facade. observers and gaps may be nil.
func New(cfg Config, st *store.Store, status StatusSource, observers ObserverCounter, gaps GapSource) *Facade {
	return &Facade{
		cfg:       cfg,
		store:     st,
		status:    status,
		observers: observers,
		gaps:      gaps,
	}
}

// MaxPageSize returns the largest page GetAll serves.
func (f *Facade) MaxPageSize() int {
	return f.cfg.MaxPageSize
}

// GetAll returns a page of pixels in row-major order.
// A non-positive limit selects the maximum page size, larger limits are clamped.
func (f *Facade) GetAll(offset, limit int) (Page, error) {
	if offset < 0 {
		return Page{}, fmt.Errorf("%w: offset must be non-negative", ErrInvalidArgument)
	}
	if limit <= 0 || limit > f.cfg.MaxPageSize {
		limit = f.cfg.MaxPageSize
	}

	pixels := f.store.Page(offset, limit)
	if pixels == nil {
		pixels = []canvas.PixelRecord{}
	}
	total := f.store.Count()

	return Page{
		Pixels:  pixels,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: offset+len(pixels) < total,
	}, nil
}

// GetOne returns the pixel at (x, y).
func (f *Facade) GetOne(x, y uint32) (canvas.PixelRecord, error) {
	if !f.inBounds(x, y) {
		return canvas.PixelRecord{}, fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrOutOfBounds, x, y, f.cfg.Resolution, f.cfg.Resolution)
	}

	rec, ok := f.store.Get(x, y)
	if !ok {
		return canvas.PixelRecord{}, fmt.Errorf("%w: (%d,%d)", ErrNotFound, x, y)
	}

	return rec, nil
}

// GetRegion returns the pixels inside the w by h rectangle at (x0, y0).
// Oversized regions are rejected, never truncated.
func (f *Facade) GetRegion(x0, y0, w, h uint32) ([]canvas.PixelRecord, error) {
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("%w: width and height must be positive", ErrInvalidArgument)
	}
	if !f.inBounds(x0, y0) {
		return nil, fmt.Errorf("%w: origin (%d,%d) outside %dx%d", ErrOutOfBounds, x0, y0, f.cfg.Resolution, f.cfg.Resolution)
	}

	cells := uint64(w) * uint64(h)
	if cells > f.cfg.MaxRegionCells {
		return nil, fmt.Errorf("%w: %d cells requested, at most %d allowed", ErrRegionTooLarge, cells, f.cfg.MaxRegionCells)
	}

	pixels := f.store.GetRegion(x0, y0, w, h)
	if pixels == nil {
		pixels = []canvas.PixelRecord{}
	}

	return pixels, nil
}

// GetStats returns the current canvas and engine statistics.
func (f *Facade) GetStats(ctx context.Context) (Stats, error) {
	progress := f.status.Progress()

	stats := Stats{
		Count:              f.store.Count(),
		LastProcessedBlock: progress.LastProcessedBlock,
		TargetBlock:        progress.TargetBlock,
		Phase:              progress.Phase,
		ProgressPercent:    progress.Percent,
	}

	if f.observers != nil {
		stats.ObserverCount = f.observers.Count()
	}

	if f.gaps != nil {
		count, err := f.gaps.Count(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("failed to count skipped ranges: %w", err)
		}
		stats.SkippedRanges = count
	}

	return stats, nil
}

// SkippedRanges lists the block ranges skipped during backfill.
func (f *Facade) SkippedRanges(ctx context.Context) ([]ledger.SkippedRange, error) {
	if f.gaps == nil {
		return []ledger.SkippedRange{}, nil
	}

	return f.gaps.List(ctx)
}

// ExportBinary returns the packed canvas, see store.ExportBinary.
func (f *Facade) ExportBinary() []byte {
	return f.store.ExportBinary()
}

func (f *Facade) inBounds(x, y uint32) bool {
	return x < f.cfg.Resolution && y < f.cfg.Resolution
}
