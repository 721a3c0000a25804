package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/rpc"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

// chunkResult is the outcome of fetching one chunk.
type chunkResult struct {
	events   []canvas.PlacedEvent
	skipped  bool
	attempts int
	err      error
}

// Backfiller catches the canvas up from the checkpoint to a target height.
type Backfiller struct {
	chunkSize       uint64
	parallelism     int
	interBatchDelay time.Duration
	retry           config.RetryConfig

	client pkgrpc.ChainClient
	state  stateWriter
	gaps   GapRecorder
	log    *logger.Logger

	// sleep is used for retry backoff and the inter-batch delay
	sleep rpc.Sleeper
}

func newBackfiller(
	cfg config.BackfillConfig,
	retry config.RetryConfig,
	client pkgrpc.ChainClient,
	state stateWriter,
	gaps GapRecorder,
	log *logger.Logger,
) *Backfiller {
	var delay time.Duration
	if cfg.InterBatchDelay != nil {
		delay = cfg.InterBatchDelay.Duration
	}

	return &Backfiller{
		chunkSize:       cfg.ChunkSize,
		parallelism:     cfg.Parallelism,
		interBatchDelay: delay,
		retry:           retry,
		client:          client,
		state:           state,
		gaps:            gaps,
		log:             log,
		sleep:           rpc.ContextSleep,
	}
}

// Run applies every event in (checkpoint, target]. It returns early only
// when ctx is cancelled; failed chunks are skipped and recorded.
func (b *Backfiller) Run(ctx context.Context, checkpoint, target uint64) error {
	if checkpoint >= target {
		b.log.Infow("backfill not needed", "last_processed_block", checkpoint, "target_block", target)
		b.state.setProgress(checkpoint, checkpoint, target)
		return nil
	}

	chunks := planChunks(checkpoint, target, b.chunkSize)
	groups := batches(chunks, b.parallelism)

	b.log.Infow("backfill started",
		"from_block", checkpoint+1,
		"target_block", target,
		"chunks", len(chunks),
		"batches", len(groups),
		"parallelism", b.parallelism,
	)

	started := time.Now()
	skipped := 0

	for i, batch := range groups {
		results, err := b.fetchBatch(ctx, batch)
		if err != nil {
			b.log.Infow("backfill cancelled", "last_processed_block", b.state.cursorBlock())
			return err
		}

		skipped += b.applyBatch(ctx, batch, results)

		cursor := b.state.advanceCursor(batch[len(batch)-1].To)
		b.state.markDirty()
		b.state.setProgress(checkpoint, cursor, target)

		b.log.Debugw("batch applied",
			"batch", i+1,
			"of", len(groups),
			"last_processed_block", cursor,
			"progress", fmt.Sprintf("%.2f%%", progressPercent(checkpoint, cursor, target)),
		)

		if i < len(groups)-1 && b.interBatchDelay > 0 {
			if err := b.sleep(ctx, b.interBatchDelay); err != nil {
				return err
			}
		}
	}

	b.log.Infow("backfill complete",
		"last_processed_block", b.state.cursorBlock(),
		"skipped_chunks", skipped,
		"duration", time.Since(started),
	)

	if height, err := b.client.CurrentHeight(ctx); err != nil {
		b.log.Warnw("failed to read chain height after backfill", "error", err)
	} else if height > target {
		b.log.Infow("chain advanced during backfill, live tail will catch up",
			"target_block", target,
			"current_height", height,
		)
	}

	return nil
}

// fetchBatch fetches every chunk of the batch concurrently. Chunk failures
// are reported in the results, only cancellation is returned as an error.
func (b *Backfiller) fetchBatch(ctx context.Context, batch []Chunk) ([]chunkResult, error) {
	results := make([]chunkResult, len(batch))

	var g errgroup.Group
	g.SetLimit(b.parallelism)

	for i, chunk := range batch {
		g.Go(func() error {
			results[i] = b.fetchChunk(ctx, chunk)
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (b *Backfiller) fetchChunk(ctx context.Context, chunk Chunk) chunkResult {
	var events []canvas.PlacedEvent

	attempts, err := rpc.RetryWithBackoff(ctx, &b.retry, "get_events", b.sleep, func(ctx context.Context) error {
		var err error
		events, err = b.client.GetEvents(ctx, chunk.From, chunk.To)
		return err
	})
	if err != nil {
		return chunkResult{skipped: true, attempts: attempts, err: err}
	}

	return chunkResult{events: events, attempts: attempts}
}

// applyBatch applies the batch in chunk order and returns the number of skipped chunks.
func (b *Backfiller) applyBatch(ctx context.Context, batch []Chunk, results []chunkResult) int {
	skipped := 0

	for i, chunk := range batch {
		res := results[i]
		if res.skipped {
			skipped++
			b.skip(ctx, chunk, res)
			continue
		}

		b.state.applyAll(res.events, sourceBackfill)
		ChunkAppliedInc()
	}

	return skipped
}

func (b *Backfiller) skip(ctx context.Context, chunk Chunk, res chunkResult) {
	ChunkSkippedInc()

	class := rpc.ClassOf(res.err)
	b.log.Warnw("skipping chunk",
		"chunk", chunk.String(),
		"attempts", res.attempts,
		"class", class.String(),
		"error", res.err,
	)

	if b.gaps == nil {
		return
	}

	reason := fmt.Sprintf("%s: %v", class, res.err)
	if err := b.gaps.Record(ctx, chunk.From, chunk.To, reason, res.attempts); err != nil {
		b.log.Errorw("failed to record skipped chunk", "chunk", chunk.String(), "error", err)
	}
}
