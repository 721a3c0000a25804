package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/rpc"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/goran-ethernal/CanvasIndexor/pkg/config"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
)

var errSubscriptionClosed = errors.New("subscription closed")

// Watcher applies live event batches and resubscribes after transport errors.
type Watcher struct {
	client pkgrpc.ChainClient
	state  stateWriter
	hub    Publisher
	log    *logger.Logger

	initialDelay time.Duration
	maxDelay     time.Duration

	sleep rpc.Sleeper
}

func newWatcher(
	cfg config.LiveConfig,
	retry config.RetryConfig,
	client pkgrpc.ChainClient,
	state stateWriter,
	hub Publisher,
	log *logger.Logger,
) *Watcher {
	return &Watcher{
		client:       client,
		state:        state,
		hub:          hub,
		log:          log,
		initialDelay: retry.InitialBackoff.Duration,
		maxDelay:     cfg.MaxReconnectDelay.Duration,
		sleep:        rpc.ContextSleep,
	}
}

func (w *Watcher) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if w.initialDelay > 0 {
		b.InitialInterval = w.initialDelay
	}
	if w.maxDelay > 0 {
		b.MaxInterval = w.maxDelay
	}
	// reconnect forever
	b.MaxElapsedTime = 0
	b.Reset()

	return b
}

// Run follows the chain until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	bo := w.newBackOff()

	w.log.Infow("live tail started", "from_block", w.state.cursorBlock()+1)

	for {
		if ctx.Err() != nil {
			w.log.Info("live tail stopped")
			return
		}

		from := w.state.cursorBlock() + 1

		sub, err := w.client.SubscribeEvents(ctx, from)
		if err == nil {
			err = w.consume(ctx, sub, bo)
			sub.Unsubscribe()
		}

		if ctx.Err() != nil {
			w.log.Info("live tail stopped")
			return
		}

		delay := bo.NextBackOff()
		ReconnectInc()
		w.log.Warnw("live subscription failed, reconnecting",
			"from_block", w.state.cursorBlock()+1,
			"class", rpc.ClassOf(err).String(),
			"retry_in", delay,
			"error", err,
		)

		if err := w.sleep(ctx, delay); err != nil {
			w.log.Info("live tail stopped")
			return
		}
	}
}

// consume applies batches until the subscription fails or ctx is cancelled.
func (w *Watcher) consume(ctx context.Context, sub pkgrpc.Subscription, bo backoff.BackOff) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			return err

		case batch, ok := <-sub.Batches():
			if !ok {
				// closed without an error, treat as a dropped connection
				return rpc.NewChainError(rpc.ClassTransientNetwork, "subscribe", errSubscriptionClosed)
			}

			w.applyBatch(batch)
			bo.Reset()
		}
	}
}

func (w *Watcher) applyBatch(batch canvas.EventBatch) {
	for _, ev := range batch.Events {
		w.state.apply(ev, sourceLive)
	}

	if w.hub != nil {
		for _, ev := range batch.Events {
			rec := ev.Record()
			w.hub.Publish(canvas.PixelUpdate{
				Pixel:       rec,
				Erased:      rec.IsErase(),
				BlockNumber: ev.BlockNumber,
			})
		}
	}

	cursor := w.state.advanceCursor(batch.ToBlock)
	w.state.markDirty()

	if len(batch.Events) > 0 {
		w.log.Debugw("live batch applied",
			"from_block", batch.FromBlock,
			"to_block", batch.ToBlock,
			"events", len(batch.Events),
			"last_processed_block", cursor,
		)
	}
}
