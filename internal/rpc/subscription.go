package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
)

var _ pkgrpc.Subscription = (*pollingSubscription)(nil)

// pollingSubscription emits one batch per polled range, including empty ranges,
// so the consumer cursor advances with the chain head.
type pollingSubscription struct {
	client   pkgrpc.ChainClient
	next     uint64
	interval time.Duration
	maxRange uint64

	ctx    context.Context
	cancel context.CancelFunc

	batches chan canvas.EventBatch
	errs    chan error
	done    chan struct{}
	once    sync.Once
}

func newPollingSubscription(
	ctx context.Context,
	client pkgrpc.ChainClient,
	fromBlock uint64,
	interval time.Duration,
	maxRange uint64,
) *pollingSubscription {
	subCtx, cancel := context.WithCancel(ctx)

	return &pollingSubscription{
		client:   client,
		next:     fromBlock,
		interval: interval,
		maxRange: maxRange,
		ctx:      subCtx,
		cancel:   cancel,
		batches:  make(chan canvas.EventBatch),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Batches delivers contiguous batches in block order.
func (s *pollingSubscription) Batches() <-chan canvas.EventBatch {
	return s.batches
}

// Err delivers the error that terminated the subscription.
func (s *pollingSubscription) Err() <-chan error {
	return s.errs
}

// Unsubscribe stops polling and waits for the poll loop to exit.
func (s *pollingSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *pollingSubscription) run() {
	defer close(s.done)

	for {
		caughtUp, err := s.poll()
		if err != nil {
			if s.ctx.Err() == nil {
				s.errs <- err
			}
			return
		}

		if !caughtUp {
			continue
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// poll fetches and delivers the next range. It reports whether the head was reached.
func (s *pollingSubscription) poll() (bool, error) {
	head, err := s.client.CurrentHeight(s.ctx)
	if err != nil {
		return false, err
	}

	if s.next > head {
		return true, nil
	}

	to := min(s.next+s.maxRange-1, head)

	events, err := s.client.GetEvents(s.ctx, s.next, to)
	if err != nil {
		return false, err
	}

	batch := canvas.EventBatch{FromBlock: s.next, ToBlock: to, Events: events}
	select {
	case s.batches <- batch:
	case <-s.ctx.Done():
		return false, s.ctx.Err()
	}

	s.next = to + 1

	return to == head, nil
}
