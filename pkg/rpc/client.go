package rpc

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

// EthClient is the raw JSON-RPC surface the chain client needs.
type EthClient interface {
	// Close closes the RPC client connection.
	Close()

	// GetLogs retrieves logs matching the given filter query.
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByTag retrieves the header of the block the tag currently points
	// at: latest, safe or finalized.
	HeaderByTag(ctx context.Context, tag rpc.BlockNumber) (*types.Header, error)
}

// ChainClient is the event source consumed by the sync engine.
type ChainClient interface {
	// CurrentHeight returns the highest block considered final enough to index.
	CurrentHeight(ctx context.Context) (uint64, error)

	// GetEvents returns the decoded Placed events in [from, to], sorted by
	// block number, transaction index and log index.
	GetEvents(ctx context.Context, from, to uint64) ([]canvas.PlacedEvent, error)

	// SubscribeEvents delivers batches starting at fromBlock until unsubscribed
	// or until the first error.
	SubscribeEvents(ctx context.Context, fromBlock uint64) (Subscription, error)

	// Close releases the underlying connection.
	Close()
}

// Subscription is a live stream of event batches.
type Subscription interface {
	// Batches delivers contiguous batches in block order.
	Batches() <-chan canvas.EventBatch

	// Err delivers at most one error, after which no more batches arrive.
	Err() <-chan error

	// Unsubscribe stops the subscription. It is safe to call more than once.
	Unsubscribe()
}
