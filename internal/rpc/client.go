package rpc

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
	"golang.org/x/time/rate"
)

var _ pkgrpc.EthClient = (*Client)(nil)

// Client is a rate-limited, instrumented ethclient. Every error it returns
// for a completed call is a *ChainError.
type Client struct {
	eth     *ethclient.Client
	limiter *rate.Limiter
}

// NewClient creates a new RPC client connected to the given endpoint.
// requestsPerSecond caps outgoing calls, 0 means unlimited.
func NewClient(ctx context.Context, endpoint string, requestsPerSecond float64) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		eth:     ethclient.NewClient(rpcClient),
		limiter: newLimiter(requestsPerSecond),
	}, nil
}

// newLimiter builds a token bucket allowing short bursts up to one second of budget.
func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := max(int(requestsPerSecond), 1)
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Close closes the RPC client connection.
func (c *Client) Close() {
	c.eth.Close()
}

// GetLogs retrieves logs matching the given filter query. Provider error
// data survives classification, the chain client reads range hints from it.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := c.call(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// HeaderByTag retrieves the header of a tagged block. Negative tags are
// passed through by ethclient as their names.
func (c *Client) HeaderByTag(ctx context.Context, tag rpc.BlockNumber) (*types.Header, error) {
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", func(ctx context.Context) error {
		var err error
		header, err = c.eth.HeaderByNumber(ctx, big.NewInt(tag.Int64()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// call waits for the limiter, runs fn and records metrics.
// Errors leave here already classified.
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	RPCMethodInc(method)
	err := fn(ctx)
	RPCMethodDuration(method, time.Since(start))

	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	chainErr := Classify(method, err)
	RPCMethodError(method, chainErr.Class.String())
	return chainErr
}
