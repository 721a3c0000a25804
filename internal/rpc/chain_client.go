package rpc

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	itypes "github.com/goran-ethernal/CanvasIndexor/internal/types"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	pkgrpc "github.com/goran-ethernal/CanvasIndexor/pkg/rpc"
)

// Compile-time check to ensure ChainClient implements pkgrpc.ChainClient interface.
var _ pkgrpc.ChainClient = (*ChainClient)(nil)

// ChainClientConfig holds the settings of a ChainClient.
type ChainClientConfig struct {
	Contract      ethcommon.Address
	Finality      itypes.BlockFinality
	Confirmations uint64
	Resolution    uint32
	PollInterval  time.Duration
	// MaxRange caps the block range fetched by one subscription poll
	MaxRange uint64
}

// ChainClient serves decoded Placed events of a single canvas contract.
type ChainClient struct {
	eth     pkgrpc.EthClient
	decoder *Decoder
	cfg     ChainClientConfig
	log     *logger.Logger
}

// NewChainClient creates a chain client on top of a raw Ethereum client.
func NewChainClient(eth pkgrpc.EthClient, cfg ChainClientConfig, log *logger.Logger) (*ChainClient, error) {
	if !cfg.Finality.IsValid() {
		return nil, fmt.Errorf("invalid finality mode: %s", cfg.Finality)
	}

	decoder, err := NewDecoder(cfg.Resolution)
	if err != nil {
		return nil, err
	}

	if cfg.MaxRange == 0 {
		cfg.MaxRange = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	return &ChainClient{
		eth:     eth,
		decoder: decoder,
		cfg:     cfg,
		log:     log,
	}, nil
}

// Close closes the underlying connection.
func (c *ChainClient) Close() {
	c.eth.Close()
}

// CurrentHeight returns the head selected by the configured finality.
func (c *ChainClient) CurrentHeight(ctx context.Context) (uint64, error) {
	header, err := c.eth.HeaderByTag(ctx, c.cfg.Finality.BlockTag())
	if err != nil {
		return 0, err
	}
	if header == nil || header.Number == nil {
		return 0, NewChainError(ClassTransientNetwork, "current_height", errors.New("empty block header"))
	}

	return c.cfg.Finality.Target(header.Number.Uint64(), c.cfg.Confirmations), nil
}

// GetEvents returns decoded events in [from, to] sorted by (block, tx, log index).
// Logs that fail to decode are skipped and counted.
func (c *ChainClient) GetEvents(ctx context.Context, from, to uint64) ([]canvas.PlacedEvent, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range: from %d > to %d", from, to)
	}

	logs, err := c.fetchLogs(ctx, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]canvas.PlacedEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}

		ev, err := c.decoder.Decode(l)
		if err != nil {
			DecodeErrorInc()
			c.log.Warnw("skipping undecodable log",
				"block", l.BlockNumber,
				"tx_index", l.TxIndex,
				"log_index", l.Index,
				"error", err,
			)
			continue
		}

		events = append(events, ev)
	}

	SortEvents(events)

	return events, nil
}

// fetchLogs fetches logs and splits the range whenever the provider answers with too many results.
func (c *ChainClient) fetchLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethcommon.Address{c.cfg.Contract},
		Topics:    [][]ethcommon.Hash{{c.decoder.Topic()}},
	}

	logs, err := c.eth.GetLogs(ctx, query)
	if err == nil {
		return logs, nil
	}

	ok, errData := IsTooManyResultsError(err)
	if !ok {
		return nil, err
	}

	RangeSplitInc()

	split := (from + to) / 2 //nolint:mnd
	if suggestedFrom, suggestedTo, ok := ParseSuggestedBlockRange(errData); ok &&
		suggestedFrom == from && suggestedTo >= from && suggestedTo < to {
		split = suggestedTo
	}

	if split >= to || from == to {
		return nil, NewChainError(ClassFatal, "eth_getLogs",
			fmt.Errorf("cannot split range further, block %d has too many logs", from))
	}

	c.log.Debugf("too many logs in range %d-%d, splitting at %d", from, to, split)

	left, err := c.fetchLogs(ctx, from, split)
	if err != nil {
		return nil, err
	}

	right, err := c.fetchLogs(ctx, split+1, to)
	if err != nil {
		return nil, err
	}

	return append(left, right...), nil
}

// SubscribeEvents starts a polling subscription from fromBlock.
func (c *ChainClient) SubscribeEvents(ctx context.Context, fromBlock uint64) (pkgrpc.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newPollingSubscription(ctx, c, fromBlock, c.cfg.PollInterval, c.cfg.MaxRange)
	go sub.run()

	return sub, nil
}

// SortEvents orders events by block number, transaction index and log index.
func SortEvents(events []canvas.PlacedEvent) {
	slices.SortStableFunc(events, func(a, b canvas.PlacedEvent) int {
		switch {
		case a.BlockNumber != b.BlockNumber:
			return cmp.Compare(a.BlockNumber, b.BlockNumber)
		case a.TxIndex != b.TxIndex:
			return cmp.Compare(a.TxIndex, b.TxIndex)
		default:
			return cmp.Compare(a.LogIndex, b.LogIndex)
		}
	})
}
