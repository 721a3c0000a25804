package rpc

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	itypes "github.com/goran-ethernal/CanvasIndexor/internal/types"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/stretchr/testify/require"
)

var testContract = ethcommon.HexToAddress("0x1c7Ab3f9c3c5c6b3E7C5b6a5f0D2a8aB1e3c4D5f")

// fakeEthClient serves logs from memory.
type fakeEthClient struct {
	mu        sync.Mutex
	latest    uint64
	safe      uint64
	finalized uint64
	logs      []types.Log
	// maxLogs makes GetLogs answer "too many results" above this count
	maxLogs  int
	logsErr  error
	queries  [][2]uint64
	closed   bool
}

func (f *fakeEthClient) Close() { f.closed = true }

func (f *fakeEthClient) GetLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	f.queries = append(f.queries, [2]uint64{from, to})

	if f.logsErr != nil {
		return nil, f.logsErr
	}

	var out []types.Log
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}

	if f.maxLogs > 0 && len(out) > f.maxLogs {
		return nil, &dataError{
			data: "Query returned more than 10000 results.",
			msg:  "query returned more than 10000 results",
		}
	}

	return out, nil
}

func (f *fakeEthClient) HeaderByTag(_ context.Context, tag gethrpc.BlockNumber) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.latest
	switch tag {
	case gethrpc.SafeBlockNumber:
		n = f.safe
	case gethrpc.FinalizedBlockNumber:
		n = f.finalized
	}
	return &types.Header{Number: new(big.Int).SetUint64(n)}, nil
}

func (f *fakeEthClient) setLatest(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = n
}

func newTestChainClient(t *testing.T, eth *fakeEthClient, finality itypes.BlockFinality, confirmations uint64) *ChainClient {
	t.Helper()

	client, err := NewChainClient(eth, ChainClientConfig{
		Contract:      testContract,
		Finality:      finality,
		Confirmations: confirmations,
		Resolution:    1 << 20,
		PollInterval:  5 * time.Millisecond,
		MaxRange:      10,
	}, logger.NewNopLogger())
	require.NoError(t, err)

	return client
}

func mustEncode(t *testing.T, ev canvas.PlacedEvent) types.Log {
	t.Helper()

	decoder, err := NewDecoder(1 << 20)
	require.NoError(t, err)

	l := encodePlaced(t, decoder, ev)
	l.Address = testContract

	return l
}

func TestChainClient_CurrentHeight(t *testing.T) {
	eth := &fakeEthClient{latest: 100, safe: 90, finalized: 80}

	tests := []struct {
		name          string
		finality      itypes.BlockFinality
		confirmations uint64
		want          uint64
	}{
		{name: "latest", finality: itypes.FinalityLatest, want: 100},
		{name: "latest with confirmations", finality: itypes.FinalityLatest, confirmations: 5, want: 95},
		{name: "confirmations above head", finality: itypes.FinalityLatest, confirmations: 500, want: 0},
		{name: "safe ignores confirmations", finality: itypes.FinalitySafe, confirmations: 5, want: 90},
		{name: "finalized", finality: itypes.FinalityFinalized, want: 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestChainClient(t, eth, tt.finality, tt.confirmations)

			got, err := client.CurrentHeight(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestChainClient_GetEvents_SortsAndSkipsUndecodable(t *testing.T) {
	actor := ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")

	late := mustEncode(t, canvas.PlacedEvent{Actor: actor, X: 1, Y: 1, Color: 7, Timestamp: 9, BlockNumber: 12, TxIndex: 0, LogIndex: 3})
	early := mustEncode(t, canvas.PlacedEvent{Actor: actor, X: 2, Y: 2, Color: 8, Timestamp: 5, BlockNumber: 11, TxIndex: 2, LogIndex: 1})
	sameTx := mustEncode(t, canvas.PlacedEvent{Actor: actor, X: 3, Y: 3, Color: 9, Timestamp: 5, BlockNumber: 11, TxIndex: 2, LogIndex: 0})

	outOfCanvas := mustEncode(t, canvas.PlacedEvent{Actor: actor, X: 1 << 20, Y: 0, Color: 1, BlockNumber: 11})
	truncated := mustEncode(t, canvas.PlacedEvent{Actor: actor, X: 4, Y: 4, Color: 1, BlockNumber: 12, LogIndex: 9})
	truncated.Data = truncated.Data[:40]

	eth := &fakeEthClient{latest: 20, logs: []types.Log{late, outOfCanvas, early, truncated, sameTx}}
	client := newTestChainClient(t, eth, itypes.FinalityLatest, 0)

	events, err := client.GetEvents(context.Background(), 10, 20)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, uint32(3), events[0].X)
	require.Equal(t, uint32(2), events[1].X)
	require.Equal(t, uint32(1), events[2].X)
	require.Equal(t, actor, events[0].Actor)
	require.Equal(t, uint64(9), events[2].Timestamp)
}

func TestChainClient_GetEvents_SplitsOnTooManyResults(t *testing.T) {
	var logs []types.Log
	for block := uint64(1); block <= 8; block++ {
		logs = append(logs, mustEncode(t, canvas.PlacedEvent{X: uint32(block), Y: 0, Color: 1, BlockNumber: block}))
	}

	eth := &fakeEthClient{latest: 8, logs: logs, maxLogs: 2}
	client := newTestChainClient(t, eth, itypes.FinalityLatest, 0)

	events, err := client.GetEvents(context.Background(), 1, 8)
	require.NoError(t, err)
	require.Len(t, events, 8)
	for i, ev := range events {
		require.Equal(t, uint64(i+1), ev.BlockNumber)
	}
	require.Greater(t, len(eth.queries), 1)
}

func TestChainClient_GetEvents_SingleBlockTooManyResults(t *testing.T) {
	logs := []types.Log{
		mustEncode(t, canvas.PlacedEvent{X: 1, Color: 1, BlockNumber: 5}),
		mustEncode(t, canvas.PlacedEvent{X: 2, Color: 1, BlockNumber: 5, LogIndex: 1}),
	}

	eth := &fakeEthClient{latest: 8, logs: logs, maxLogs: 1}
	client := newTestChainClient(t, eth, itypes.FinalityLatest, 0)

	_, err := client.GetEvents(context.Background(), 5, 5)
	require.Error(t, err)
	require.Equal(t, ClassFatal, ClassOf(err))
}

func TestChainClient_GetEvents_PropagatesError(t *testing.T) {
	rateLimited := NewChainError(ClassRateLimited, "eth_getLogs", errors.New("429"))
	eth := &fakeEthClient{latest: 8, logsErr: rateLimited}
	client := newTestChainClient(t, eth, itypes.FinalityLatest, 0)

	_, err := client.GetEvents(context.Background(), 1, 8)
	require.ErrorIs(t, err, rateLimited)
	require.Equal(t, ClassRateLimited, ClassOf(err))

	_, err = client.GetEvents(context.Background(), 9, 8)
	require.Error(t, err)
}

func TestChainClient_SubscribeEvents(t *testing.T) {
	logs := []types.Log{
		mustEncode(t, canvas.PlacedEvent{X: 1, Color: 1, BlockNumber: 3}),
		mustEncode(t, canvas.PlacedEvent{X: 2, Color: 2, BlockNumber: 14}),
	}

	eth := &fakeEthClient{latest: 15, logs: logs}
	client := newTestChainClient(t, eth, itypes.FinalityLatest, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.SubscribeEvents(ctx, 1)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	first := <-sub.Batches()
	require.Equal(t, uint64(1), first.FromBlock)
	require.Equal(t, uint64(10), first.ToBlock)
	require.Len(t, first.Events, 1)

	second := <-sub.Batches()
	require.Equal(t, uint64(11), second.FromBlock)
	require.Equal(t, uint64(15), second.ToBlock)
	require.Len(t, second.Events, 1)

	eth.setLatest(16)

	third := <-sub.Batches()
	require.Equal(t, uint64(16), third.FromBlock)
	require.Equal(t, uint64(16), third.ToBlock)
	require.Empty(t, third.Events)
}

func TestChainClient_SubscribeEvents_ErrorEndsSubscription(t *testing.T) {
	eth := &fakeEthClient{latest: 5, logsErr: NewChainError(ClassTransientNetwork, "eth_getLogs", errors.New("eof"))}
	client := newTestChainClient(t, eth, itypes.FinalityLatest, 0)

	sub, err := client.SubscribeEvents(context.Background(), 1)
	require.NoError(t, err)

	select {
	case err := <-sub.Err():
		require.Equal(t, ClassTransientNetwork, ClassOf(err))
	case <-time.After(5 * time.Second):
		t.Fatal("expected subscription error")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
}

func TestChainClient_SubscribeEvents_CancelledContext(t *testing.T) {
	client := newTestChainClient(t, &fakeEthClient{}, itypes.FinalityLatest, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.SubscribeEvents(ctx, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewChainClient_InvalidFinality(t *testing.T) {
	_, err := NewChainClient(&fakeEthClient{}, ChainClientConfig{Finality: "soon"}, logger.NewNopLogger())
	require.Error(t, err)
}
