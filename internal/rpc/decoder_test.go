package rpc

import (
	"math"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/stretchr/testify/require"
)

func rawPlacedLog(t *testing.T, d *Decoder, x, y *big.Int, color uint32, ts *big.Int) types.Log {
	t.Helper()

	data, err := d.placed.Inputs.NonIndexed().Pack(x, y, color, ts)
	require.NoError(t, err)

	return types.Log{
		Topics:      []ethcommon.Hash{d.Topic(), ethcommon.BytesToHash(testContract.Bytes())},
		Data:        data,
		BlockNumber: 42,
		TxIndex:     1,
		Index:       2,
	}
}

// encodePlaced packs an event into the log the canvas contract would emit.
func encodePlaced(t *testing.T, d *Decoder, ev canvas.PlacedEvent) types.Log {
	t.Helper()

	data, err := d.placed.Inputs.NonIndexed().Pack(
		new(big.Int).SetUint64(uint64(ev.X)),
		new(big.Int).SetUint64(uint64(ev.Y)),
		ev.Color,
		new(big.Int).SetUint64(ev.Timestamp),
	)
	require.NoError(t, err)

	return types.Log{
		Topics:      []ethcommon.Hash{d.Topic(), ethcommon.BytesToHash(ev.Actor.Bytes())},
		Data:        data,
		BlockNumber: ev.BlockNumber,
		TxIndex:     ev.TxIndex,
		Index:       ev.LogIndex,
	}
}

func TestDecoder_RoundTrip(t *testing.T) {
	d, err := NewDecoder(1 << 20)
	require.NoError(t, err)

	want := canvas.PlacedEvent{
		Actor:       ethcommon.HexToAddress("0x00000000000000000000000000000000000000bb"),
		X:           (1 << 20) - 1,
		Y:           0,
		Color:       0x010101,
		Timestamp:   math.MaxUint64,
		BlockNumber: 99,
		TxIndex:     3,
		LogIndex:    4,
	}

	l := encodePlaced(t, d, want)

	got, err := d.Decode(l)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecoder_EraseIsOrdinaryDecode(t *testing.T) {
	d, err := NewDecoder(16)
	require.NoError(t, err)

	l := rawPlacedLog(t, d, big.NewInt(1), big.NewInt(2), 0, big.NewInt(3))

	ev, err := d.Decode(l)
	require.NoError(t, err)
	require.True(t, ev.Record().IsErase())
}

func TestDecoder_RejectsOverflow(t *testing.T) {
	d, err := NewDecoder(1 << 20)
	require.NoError(t, err)

	tooWide := new(big.Int).Lsh(big.NewInt(1), 64)

	tests := []struct {
		name string
		log  types.Log
	}{
		{
			name: "x above uint32",
			log:  rawPlacedLog(t, d, big.NewInt(math.MaxUint32+1), big.NewInt(0), 1, big.NewInt(0)),
		},
		{
			name: "y at resolution",
			log:  rawPlacedLog(t, d, big.NewInt(0), big.NewInt(1<<20), 1, big.NewInt(0)),
		},
		{
			name: "timestamp above uint64",
			log:  rawPlacedLog(t, d, big.NewInt(0), big.NewInt(0), 1, tooWide),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Decode(tt.log)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecoder_RejectsForeignLogs(t *testing.T) {
	d, err := NewDecoder(1 << 20)
	require.NoError(t, err)

	valid := rawPlacedLog(t, d, big.NewInt(1), big.NewInt(1), 1, big.NewInt(1))

	wrongTopic := valid
	wrongTopic.Topics = []ethcommon.Hash{ethcommon.HexToHash("0x01"), valid.Topics[1]}

	missingActor := valid
	missingActor.Topics = valid.Topics[:1]

	emptyData := valid
	emptyData.Data = nil

	for name, l := range map[string]types.Log{
		"wrong topic":   wrongTopic,
		"missing actor": missingActor,
		"empty data":    emptyData,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode(l)
			require.ErrorIs(t, err, ErrDecode)
		})
	}
}
