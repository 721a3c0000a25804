package rpc

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/CanvasIndexor/internal/common"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

const eventPlaced = "Placed"

//go:embed abi/canvas.json
var canvasABIJSON string

// Decoder turns raw Placed logs into canvas events.
type Decoder struct {
	placed     ethabi.Event
	resolution uint32
}

// NewDecoder creates a decoder rejecting coordinates at or above resolution.
func NewDecoder(resolution uint32) (*Decoder, error) {
	parsed, err := ethabi.JSON(strings.NewReader(canvasABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse canvas ABI: %w", err)
	}

	placed, ok := parsed.Events[eventPlaced]
	if !ok {
		return nil, fmt.Errorf("canvas ABI has no %s event", eventPlaced)
	}

	return &Decoder{placed: placed, resolution: resolution}, nil
}

// Topic returns the Placed event signature hash.
func (d *Decoder) Topic() ethcommon.Hash {
	return d.placed.ID
}

// Decode decodes a single log. Every failure wraps ErrDecode.
func (d *Decoder) Decode(log types.Log) (canvas.PlacedEvent, error) {
	if len(log.Topics) != 2 || log.Topics[0] != d.placed.ID { //nolint:mnd
		return canvas.PlacedEvent{}, fmt.Errorf("%w: unexpected topics in log %d of block %d",
			ErrDecode, log.Index, log.BlockNumber)
	}

	values, err := d.placed.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return canvas.PlacedEvent{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	const nonIndexedInputs = 4
	if len(values) != nonIndexedInputs {
		return canvas.PlacedEvent{}, fmt.Errorf("%w: expected %d values, got %d", ErrDecode, nonIndexedInputs, len(values))
	}

	x, errX := coordinate(values[0], d.resolution)
	y, errY := coordinate(values[1], d.resolution)
	if errX != nil || errY != nil {
		return canvas.PlacedEvent{}, fmt.Errorf("%w: coordinate out of range (x: %v, y: %v)", ErrDecode, errX, errY)
	}

	color, ok := values[2].(uint32)
	if !ok {
		return canvas.PlacedEvent{}, fmt.Errorf("%w: unexpected color type %T", ErrDecode, values[2])
	}

	rawTimestamp, ok := values[3].(*big.Int)
	if !ok {
		return canvas.PlacedEvent{}, fmt.Errorf("%w: unexpected timestamp type %T", ErrDecode, values[3])
	}
	timestamp, err := common.BigToUint64(rawTimestamp)
	if err != nil {
		return canvas.PlacedEvent{}, fmt.Errorf("%w: timestamp: %w", ErrDecode, err)
	}

	return canvas.PlacedEvent{
		Actor:       ethcommon.BytesToAddress(log.Topics[1].Bytes()),
		X:           x,
		Y:           y,
		Color:       color,
		Timestamp:   timestamp,
		BlockNumber: log.BlockNumber,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
	}, nil
}

func coordinate(value any, resolution uint32) (uint32, error) {
	raw, ok := value.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T", value)
	}

	v, err := common.BigToUint32(raw)
	if err != nil {
		return 0, err
	}

	if v >= resolution {
		return 0, fmt.Errorf("%d exceeds canvas resolution %d", v, resolution)
	}

	return v, nil
}

