package canvas

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EraseColor is the color value that removes a pixel. It is never stored.
const EraseColor uint32 = 0

// Coord identifies a single cell of the canvas.
type Coord struct {
	X uint32
	Y uint32
}

// String returns the "x,y" key used in the snapshot file.
func (c Coord) String() string {
	return strconv.FormatUint(uint64(c.X), 10) + "," + strconv.FormatUint(uint64(c.Y), 10)
}

// Less orders coordinates row-major: by Y, then X.
func (c Coord) Less(other Coord) bool {
	if c.Y != other.Y {
		return c.Y < other.Y
	}
	return c.X < other.X
}

// ParseCoord parses an "x,y" key.
func ParseCoord(key string) (Coord, error) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return Coord{}, fmt.Errorf("malformed coordinate key %q", key)
	}

	x, err := strconv.ParseUint(xs, 10, 32)
	if err != nil {
		return Coord{}, fmt.Errorf("malformed x in coordinate key %q: %w", key, err)
	}

	y, err := strconv.ParseUint(ys, 10, 32)
	if err != nil {
		return Coord{}, fmt.Errorf("malformed y in coordinate key %q: %w", key, err)
	}

	return Coord{X: uint32(x), Y: uint32(y)}, nil
}

// PixelRecord is the last write observed for a cell.
type PixelRecord struct {
	X         uint32         `json:"x"`
	Y         uint32         `json:"y"`
	Color     uint32         `json:"color"`
	PlacedBy  common.Address `json:"placedBy"`
	Timestamp uint64         `json:"timestamp"`
}

// Coord returns the record's coordinate.
func (p PixelRecord) Coord() Coord {
	return Coord{X: p.X, Y: p.Y}
}

// IsErase reports whether the record removes the pixel.
func (p PixelRecord) IsErase() bool {
	return p.Color == EraseColor
}

// Snapshot is the materialized canvas together with the block it reflects.
type Snapshot struct {
	Pixels             map[Coord]PixelRecord
	LastProcessedBlock uint64
	TotalPixels        int
}

// NewSnapshot returns an empty snapshot positioned at the given block.
func NewSnapshot(block uint64) *Snapshot {
	return &Snapshot{
		Pixels:             make(map[Coord]PixelRecord),
		LastProcessedBlock: block,
	}
}

// PlacedEvent is a decoded Placed log.
type PlacedEvent struct {
	Actor       common.Address
	X           uint32
	Y           uint32
	Color       uint32
	Timestamp   uint64
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
}

// Record converts the event into the store representation.
func (e PlacedEvent) Record() PixelRecord {
	return PixelRecord{
		X:         e.X,
		Y:         e.Y,
		Color:     e.Color,
		PlacedBy:  e.Actor,
		Timestamp: e.Timestamp,
	}
}

// EventBatch is a contiguous block range delivered by a subscription.
// ToBlock is the highest block covered, even when Events is empty.
type EventBatch struct {
	FromBlock uint64
	ToBlock   uint64
	Events    []PlacedEvent
}
