package store

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/google/btree"
)

const (
	btreeDegree = 32

	// ExportRecordSize is the size of one pixel in the binary export.
	ExportRecordSize = 12
)

// Change describes the effect of an upsert.
type Change int

const (
	Noop Change = iota
	Inserted
	Updated
	Removed
)

// String returns the metric label of the change.
func (c Change) String() string {
	switch c {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "noop"
	}
}

// Store is the in-memory canvas. Only non-erased pixels are stored.
// Point lookups go through the map, ordered scans through the btree.
type Store struct {
	mu     sync.RWMutex
	pixels map[canvas.Coord]canvas.PixelRecord
	index  *btree.BTreeG[canvas.Coord]
	count  int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		pixels: make(map[canvas.Coord]canvas.PixelRecord),
		index:  btree.NewG(btreeDegree, lessCoord),
	}
}

func lessCoord(a, b canvas.Coord) bool {
	return a.Less(b)
}

// Upsert applies a record: color 0 removes the pixel, anything else overwrites it.
func (s *Store) Upsert(rec canvas.PixelRecord) Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(rec)
}

// UpsertAll applies records in order under a single lock.
func (s *Store) UpsertAll(recs []canvas.PixelRecord) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make([]Change, len(recs))
	for i, rec := range recs {
		changes[i] = s.upsertLocked(rec)
	}
	return changes
}

func (s *Store) upsertLocked(rec canvas.PixelRecord) Change {
	coord := rec.Coord()
	existing, present := s.pixels[coord]

	if rec.IsErase() {
		if !present {
			return Noop
		}
		delete(s.pixels, coord)
		s.index.Delete(coord)
		s.count--
		return Removed
	}

	s.pixels[coord] = rec
	if present {
		if existing == rec {
			return Noop
		}
		return Updated
	}

	s.index.ReplaceOrInsert(coord)
	s.count++
	return Inserted
}

// Get returns the pixel at (x, y).
func (s *Store) Get(x, y uint32) (canvas.PixelRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pixels[canvas.Coord{X: x, Y: y}]
	return rec, ok
}

// Count returns the number of stored pixels.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.count
}

// GetRegion returns the stored pixels with x0 <= x < x0+w and y0 <= y < y0+h in row-major order.
func (s *Store) GetRegion(x0, y0, w, h uint32) []canvas.PixelRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out, _ := s.regionLocked(x0, y0, w, h)
	return out
}

// regionLocked also reports how many index entries it visited. Each row is a
// bounded range scan, so entries beside the region are never visited. When
// the region has more rows than the store has pixels one walk over the row
// band is cheaper and is used instead.
func (s *Store) regionLocked(x0, y0, w, h uint32) ([]canvas.PixelRecord, int) {
	if w == 0 || h == 0 {
		return nil, 0
	}

	// 64-bit bounds so x0+w never wraps
	xEnd := uint64(x0) + uint64(w)
	yEnd := min(uint64(y0)+uint64(h), math.MaxUint32+1)

	var (
		out     []canvas.PixelRecord
		visited int
	)
	collect := func(c canvas.Coord) bool {
		visited++
		if c.X >= x0 && uint64(c.X) < xEnd {
			out = append(out, s.pixels[c])
		}
		return true
	}

	if uint64(h) > uint64(s.count) {
		s.index.AscendGreaterOrEqual(canvas.Coord{X: x0, Y: y0}, func(c canvas.Coord) bool {
			if uint64(c.Y) >= yEnd {
				return false
			}
			return collect(c)
		})
		return out, visited
	}

	for y := uint64(y0); y < yEnd; y++ {
		from := canvas.Coord{X: x0, Y: uint32(y)}
		if xEnd <= math.MaxUint32 {
			s.index.AscendRange(from, canvas.Coord{X: uint32(xEnd), Y: uint32(y)}, collect)
			continue
		}
		// the row runs to the right edge of the coordinate space
		s.index.AscendGreaterOrEqual(from, func(c canvas.Coord) bool {
			if uint64(c.Y) != y {
				return false
			}
			return collect(c)
		})
	}

	return out, visited
}

// Page returns up to limit pixels in row-major order starting at offset.
func (s *Store) Page(offset, limit int) []canvas.PixelRecord {
	if limit <= 0 || offset < 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset >= s.count {
		return nil
	}

	out := make([]canvas.PixelRecord, 0, min(limit, s.count-offset))
	skipped := 0
	s.index.Ascend(func(c canvas.Coord) bool {
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, s.pixels[c])
		return len(out) < limit
	})

	return out
}

// ExportBinary encodes every pixel as little-endian (x uint32, y uint32, color uint32) in row-major order.
func (s *Store) ExportBinary() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := make([]byte, 0, s.count*ExportRecordSize)
	s.index.Ascend(func(c canvas.Coord) bool {
		buf = binary.LittleEndian.AppendUint32(buf, c.X)
		buf = binary.LittleEndian.AppendUint32(buf, c.Y)
		buf = binary.LittleEndian.AppendUint32(buf, s.pixels[c].Color)
		return true
	})

	return buf
}

// Snapshot returns a copy of all stored pixels.
func (s *Store) Snapshot() map[canvas.Coord]canvas.PixelRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[canvas.Coord]canvas.PixelRecord, len(s.pixels))
	for c, rec := range s.pixels {
		out[c] = rec
	}
	return out
}

// Restore replaces the content of the store. Erase records are dropped.
func (s *Store) Restore(pixels map[canvas.Coord]canvas.PixelRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pixels = make(map[canvas.Coord]canvas.PixelRecord, len(pixels))
	s.index.Clear(false)

	for c, rec := range pixels {
		if rec.IsErase() {
			continue
		}
		rec.X, rec.Y = c.X, c.Y
		s.pixels[c] = rec
		s.index.ReplaceOrInsert(c)
	}

	s.count = len(s.pixels)
}
