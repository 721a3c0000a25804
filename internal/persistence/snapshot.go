package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/facebookgo/atomicfile"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

// ErrPersistenceIO marks a failed snapshot write.
var ErrPersistenceIO = errors.New("persistence io error")

// ErrCorruptSnapshot marks a snapshot file that cannot be trusted.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

const snapshotFileMode = 0o644

// snapshotFile is the on-disk layout. The block number is a decimal string
// so that readers without 64-bit integers keep full precision.
type snapshotFile struct {
	Pixels             map[string]canvas.PixelRecord `json:"pixels"`
	LastProcessedBlock string                        `json:"lastProcessedBlock"`
	TotalPixels        int                           `json:"totalPixels"`
}

// Encode serializes a snapshot.
func Encode(snap *canvas.Snapshot) ([]byte, error) {
	file := snapshotFile{
		Pixels:             make(map[string]canvas.PixelRecord, len(snap.Pixels)),
		LastProcessedBlock: strconv.FormatUint(snap.LastProcessedBlock, 10),
		TotalPixels:        len(snap.Pixels),
	}

	for coord, rec := range snap.Pixels {
		file.Pixels[coord.String()] = rec
	}

	return json.Marshal(file)
}

// Decode parses and validates a snapshot. Every validation failure wraps ErrCorruptSnapshot.
func Decode(data []byte) (*canvas.Snapshot, error) {
	var file snapshotFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}

	block, err := strconv.ParseUint(file.LastProcessedBlock, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: lastProcessedBlock: %w", ErrCorruptSnapshot, err)
	}

	if file.TotalPixels != len(file.Pixels) {
		return nil, fmt.Errorf("%w: totalPixels %d does not match %d pixels",
			ErrCorruptSnapshot, file.TotalPixels, len(file.Pixels))
	}

	snap := canvas.NewSnapshot(block)
	for key, rec := range file.Pixels {
		coord, err := canvas.ParseCoord(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		}
		if coord != rec.Coord() {
			return nil, fmt.Errorf("%w: key %q holds pixel (%d,%d)", ErrCorruptSnapshot, key, rec.X, rec.Y)
		}
		if rec.IsErase() {
			return nil, fmt.Errorf("%w: erased pixel stored at %q", ErrCorruptSnapshot, key)
		}
		snap.Pixels[coord] = rec
	}
	snap.TotalPixels = len(snap.Pixels)

	return snap, nil
}

// Save writes the snapshot atomically: readers see the old file or the new one, never a torn write.
// It returns the number of bytes written.
func Save(path string, snap *canvas.Snapshot) (int, error) {
	data, err := Encode(snap)
	if err != nil {
		return 0, fmt.Errorf("%w: encode: %w", ErrPersistenceIO, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:mnd
		return 0, fmt.Errorf("%w: %w", ErrPersistenceIO, err)
	}

	f, err := atomicfile.New(path, snapshotFileMode)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrPersistenceIO, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Abort()
		return 0, fmt.Errorf("%w: write: %w", ErrPersistenceIO, err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Abort()
		return 0, fmt.Errorf("%w: sync: %w", ErrPersistenceIO, err)
	}

	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("%w: rename: %w", ErrPersistenceIO, err)
	}

	return len(data), nil
}

// LoadResult tells how the snapshot was obtained.
type LoadResult int

const (
	// Loaded means the snapshot file was read successfully.
	Loaded LoadResult = iota
	// Missing means there was no snapshot file.
	Missing
	// Discarded means the snapshot file was unreadable or corrupt.
	Discarded
)

func (r LoadResult) String() string {
	switch r {
	case Missing:
		return "missing"
	case Discarded:
		return "discarded"
	default:
		return "loaded"
	}
}

// Load reads the snapshot at path. It never fails: a missing, unreadable or corrupt
// file yields an empty snapshot positioned at genesis, and the reason is returned.
func Load(path string, genesis uint64) (*canvas.Snapshot, LoadResult, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return canvas.NewSnapshot(genesis), Missing, nil
	}
	if err != nil {
		return canvas.NewSnapshot(genesis), Discarded, err
	}

	snap, err := Decode(data)
	if err != nil {
		return canvas.NewSnapshot(genesis), Discarded, err
	}

	return snap, Loaded, nil
}
