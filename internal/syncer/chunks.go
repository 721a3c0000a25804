package syncer

import "fmt"

// Chunk is an inclusive block range fetched as one unit during backfill.
type Chunk struct {
	From uint64
	To   uint64
}

func (c Chunk) String() string {
	return fmt.Sprintf("%d-%d", c.From, c.To)
}

// planChunks partitions (checkpoint, target] into chunks of at most size blocks.
func planChunks(checkpoint, target, size uint64) []Chunk {
	if checkpoint >= target || size == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, (target-checkpoint+size-1)/size)
	for from := checkpoint + 1; from <= target; {
		to := target
		if target-from >= size {
			to = from + size - 1
		}
		chunks = append(chunks, Chunk{From: from, To: to})

		if to == target {
			break
		}
		from = to + 1
	}

	return chunks
}

// batches groups chunks into consecutive batches of at most width chunks.
func batches(chunks []Chunk, width int) [][]Chunk {
	if width < 1 {
		width = 1
	}

	out := make([][]Chunk, 0, (len(chunks)+width-1)/width)
	for start := 0; start < len(chunks); start += width {
		end := min(start+width, len(chunks))
		out = append(out, chunks[start:end])
	}

	return out
}

// progressPercent returns how far cursor is between start and target.
func progressPercent(start, cursor, target uint64) float64 {
	if target <= start || cursor >= target {
		return 100
	}
	if cursor <= start {
		return 0
	}

	return float64(cursor-start) / float64(target-start) * 100 //nolint:mnd
}
