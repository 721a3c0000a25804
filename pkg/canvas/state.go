package canvas

// Phase is the lifecycle state of the sync engine.
type Phase string

const (
	PhaseLoading     Phase = "loading"
	PhaseBackfilling Phase = "backfilling"
	PhaseWatching    Phase = "watching"
	PhaseStopped     Phase = "stopped"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// order returns the position of the phase in the lifecycle.
func (p Phase) order() int {
	switch p {
	case PhaseLoading:
		return 0
	case PhaseBackfilling:
		return 1
	case PhaseWatching:
		return 2 //nolint:mnd
	case PhaseStopped:
		return 3 //nolint:mnd
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from p to next goes forward.
// Any phase may move to stopped.
func (p Phase) CanTransitionTo(next Phase) bool {
	if next == PhaseStopped {
		return p != PhaseStopped
	}
	return next.order() > p.order() && p.order() >= 0
}

// Progress describes how far the engine has synced.
type Progress struct {
	Phase              Phase   `json:"phase"`
	LastProcessedBlock uint64  `json:"last_processed_block"`
	TargetBlock        uint64  `json:"target_block"`
	Percent            float64 `json:"progress_percent"`
}

// PixelUpdate is published to observers for every live event applied.
type PixelUpdate struct {
	Pixel       PixelRecord `json:"pixel"`
	Erased      bool        `json:"erased"`
	BlockNumber uint64      `json:"block_number"`
}
