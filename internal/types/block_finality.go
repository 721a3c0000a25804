package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// BlockFinality selects which chain head the indexer treats as its target.
type BlockFinality string

const (
	// FinalityFinalized follows the finalized head. Events behind it cannot be reorged.
	FinalityFinalized BlockFinality = "finalized"
	// FinalitySafe follows the safe head.
	FinalitySafe BlockFinality = "safe"
	// FinalityLatest follows the chain tip minus a confirmation lag.
	FinalityLatest BlockFinality = "latest"
)

// Finalities lists every supported mode, strongest first.
var Finalities = []BlockFinality{FinalityFinalized, FinalitySafe, FinalityLatest}

func (f BlockFinality) String() string {
	return string(f)
}

// IsValid reports whether f is one of Finalities.
func (f BlockFinality) IsValid() bool {
	for _, known := range Finalities {
		if f == known {
			return true
		}
	}
	return false
}

// UsesConfirmations reports whether a confirmation lag is subtracted from the head.
// Safe and finalized heads already lag the chain tip.
func (f BlockFinality) UsesConfirmations() bool {
	return f == FinalityLatest
}

// Target returns the highest block the indexer may process given the head
// reported for this mode. It never underflows.
func (f BlockFinality) Target(head, confirmations uint64) uint64 {
	if !f.UsesConfirmations() {
		return head
	}
	if head < confirmations {
		return 0
	}
	return head - confirmations
}

// BlockTag returns the JSON-RPC block tag whose header is the head for this mode.
func (f BlockFinality) BlockTag() rpc.BlockNumber {
	switch f {
	case FinalityFinalized:
		return rpc.FinalizedBlockNumber
	case FinalitySafe:
		return rpc.SafeBlockNumber
	default:
		return rpc.LatestBlockNumber
	}
}

// ParseBlockFinality parses a finality mode, case-insensitively.
// An empty string selects latest.
func ParseBlockFinality(s string) (BlockFinality, error) {
	if s == "" {
		return FinalityLatest, nil
	}

	f := BlockFinality(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("invalid block finality %q (must be one of: %s)", s, joinFinalities())
	}
	return f, nil
}

func joinFinalities() string {
	names := make([]string, len(Finalities))
	for i, f := range Finalities {
		names[i] = f.String()
	}
	return strings.Join(names, ", ")
}
