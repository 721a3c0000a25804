package api

import (
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/ledger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status             string       `json:"status"`
	Timestamp          time.Time    `json:"timestamp"`
	Phase              canvas.Phase `json:"phase"`
	LastProcessedBlock uint64       `json:"last_processed_block"`
}

// RegionResponse is the result of a region query.
type RegionResponse struct {
	X      uint32               `json:"x"`
	Y      uint32               `json:"y"`
	Width  uint32               `json:"width"`
	Height uint32               `json:"height"`
	Pixels []canvas.PixelRecord `json:"pixels"`
}

// GapsResponse lists the block ranges skipped during backfill.
type GapsResponse struct {
	Ranges []ledger.SkippedRange `json:"ranges"`
	Total  int                   `json:"total"`
}
