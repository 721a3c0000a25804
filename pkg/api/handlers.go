package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/internal/ledger"
	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/internal/notify"
	"github.com/goran-ethernal/CanvasIndexor/internal/query"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

// CanvasReader is the read-only canvas view the API serves.
type CanvasReader interface {
	GetAll(offset, limit int) (query.Page, error)
	GetOne(x, y uint32) (canvas.PixelRecord, error)
	GetRegion(x0, y0, w, h uint32) ([]canvas.PixelRecord, error)
	GetStats(ctx context.Context) (query.Stats, error)
	SkippedRanges(ctx context.Context) ([]ledger.SkippedRange, error)
	ExportBinary() []byte
	MaxPageSize() int
}

// UpdateSource lets stream clients subscribe to live pixel updates.
type UpdateSource interface {
	Register(o notify.Observer) (unregister func())
}

var (
	_ CanvasReader = (*query.Facade)(nil)
	_ UpdateSource = (*notify.Hub)(nil)
)

// Handler handles HTTP requests for the API.
type Handler struct {
	reader  CanvasReader
	updates UpdateSource
	log     *logger.Logger

	streamBuffer int
	checkOrigin  func(r *http.Request) bool

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewHandler creates a new API handler. updates may be nil, in which case
// the stream endpoint is unavailable.
func NewHandler(reader CanvasReader, updates UpdateSource, streamBuffer int, log *logger.Logger) *Handler {
	if streamBuffer <= 0 {
		streamBuffer = 1
	}

	return &Handler{
		reader:       reader,
		updates:      updates,
		log:          log,
		streamBuffer: streamBuffer,
		shutdown:     make(chan struct{}),
	}
}

// closeStreams ends every open stream connection.
func (h *Handler) closeStreams() {
	h.shutdownOnce.Do(func() { close(h.shutdown) })
}

// Health reports whether the engine is up and which phase it is in.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.GetStats(r.Context())
	if err != nil {
		h.log.Warnw("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "degraded",
			Timestamp: time.Now(),
		})
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:             "ok",
		Timestamp:          time.Now(),
		Phase:              stats.Phase,
		LastProcessedBlock: stats.LastProcessedBlock,
	})
}

// ListPixels returns a page of pixels in row-major order.
func (h *Handler) ListPixels(w http.ResponseWriter, r *http.Request) {
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := parseIntParam(r, "limit", h.reader.MaxPageSize())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > h.reader.MaxPageSize() {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid limit: must be between 1 and %d", h.reader.MaxPageSize()))
		return
	}

	page, err := h.reader.GetAll(offset, limit)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

// GetPixel returns a single pixel.
func (h *Handler) GetPixel(w http.ResponseWriter, r *http.Request) {
	x, err := parseCoordinate(r.PathValue("x"), "x")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	y, err := parseCoordinate(r.PathValue("y"), "y")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pixel, err := h.reader.GetOne(x, y)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, pixel)
}

// GetRegion returns the pixels inside a rectangle.
func (h *Handler) GetRegion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		values [4]uint32
		names  = [4]string{"x", "y", "w", "h"}
	)
	for i, name := range names {
		v, err := parseCoordinate(q.Get(name), name)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		values[i] = v
	}

	pixels, err := h.reader.GetRegion(values[0], values[1], values[2], values[3])
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, RegionResponse{
		X:      values[0],
		Y:      values[1],
		Width:  values[2],
		Height: values[3],
		Pixels: pixels,
	})
}

// GetStats returns canvas and sync statistics.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reader.GetStats(r.Context())
	if err != nil {
		h.log.Errorw("failed to get stats", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// ListGaps returns the block ranges skipped during backfill.
func (h *Handler) ListGaps(w http.ResponseWriter, r *http.Request) {
	ranges, err := h.reader.SkippedRanges(r.Context())
	if err != nil {
		h.log.Errorw("failed to list skipped ranges", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list skipped ranges")
		return
	}

	respondJSON(w, http.StatusOK, GapsResponse{Ranges: ranges, Total: len(ranges)})
}

// Export streams the packed binary canvas.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data := h.reader.ExportBinary()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="canvas.bin"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		h.log.Debugw("export write failed", "error", err)
	}
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, query.ErrRegionTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, query.ErrOutOfBounds), errors.Is(err, query.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Errorw("query failed", "error", err)
		respondError(w, http.StatusInternalServerError, "query failed")
	}
}

func parseIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: must be non-negative", name)
	}

	return v, nil
}

func parseCoordinate(raw, name string) (uint32, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return uint32(v), nil
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// encode first so a failure can still change the status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	if _, err := w.Write(encoded); err != nil {
		// headers are already sent
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
