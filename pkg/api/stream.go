package api

import (
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var errStreamBufferFull = errors.New("stream client buffer full")

// streamObserver hands updates to a websocket client without blocking ingestion.
type streamObserver struct {
	remote  string
	updates chan canvas.PixelUpdate
}

func (o *streamObserver) Name() string {
	return "stream:" + o.remote
}

func (o *streamObserver) OnPixelUpdate(update canvas.PixelUpdate) error {
	select {
	case o.updates <- update:
		return nil
	default:
		return errStreamBufferFull
	}
}

// originChecker accepts the configured CORS origins. Without CORS the handler
// keeps a nil checker, which is the websocket same-origin rule.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// Stream upgrades the request to a websocket and pushes every live pixel update
// as a JSON message. Slow clients miss updates rather than stall the engine.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.updates == nil {
		respondError(w, http.StatusServiceUnavailable, "live updates are not available")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		h.log.Debugw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	obs := &streamObserver{
		remote:  r.RemoteAddr,
		updates: make(chan canvas.PixelUpdate, h.streamBuffer),
	}
	unregister := h.updates.Register(obs)
	defer unregister()

	h.log.Debugw("stream client connected", "remote", r.RemoteAddr)
	defer h.log.Debugw("stream client disconnected", "remote", r.RemoteAddr)

	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	// clients never send data, reading only surfaces close frames and errors
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case <-h.shutdown:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(streamWriteWait))
			return

		case update := <-obs.updates:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(update); err != nil {
				h.log.Debugw("stream write failed", "remote", r.RemoteAddr, "error", err)
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}
