package notify

import (
	"fmt"
	"sync"

	"github.com/goran-ethernal/CanvasIndexor/internal/logger"
	"github.com/goran-ethernal/CanvasIndexor/pkg/canvas"
)

// Observer receives live pixel updates.
type Observer interface {
	// Name identifies the observer in logs and metrics.
	Name() string

	// OnPixelUpdate is called synchronously from the ingestion path.
	OnPixelUpdate(update canvas.PixelUpdate) error
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc struct {
	ObserverName string
	Fn           func(update canvas.PixelUpdate) error
}

func (f ObserverFunc) Name() string {
	return f.ObserverName
}

func (f ObserverFunc) OnPixelUpdate(update canvas.PixelUpdate) error {
	return f.Fn(update)
}

type registration struct {
	id       uint64
	observer Observer
}

// Hub fans live updates out to registered observers.
// A failing observer never affects the others or the caller.
type Hub struct {
	mu        sync.RWMutex
	observers []registration
	nextID    uint64
	log       *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{log: log}
}

// Register adds an observer and returns its unregister function.
// The returned function is safe to call more than once.
func (h *Hub) Register(o Observer) (unregister func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.observers = append(h.observers, registration{id: id, observer: o})
	count := len(h.observers)
	h.mu.Unlock()

	ObserversSet(count)
	h.log.Debugw("observer registered", "observer", o.Name(), "observers", count)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	for i, reg := range h.observers {
		if reg.id == id {
			// copy so in-flight publishes keep their own slice
			observers := make([]registration, 0, len(h.observers)-1)
			observers = append(observers, h.observers[:i]...)
			h.observers = append(observers, h.observers[i+1:]...)
			break
		}
	}
	count := len(h.observers)
	h.mu.Unlock()

	ObserversSet(count)
	h.log.Debugw("observer unregistered", "observers", count)
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.observers)
}

// Publish delivers the update to every observer registered at call time.
func (h *Hub) Publish(update canvas.PixelUpdate) {
	h.mu.RLock()
	observers := h.observers
	h.mu.RUnlock()

	for _, reg := range observers {
		if err := h.deliver(reg.observer, update); err != nil {
			ObserverErrorInc(reg.observer.Name())
			h.log.Warnw("observer failed",
				"observer", reg.observer.Name(),
				"x", update.Pixel.X,
				"y", update.Pixel.Y,
				"error", err,
			)
		}
	}

	UpdatesPublishedInc()
}

// deliver calls the observer inside its own error boundary.
func (h *Hub) deliver(o Observer, update canvas.PixelUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()

	return o.OnPixelUpdate(update)
}
