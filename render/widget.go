package render

import (
	"sync"

	"github.com/Swind/go-async-render/core"
)

// PlaneWidget is the interactive handle over the clip plane. Its
// representation is a plane of its own; a drag changes the representation and
// fires Interaction, and it is up to the owner to copy the result into the
// clip plane.
//
// Drag may be called from any goroutine; the drags are queued and applied by
// ProcessEvents on the render thread, the way a window system queues input.
type PlaneWidget struct {
	rep         Vec3
	origin      Vec3
	placeFactor float64
	bounds      Bounds
	interaction *core.Event[Vec3]

	mu      sync.Mutex
	pending []Vec3
	ready   chan struct{}
}

// NewPlaneWidget creates a widget placed over bounds scaled by placeFactor.
func NewPlaneWidget(bounds Bounds, placeFactor float64) *PlaneWidget {
	if placeFactor <= 0 {
		placeFactor = 1
	}
	return &PlaneWidget{
		placeFactor: placeFactor,
		bounds:      bounds.Scaled(placeFactor),
		origin:      bounds.Center(),
		interaction: core.NewEvent[Vec3]("widget.interaction"),
		ready:       make(chan struct{}, 1),
	}
}

// SetPlane copies plane into the representation. Does not fire Interaction.
func (w *PlaneWidget) SetPlane(p *Plane) {
	w.origin = p.Origin()
	w.rep = p.Normal()
}

// GetPlane copies the representation into p, firing p's Modified if it changed.
func (w *PlaneWidget) GetPlane(p *Plane) {
	p.SetOrigin(w.origin)
	p.SetNormal(w.rep)
}

// Normal returns the normal of the representation.
func (w *PlaneWidget) Normal() Vec3 {
	return w.rep
}

// Bounds returns the placement box of the widget.
func (w *PlaneWidget) Bounds() Bounds {
	return w.bounds
}

// Drag queues an interaction that turns the widget to normal.
func (w *PlaneWidget) Drag(normal Vec3) {
	w.mu.Lock()
	w.pending = append(w.pending, normal)
	w.mu.Unlock()

	select {
	case w.ready <- struct{}{}:
	default:
	}
}

// Ready receives after Drag queued input.
func (w *PlaneWidget) Ready() <-chan struct{} {
	return w.ready
}

// ProcessEvents applies the queued drags in order, firing Interaction for each
// one that changed the representation. Render thread only.
func (w *PlaneWidget) ProcessEvents() int {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.mu.Unlock()

	n := 0
	for _, normal := range events {
		if normal.IsZero() || normal == w.rep {
			continue
		}
		w.rep = normal
		n++
		_ = w.interaction.Fire(normal)
	}
	return n
}

// Interaction fires on the render thread after each applied drag.
func (w *PlaneWidget) Interaction() core.Observable[Vec3] {
	return w.interaction
}

// Close drops queued input and detaches Interaction observers.
func (w *PlaneWidget) Close() {
	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
	w.interaction.Close()
}
