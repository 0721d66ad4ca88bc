package render

import "github.com/Swind/go-async-render/core"

// Plane is an implicit plane n·(x-o) = 0. Changing its normal fires Modified
// with the new normal, synchronously on the changing thread.
//
// Plane is owned by the render thread.
type Plane struct {
	origin   Vec3
	normal   Vec3
	modified *core.Event[Vec3]
}

// NewPlane creates a plane through origin with the given normal.
func NewPlane(origin, normal Vec3) *Plane {
	return &Plane{
		origin:   origin,
		normal:   normal,
		modified: core.NewEvent[Vec3]("plane.modified"),
	}
}

func (p *Plane) Origin() Vec3 { return p.origin }
func (p *Plane) Normal() Vec3 { return p.normal }

// SetOrigin moves the plane and fires Modified if it changed.
func (p *Plane) SetOrigin(o Vec3) bool {
	if o == p.origin {
		return false
	}
	p.origin = o
	_ = p.modified.Fire(p.normal)
	return true
}

// SetNormal reorients the plane and fires Modified if it changed.
// A zero normal is ignored.
func (p *Plane) SetNormal(n Vec3) bool {
	if n.IsZero() || n == p.normal {
		return false
	}
	p.normal = n
	_ = p.modified.Fire(n)
	return true
}

// Evaluate returns the signed distance-like value n·(x-o).
func (p *Plane) Evaluate(x Vec3) float64 {
	return p.normal.Dot(x.Sub(p.origin))
}

// Modified is the observable fired after each change.
func (p *Plane) Modified() core.Observable[Vec3] {
	return p.modified
}

// Close detaches every observer, disposing any bridges subscribed to Modified.
func (p *Plane) Close() {
	p.modified.Close()
}
