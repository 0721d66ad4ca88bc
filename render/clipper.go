package render

import (
	"context"
	"fmt"

	"github.com/Swind/go-async-render/core"
)

const defaultAbortCheckInterval = 4096

// Clipper keeps the input points on the non-negative side of a plane.
// Execute polls the abort signal every checkInterval points and stops early
// with core.ErrAborted when it is set.
type Clipper struct {
	input         *Mesh
	plane         *Plane
	abort         *core.AbortSignal
	checkInterval int

	// progress, when set, is called at every cancellation point with the
	// number of points processed so far.
	progress func(done, total int)
}

// NewClipper creates a clipper. A non-positive checkInterval uses 4096.
func NewClipper(input *Mesh, plane *Plane, abort *core.AbortSignal, checkInterval int) *Clipper {
	if checkInterval <= 0 {
		checkInterval = defaultAbortCheckInterval
	}
	return &Clipper{
		input:         input,
		plane:         plane,
		abort:         abort,
		checkInterval: checkInterval,
	}
}

// SetProgress installs a progress callback (render thread only).
func (c *Clipper) SetProgress(fn func(done, total int)) {
	c.progress = fn
}

// Execute returns the clipped points.
func (c *Clipper) Execute(ctx context.Context) ([]Vec3, error) {
	total := len(c.input.Points)
	out := make([]Vec3, 0, total/2)

	for i, pt := range c.input.Points {
		if i%c.checkInterval == 0 {
			if c.progress != nil {
				c.progress(i, total)
			}
			if c.abort.Aborted() {
				return nil, fmt.Errorf("clip aborted after %d of %d points: %w", i, total, core.ErrAborted)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if c.plane.Evaluate(pt) >= 0 {
			out = append(out, pt)
		}
	}
	return out, nil
}
