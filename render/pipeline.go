package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gg"

	"github.com/Swind/go-async-render/core"
)

// Pipeline is what the demo drives on the render thread. Every method except
// Drag must be called on the thread that owns the pipeline's surfaces.
type Pipeline interface {
	// Render produces one frame. It returns an error wrapping core.ErrAborted
	// when the abort signal stopped the clip pass.
	Render(ctx context.Context) error

	SetAbortFlag(aborted bool)
	ClipPlaneNormal() Vec3
	SetClipPlaneNormal(n Vec3)

	// SyncWidget reorients the widget to the clip plane.
	SyncWidget()
	// ApplyWidgetPlane copies the widget plane into the clip plane.
	ApplyWidgetPlane()

	// PlaneModified fires with the new normal whenever the clip plane changes.
	PlaneModified() core.Observable[Vec3]
	// Interaction fires after the widget was dragged.
	Interaction() core.Observable[Vec3]

	// Drag queues a widget drag; any goroutine.
	Drag(normal Vec3)
	ProcessEvents() int
	Ready() <-chan struct{}

	Close() error
}

// RenderHook runs at the start of every Render, before the clip pass.
// Returning an error fails the frame.
type RenderHook func(ctx context.Context, abort *core.AbortSignal) error

// Config configures a ClipPipeline.
type Config struct {
	Mesh               MeshSpec
	AbortCheckInterval int
	PlaceFactor        float64
	InitialNormal      Vec3

	Background  string
	PointColor  string
	NormalColor string

	// Abort is shared with the threads that may cancel a frame. Nil allocates one.
	Abort      *core.AbortSignal
	RenderHook RenderHook
	Logger     core.Logger
	Metrics    core.Metrics
}

// DefaultConfig returns the settings of the stock demo scene.
func DefaultConfig() Config {
	return Config{
		Mesh:               DefaultMeshSpec(),
		AbortCheckInterval: defaultAbortCheckInterval,
		PlaceFactor:        1.25,
		InitialNormal:      V(1, 0, 0),
		Background:         "#1e1e28",
		PointColor:         "#8fbcbb",
		NormalColor:        "#ebcb8b",
	}
}

// ClipPipeline clips a generated cylinder grid by a plane and rasterizes the
// kept points onto its surfaces.
type ClipPipeline struct {
	cfg      Config
	mesh     *Mesh
	plane    *Plane
	widget   *PlaneWidget
	clipper  *Clipper
	abort    *core.AbortSignal
	surfaces []*Surface
	view     projection

	logger  core.Logger
	metrics core.Metrics

	lastFrame time.Duration
	lastKept  int
	// clipped is the clip pass's last checkpoint in the current frame.
	clipped int
	closed  bool
}

var _ Pipeline = (*ClipPipeline)(nil)

// NewClipPipeline builds the scene. The surfaces must already be transferred
// to the calling thread.
func NewClipPipeline(cfg Config, surfaces []*Surface) (*ClipPipeline, error) {
	if len(surfaces) == 0 {
		return nil, errors.New("render: pipeline needs at least one surface")
	}
	for _, s := range surfaces {
		if _, err := s.Canvas(); err != nil {
			return nil, err
		}
	}
	if cfg.InitialNormal.IsZero() {
		cfg.InitialNormal = V(1, 0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NewNoOpLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &core.NilMetrics{}
	}
	abort := cfg.Abort
	if abort == nil {
		abort = core.NewAbortSignal()
	}

	mesh, err := BuildCylinderGrid(cfg.Mesh)
	if err != nil {
		return nil, err
	}

	plane := NewPlane(mesh.Bounds.Center(), cfg.InitialNormal)
	widget := NewPlaneWidget(mesh.Bounds, cfg.PlaceFactor)
	widget.SetPlane(plane)

	p := &ClipPipeline{
		cfg:      cfg,
		mesh:     mesh,
		plane:    plane,
		widget:   widget,
		clipper:  NewClipper(mesh, plane, abort, cfg.AbortCheckInterval),
		abort:    abort,
		surfaces: surfaces,
		view:     newProjection(mesh.Bounds),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	p.clipper.SetProgress(func(done, total int) {
		p.clipped = done
	})
	p.logger.Info("pipeline built",
		core.F("points", len(mesh.Points)),
		core.F("surfaces", len(surfaces)),
		core.F("origin", plane.Origin().String()),
	)
	return p, nil
}

// Render runs the hook, the clip pass and the rasterization. It leaves the
// abort flag as it finds it; callers clear it first.
func (p *ClipPipeline) Render(ctx context.Context) error {
	if p.closed {
		return errors.New("render: pipeline closed")
	}
	start := time.Now()
	p.clipped = 0

	if p.cfg.RenderHook != nil {
		if err := p.cfg.RenderHook(ctx, p.abort); err != nil {
			p.finishFrame(start, err)
			return err
		}
	}

	kept, err := p.clipper.Execute(ctx)
	if err != nil {
		p.finishFrame(start, err)
		return err
	}

	for _, s := range p.surfaces {
		if err := p.draw(s, kept); err != nil {
			p.finishFrame(start, err)
			return err
		}
	}
	p.lastKept = len(kept)
	p.finishFrame(start, nil)
	return nil
}

func (p *ClipPipeline) finishFrame(start time.Time, err error) {
	d := time.Since(start)
	aborted := errors.Is(err, core.ErrAborted)
	p.lastFrame = d
	for _, s := range p.surfaces {
		p.metrics.RecordFrame(s.ID(), d, aborted)
	}
	switch {
	case aborted:
		p.logger.Info("frame aborted", core.F("duration", d), core.F("clipped", p.clipped))
	case err != nil:
		p.logger.Warn("frame failed", core.F("duration", d), core.F("error", err))
	default:
		p.logger.Debug("frame rendered", core.F("duration", d), core.F("points", p.lastKept), core.F("clipped", p.clipped))
	}
}

func (p *ClipPipeline) draw(s *Surface, kept []Vec3) error {
	dc, err := s.Canvas()
	if err != nil {
		return err
	}
	w, h := s.Size()

	dc.ClearWithColor(gg.Hex(p.cfg.Background))
	point := gg.Hex(p.cfg.PointColor)
	for _, pt := range kept {
		x, y := p.view.toScreen(pt, w, h)
		if x >= 0 && x < w && y >= 0 && y < h {
			dc.SetPixel(x, y, point)
		}
	}

	// Normal indicator from the plane origin.
	o := p.plane.Origin()
	tip := o.Add(p.plane.Normal().Normalize().Scale(p.view.span * 0.25))
	ox, oy := p.view.toScreenF(o, w, h)
	tx, ty := p.view.toScreenF(tip, w, h)
	dc.SetColor(gg.Hex(p.cfg.NormalColor).Color())
	dc.SetLineWidth(2)
	dc.DrawLine(ox, oy, tx, ty)
	if err := dc.Stroke(); err != nil {
		return fmt.Errorf("render: stroke normal on %s: %w", s.ID(), err)
	}
	return s.Publish()
}

func (p *ClipPipeline) SetAbortFlag(aborted bool) {
	p.abort.Set(aborted)
}

// AbortSignal returns the signal the clip pass polls.
func (p *ClipPipeline) AbortSignal() *core.AbortSignal {
	return p.abort
}

func (p *ClipPipeline) ClipPlaneNormal() Vec3 {
	return p.plane.Normal()
}

func (p *ClipPipeline) SetClipPlaneNormal(n Vec3) {
	p.plane.SetNormal(n)
}

func (p *ClipPipeline) SyncWidget() {
	p.widget.SetPlane(p.plane)
}

func (p *ClipPipeline) ApplyWidgetPlane() {
	p.widget.GetPlane(p.plane)
}

func (p *ClipPipeline) PlaneModified() core.Observable[Vec3] {
	return p.plane.Modified()
}

func (p *ClipPipeline) Interaction() core.Observable[Vec3] {
	return p.widget.Interaction()
}

func (p *ClipPipeline) Drag(normal Vec3) {
	p.widget.Drag(normal)
}

func (p *ClipPipeline) ProcessEvents() int {
	return p.widget.ProcessEvents()
}

func (p *ClipPipeline) Ready() <-chan struct{} {
	return p.widget.Ready()
}

// LastFrame returns the duration of the last Render and how many points it kept.
func (p *ClipPipeline) LastFrame() (time.Duration, int) {
	return p.lastFrame, p.lastKept
}

// Mesh returns the clip input.
func (p *ClipPipeline) Mesh() *Mesh {
	return p.mesh
}

// Close detaches every observer of the plane and widget and releases the
// surfaces. Render thread only.
func (p *ClipPipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.widget.Close()
	p.plane.Close()

	var errs []error
	for _, s := range p.surfaces {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// projection is a fixed oblique view fitted to the mesh bounds.
type projection struct {
	minX, minY float64
	span       float64
}

const depthShear = 0.35

func newProjection(b Bounds) projection {
	// Project all eight corners to find the screen-space extent.
	minX, minY := 1e308, 1e308
	maxX, maxY := -1e308, -1e308
	for _, x := range []float64{b.Min.X, b.Max.X} {
		for _, y := range []float64{b.Min.Y, b.Max.Y} {
			for _, z := range []float64{b.Min.Z, b.Max.Z} {
				px, py := x+depthShear*z, y+depthShear*z
				minX, maxX = min(minX, px), max(maxX, px)
				minY, maxY = min(minY, py), max(maxY, py)
			}
		}
	}
	span := max(maxX-minX, maxY-minY)
	if span == 0 {
		span = 1
	}
	return projection{minX: minX, minY: minY, span: span}
}

func (v projection) toScreenF(p Vec3, w, h int) (float64, float64) {
	size := float64(min(w, h)) * 0.9
	offX := (float64(w) - size) / 2
	offY := (float64(h) - size) / 2
	px := (p.X + depthShear*p.Z - v.minX) / v.span
	py := (p.Y + depthShear*p.Z - v.minY) / v.span
	return offX + px*size, float64(h) - (offY + py*size)
}

func (v projection) toScreen(p Vec3, w, h int) (int, int) {
	x, y := v.toScreenF(p, w, h)
	return int(x), int(y)
}
