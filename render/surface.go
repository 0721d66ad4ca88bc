package render

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gg"

	"github.com/Swind/go-async-render/core"
)

const (
	DefaultSurfaceWidth  = 640
	DefaultSurfaceHeight = 480
)

var (
	// ErrSurfaceOwned is returned when transferring a surface that already has an owner.
	ErrSurfaceOwned = errors.New("render: surface already transferred")

	// ErrNotOwner is returned when a thread other than the owner draws on a surface.
	ErrNotOwner = errors.New("render: surface is owned by another thread")

	// ErrSurfaceClosed is returned when drawing on a closed surface.
	ErrSurfaceClosed = errors.New("render: surface closed")
)

// SurfaceSpec names a displayable surface and its size in pixels.
type SurfaceSpec struct {
	ID     string `toml:"id"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

func (s SurfaceSpec) Validate() error {
	if !strings.HasPrefix(s.ID, "#") || len(s.ID) < 2 {
		return fmt.Errorf("render: surface id %q must start with '#'", s.ID)
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("render: surface %s has invalid size %dx%d", s.ID, s.Width, s.Height)
	}
	return nil
}

// ResolveSurfaces picks the surfaces for a demo instance. An empty id selects
// every configured default; otherwise the named surface is used, taking its
// size from the defaults when listed there.
func ResolveSurfaces(id string, defaults []SurfaceSpec) ([]SurfaceSpec, error) {
	if id == "" {
		if len(defaults) == 0 {
			return nil, errors.New("render: no surface given and no default surfaces configured")
		}
		out := make([]SurfaceSpec, len(defaults))
		for i, s := range defaults {
			if err := s.Validate(); err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}

	for _, s := range defaults {
		if s.ID == id {
			return []SurfaceSpec{s}, s.Validate()
		}
	}
	spec := SurfaceSpec{ID: id, Width: DefaultSurfaceWidth, Height: DefaultSurfaceHeight}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return []SurfaceSpec{spec}, nil
}

// Surface is an offscreen raster target. After Transfer only the owning thread
// may draw on it; any goroutine may read the last published frame.
type Surface struct {
	spec SurfaceSpec
	dc   *gg.Context

	mu       sync.Mutex
	registry *core.ThreadRegistry
	owner    core.ThreadHandle
	closed   bool

	frame atomic.Pointer[image.RGBA]
}

// NewSurface allocates the raster for spec.
func NewSurface(spec SurfaceSpec) (*Surface, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Surface{
		spec: spec,
		dc:   gg.NewContext(spec.Width, spec.Height),
	}, nil
}

func (s *Surface) ID() string { return s.spec.ID }
func (s *Surface) Spec() SurfaceSpec { return s.spec }
func (s *Surface) Size() (int, int) { return s.spec.Width, s.spec.Height }

// Transfer hands the surface to owner. It succeeds once.
func (s *Surface) Transfer(registry *core.ThreadRegistry, owner core.ThreadHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.owner.IsZero() {
		return fmt.Errorf("%w: %s", ErrSurfaceOwned, s.spec.ID)
	}
	s.registry = registry
	s.owner = owner
	return nil
}

// Owner returns the thread the surface was transferred to.
func (s *Surface) Owner() core.ThreadHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// Canvas returns the drawing context. The caller must be the owner.
func (s *Surface) Canvas() (*gg.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSurfaceClosed
	}
	if s.owner.IsZero() || !s.registry.IsCurrent(s.owner) {
		return nil, fmt.Errorf("%w: %s", ErrNotOwner, s.spec.ID)
	}
	return s.dc, nil
}

// Publish makes the current canvas contents the visible frame.
func (s *Surface) Publish() error {
	dc, err := s.Canvas()
	if err != nil {
		return err
	}
	switch img := dc.Image().(type) {
	case *image.RGBA:
		s.frame.Store(img)
	default:
		rgba := image.NewRGBA(img.Bounds())
		for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
			for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
				rgba.Set(x, y, img.At(x, y))
			}
		}
		s.frame.Store(rgba)
	}
	return nil
}

// Snapshot returns the last published frame, or nil before the first one.
// The image is never written to again.
func (s *Surface) Snapshot() image.Image {
	img := s.frame.Load()
	if img == nil {
		return nil
	}
	return img
}

// EncodePNG writes the last published frame.
func (s *Surface) EncodePNG(w io.Writer) error {
	img := s.frame.Load()
	if img == nil {
		return fmt.Errorf("render: surface %s has no frame yet", s.spec.ID)
	}
	return png.Encode(w, img)
}

// SavePNG writes the last published frame to path.
func (s *Surface) SavePNG(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return s.EncodePNG(f)
}

// Close releases the raster. The last published frame stays readable.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.dc.Close()
}
