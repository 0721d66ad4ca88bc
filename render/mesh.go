package render

import (
	"fmt"
	"math"
)

// MeshSpec describes the generated input: a grid of Y-axis cylinders.
type MeshSpec struct {
	GridX      int     `toml:"grid_x"`
	GridY      int     `toml:"grid_y"`
	GridZ      int     `toml:"grid_z"`
	Spacing    float64 `toml:"spacing"`
	Resolution int     `toml:"resolution"`
	Radius     float64 `toml:"radius"`
	Height     float64 `toml:"height"`
}

// DefaultMeshSpec is a 10x10x10 grid of unit-height cylinders two units apart.
func DefaultMeshSpec() MeshSpec {
	return MeshSpec{
		GridX:      10,
		GridY:      10,
		GridZ:      10,
		Spacing:    2,
		Resolution: 32,
		Radius:     0.5,
		Height:     1,
	}
}

func (s MeshSpec) Validate() error {
	if s.GridX < 1 || s.GridY < 1 || s.GridZ < 1 {
		return fmt.Errorf("mesh: grid must be at least 1x1x1, got %dx%dx%d", s.GridX, s.GridY, s.GridZ)
	}
	if s.Resolution < 3 {
		return fmt.Errorf("mesh: resolution must be >= 3, got %d", s.Resolution)
	}
	if s.Radius <= 0 || s.Height <= 0 {
		return fmt.Errorf("mesh: radius and height must be positive")
	}
	return nil
}

// Mesh is a point set with its bounds.
type Mesh struct {
	Points []Vec3
	Bounds Bounds
}

// BuildCylinderGrid samples every cylinder of the grid as two rings of
// Resolution points (top and bottom caps).
func BuildCylinderGrid(spec MeshSpec) (*Mesh, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	total := spec.GridX * spec.GridY * spec.GridZ * spec.Resolution * 2
	points := make([]Vec3, 0, total)

	half := spec.Height / 2
	for i := 0; i < spec.GridX; i++ {
		for j := 0; j < spec.GridY; j++ {
			for k := 0; k < spec.GridZ; k++ {
				center := Vec3{
					float64(i) * spec.Spacing,
					float64(j) * spec.Spacing,
					float64(k) * spec.Spacing,
				}
				for r := 0; r < spec.Resolution; r++ {
					theta := 2 * math.Pi * float64(r) / float64(spec.Resolution)
					x := center.X + spec.Radius*math.Cos(theta)
					z := center.Z - spec.Radius*math.Sin(theta)
					points = append(points,
						Vec3{x, center.Y + half, z},
						Vec3{x, center.Y - half, z},
					)
				}
			}
		}
	}

	bounds := Bounds{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		bounds = bounds.extend(p)
	}
	return &Mesh{Points: points, Bounds: bounds}, nil
}
