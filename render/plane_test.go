package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/go-async-render/core"
)

func recordNormals(t *testing.T, src core.Observable[Vec3]) *[]Vec3 {
	t.Helper()
	var got []Vec3
	_, err := src.Subscribe(func(n Vec3) { got = append(got, n) }, nil)
	require.NoError(t, err)
	return &got
}

func TestPlane_SetNormalFiresOnChange(t *testing.T) {
	p := NewPlane(V(0, 0, 0), V(1, 0, 0))
	got := recordNormals(t, p.Modified())

	assert.True(t, p.SetNormal(V(0, 0, 1)))
	assert.False(t, p.SetNormal(V(0, 0, 1)), "unchanged normal")
	assert.False(t, p.SetNormal(Vec3{}), "zero normal")
	assert.True(t, p.SetNormal(V(0, 2, 0)))

	// The normal is kept as given, not normalized.
	assert.Equal(t, []Vec3{V(0, 0, 1), V(0, 2, 0)}, *got)
	assert.Equal(t, V(0, 2, 0), p.Normal())
}

func TestPlane_SetOriginFiresCurrentNormal(t *testing.T) {
	p := NewPlane(V(0, 0, 0), V(1, 0, 0))
	got := recordNormals(t, p.Modified())

	assert.True(t, p.SetOrigin(V(1, 1, 1)))
	assert.False(t, p.SetOrigin(V(1, 1, 1)))

	assert.Equal(t, []Vec3{V(1, 0, 0)}, *got)
	assert.Equal(t, V(1, 1, 1), p.Origin())
}

func TestPlane_Evaluate(t *testing.T) {
	p := NewPlane(V(1, 0, 0), V(1, 0, 0))

	assert.Equal(t, 1.0, p.Evaluate(V(2, 5, 5)))
	assert.Equal(t, 0.0, p.Evaluate(V(1, -3, 7)))
	assert.Equal(t, -1.0, p.Evaluate(V(0, 0, 0)))
}

func TestPlane_CloseDetachesObservers(t *testing.T) {
	p := NewPlane(V(0, 0, 0), V(1, 0, 0))
	detached := 0
	_, err := p.Modified().Subscribe(func(Vec3) {}, func() { detached++ })
	require.NoError(t, err)

	p.Close()

	assert.Equal(t, 1, detached)
	_, err = p.Modified().Subscribe(func(Vec3) {}, nil)
	assert.ErrorIs(t, err, core.ErrEventClosed)
	// Changes after Close still apply, with nobody listening.
	assert.True(t, p.SetNormal(V(0, 1, 0)))
}
