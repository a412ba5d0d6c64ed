package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFootprintBasics(t *testing.T) {
	fp := NewFootprint(10, 20, 2, 2, 8, 4)
	assert.True(t, fp.Valid())
	assert.False(t, fp.Empty())
	assert.Equal(t, 26.0, fp.Right())
	assert.Equal(t, 28.0, fp.Bottom())

	x, y := fp.PixelCenter(0, 0)
	assert.Equal(t, 11.0, x)
	assert.Equal(t, 21.0, y)

	fc, fr := fp.PlaneToPixel(14, 24)
	assert.Equal(t, 2.0, fc)
	assert.Equal(t, 2.0, fr)
}

func TestFootprintSameGrid(t *testing.T) {
	fp := NewFootprint(0, 0, 1, 1, 8, 8)
	assert.True(t, fp.SameGrid(fp.Sub(2, 3, 4, 4)))
	assert.True(t, fp.SameGrid(NewFootprint(-3, 7, 1, 1, 2, 2)))
	assert.False(t, fp.SameGrid(NewFootprint(0.5, 0, 1, 1, 8, 8)))
	assert.False(t, fp.SameGrid(NewFootprint(0, 0, 2, 1, 8, 8)))
}

func TestFootprintShareArea(t *testing.T) {
	fp := NewFootprint(0, 0, 1, 1, 8, 8)
	assert.True(t, fp.ShareArea(NewFootprint(7.5, 7.5, 1, 1, 2, 2)))
	// Touching edges do not share area.
	assert.False(t, fp.ShareArea(NewFootprint(8, 0, 1, 1, 2, 2)))
	assert.False(t, fp.ShareArea(NewFootprint(-10, -10, 1, 1, 2, 2)))
}

func TestFootprintIntersectExpandsToWholePixels(t *testing.T) {
	fp := NewFootprint(0, 0, 1, 1, 8, 8)
	got, ok := fp.Intersect(NewFootprint(2.5, 2.5, 1, 1, 2, 2))
	require.True(t, ok)
	assert.Equal(t, fp.Sub(2, 2, 3, 3), got)

	// Aligned intersection is exact.
	got, ok = fp.Intersect(fp.Sub(1, 2, 3, 4))
	require.True(t, ok)
	assert.Equal(t, fp.Sub(1, 2, 3, 4), got)

	_, ok = fp.Intersect(NewFootprint(100, 100, 1, 1, 2, 2))
	assert.False(t, ok)
}

func TestFootprintSliceIn(t *testing.T) {
	fp := NewFootprint(0, 0, 1, 1, 8, 8)
	sub := fp.Sub(2, 3, 4, 4)
	c, r, ok := sub.SliceIn(fp)
	require.True(t, ok)
	assert.Equal(t, 2, c)
	assert.Equal(t, 3, r)

	_, _, ok = NewFootprint(0.5, 0, 1, 1, 2, 2).SliceIn(fp)
	assert.False(t, ok)
	_, _, ok = NewFootprint(6, 6, 1, 1, 4, 4).SliceIn(fp)
	assert.False(t, ok)
}

func TestFootprintTiles(t *testing.T) {
	fp := NewFootprint(0, 0, 1, 1, 8, 8)
	tiles := fp.Tiles(3, 3)
	require.Len(t, tiles, 9)
	assert.Equal(t, fp.Sub(0, 0, 3, 3), tiles[0])
	assert.Equal(t, fp.Sub(6, 0, 2, 3), tiles[2])
	assert.Equal(t, fp.Sub(6, 6, 2, 2), tiles[8])

	nx, ny := fp.TileCount(8, 8)
	assert.Equal(t, 1, nx)
	assert.Equal(t, 1, ny)
}
