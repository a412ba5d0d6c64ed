// Package grid implements the pixel-grid geometry the raster pipeline is
// built on: axis-aligned affine footprints, footprint tiling and
// intersection, and dense pixel arrays.
//
// A Footprint maps an integer pixel grid onto the plane. Pixel (0,0) has its
// top-left corner at (OX, OY); columns advance by DX along +X and rows by DY
// along +Y. Rotated grids are not supported.
package grid

import (
	"fmt"
	"math"
)

// gridEps is the tolerance, in fractions of a pixel, used when deciding
// whether two footprints share a grid alignment.
const gridEps = 1e-9

// Footprint is an axis-aligned affine pixel grid over the plane.
type Footprint struct {
	OX, OY float64 // plane coordinates of the top-left corner of pixel (0,0)
	DX, DY float64 // pixel size along X and Y, both > 0
	W, H   int     // pixel counts
}

// NewFootprint returns a footprint with origin (ox, oy), pixel size (dx, dy)
// and w by h pixels.
func NewFootprint(ox, oy, dx, dy float64, w, h int) Footprint {
	return Footprint{OX: ox, OY: oy, DX: dx, DY: dy, W: w, H: h}
}

// Empty reports whether the footprint covers no pixels.
func (fp Footprint) Empty() bool { return fp.W <= 0 || fp.H <= 0 }

// Valid reports whether the footprint has positive pixel sizes and counts.
func (fp Footprint) Valid() bool {
	return fp.W > 0 && fp.H > 0 && fp.DX > 0 && fp.DY > 0 &&
		!math.IsNaN(fp.OX) && !math.IsNaN(fp.OY) &&
		!math.IsInf(fp.OX, 0) && !math.IsInf(fp.OY, 0)
}

// Right and Bottom are the plane coordinates of the footprint's far corner.
func (fp Footprint) Right() float64  { return fp.OX + float64(fp.W)*fp.DX }
func (fp Footprint) Bottom() float64 { return fp.OY + float64(fp.H)*fp.DY }

// Equal reports exact equality of grids and extents.
func (fp Footprint) Equal(o Footprint) bool {
	return fp.OX == o.OX && fp.OY == o.OY &&
		fp.DX == o.DX && fp.DY == o.DY &&
		fp.W == o.W && fp.H == o.H
}

// SameGrid reports whether both footprints lie on one common pixel lattice:
// identical pixel sizes and an integer pixel offset between origins.
func (fp Footprint) SameGrid(o Footprint) bool {
	if fp.DX != o.DX || fp.DY != o.DY {
		return false
	}
	return isIntegral((fp.OX-o.OX)/fp.DX) && isIntegral((fp.OY-o.OY)/fp.DY)
}

// ShareArea reports whether the two footprints overlap with strictly
// positive area on the plane.
func (fp Footprint) ShareArea(o Footprint) bool {
	if fp.Empty() || o.Empty() {
		return false
	}
	return fp.OX < o.Right() && o.OX < fp.Right() &&
		fp.OY < o.Bottom() && o.OY < fp.Bottom()
}

// PlaneToPixel converts plane coordinates to fractional pixel coordinates.
func (fp Footprint) PlaneToPixel(x, y float64) (float64, float64) {
	return (x - fp.OX) / fp.DX, (y - fp.OY) / fp.DY
}

// PixelCenter returns the plane coordinates of the center of pixel (c, r).
func (fp Footprint) PixelCenter(c, r int) (float64, float64) {
	return fp.OX + (float64(c)+0.5)*fp.DX, fp.OY + (float64(r)+0.5)*fp.DY
}

// Sub returns the sub-footprint starting at pixel (c, r) with w by h pixels.
// The receiver must contain the requested rectangle.
func (fp Footprint) Sub(c, r, w, h int) Footprint {
	if c < 0 || r < 0 || c+w > fp.W || r+h > fp.H {
		panic(fmt.Sprintf("grid: sub-footprint (%d,%d %dx%d) outside %v", c, r, w, h, fp))
	}
	return Footprint{
		OX: fp.OX + float64(c)*fp.DX,
		OY: fp.OY + float64(r)*fp.DY,
		DX: fp.DX, DY: fp.DY,
		W: w, H: h,
	}
}

// SliceIn returns the pixel offset of fp inside parent. Both footprints must
// be on the same grid and parent must contain fp.
func (fp Footprint) SliceIn(parent Footprint) (c, r int, ok bool) {
	if !fp.SameGrid(parent) {
		return 0, 0, false
	}
	c = int(math.Round((fp.OX - parent.OX) / fp.DX))
	r = int(math.Round((fp.OY - parent.OY) / fp.DY))
	if c < 0 || r < 0 || c+fp.W > parent.W || r+fp.H > parent.H {
		return 0, 0, false
	}
	return c, r, true
}

// Intersect returns the sub-footprint of the receiver covering the plane
// area shared with o, expanding outward to whole receiver pixels. The second
// return is false when the footprints do not share area.
func (fp Footprint) Intersect(o Footprint) (Footprint, bool) {
	if !fp.ShareArea(o) {
		return Footprint{}, false
	}
	x0 := math.Max(fp.OX, o.OX)
	y0 := math.Max(fp.OY, o.OY)
	x1 := math.Min(fp.Right(), o.Right())
	y1 := math.Min(fp.Bottom(), o.Bottom())

	c0 := clampInt(int(math.Floor((x0-fp.OX)/fp.DX+gridEps)), 0, fp.W-1)
	r0 := clampInt(int(math.Floor((y0-fp.OY)/fp.DY+gridEps)), 0, fp.H-1)
	c1 := clampInt(int(math.Ceil((x1-fp.OX)/fp.DX-gridEps)), c0+1, fp.W)
	r1 := clampInt(int(math.Ceil((y1-fp.OY)/fp.DY-gridEps)), r0+1, fp.H)
	return fp.Sub(c0, r0, c1-c0, r1-r0), true
}

// TileCount returns how many tiles of size tw by th cover the footprint
// along each axis.
func (fp Footprint) TileCount(tw, th int) (nx, ny int) {
	if tw <= 0 || th <= 0 {
		panic("grid: non-positive tile size")
	}
	return (fp.W + tw - 1) / tw, (fp.H + th - 1) / th
}

// Tiles cuts the footprint into tiles of size tw by th, row-major; edge
// tiles are clipped to the footprint.
func (fp Footprint) Tiles(tw, th int) []Footprint {
	nx, ny := fp.TileCount(tw, th)
	tiles := make([]Footprint, 0, nx*ny)
	for ty := 0; ty < ny; ty++ {
		for tx := 0; tx < nx; tx++ {
			w := tw
			if (tx+1)*tw > fp.W {
				w = fp.W - tx*tw
			}
			h := th
			if (ty+1)*th > fp.H {
				h = fp.H - ty*th
			}
			tiles = append(tiles, fp.Sub(tx*tw, ty*th, w, h))
		}
	}
	return tiles
}

func (fp Footprint) String() string {
	return fmt.Sprintf("Footprint(o=(%g,%g) px=(%g,%g) %dx%d)",
		fp.OX, fp.OY, fp.DX, fp.DY, fp.W, fp.H)
}

func isIntegral(v float64) bool {
	_, frac := math.Modf(math.Abs(v))
	return frac < gridEps || frac > 1-gridEps
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
