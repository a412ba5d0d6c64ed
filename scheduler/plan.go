package scheduler

import (
	"github.com/rasterflow/rasterflow/grid"
)

// Ordering is a query's delivery order over its production arrays.
type Ordering struct {
	kind orderKind
	perm []int
}

type orderKind uint8

const (
	orderRowMajor orderKind = iota
	orderSpiral
	orderUser
)

// RowMajor delivers production arrays left to right, top to bottom. It is
// the zero Ordering.
func RowMajor() Ordering { return Ordering{kind: orderRowMajor} }

// Spiral delivers production arrays outward from the center of the query
// footprint.
func Spiral() Ordering { return Ordering{kind: orderSpiral} }

// UserOrder delivers production arrays in the given permutation of their
// row-major indices.
func UserOrder(perm []int) Ordering {
	return Ordering{kind: orderUser, perm: append([]int(nil), perm...)}
}

// permutation materializes the delivery order for an nx by ny production
// tiling.
func (o Ordering) permutation(nx, ny int) ([]int, error) {
	n := nx * ny
	switch o.kind {
	case orderRowMajor:
		perm := make([]int, n)
		for i := range perm {
			perm[i] = i
		}
		return perm, nil
	case orderSpiral:
		return spiralPerm(nx, ny), nil
	case orderUser:
		if len(o.perm) != n {
			return nil, configErrorf("ordering permutation has %d entries, query has %d production arrays", len(o.perm), n)
		}
		seen := make([]bool, n)
		for _, idx := range o.perm {
			if idx < 0 || idx >= n || seen[idx] {
				return nil, configErrorf("ordering permutation is not a bijection over [0,%d)", n)
			}
			seen[idx] = true
		}
		return append([]int(nil), o.perm...), nil
	default:
		return nil, configErrorf("unknown ordering")
	}
}

// spiralPerm walks the tile grid in a square spiral from the center,
// collecting in-bounds cells.
func spiralPerm(nx, ny int) []int {
	perm := make([]int, 0, nx*ny)
	x, y := nx/2, ny/2
	emit := func() {
		if x >= 0 && x < nx && y >= 0 && y < ny {
			perm = append(perm, y*nx+x)
		}
	}
	emit()
	for step := 1; len(perm) < nx*ny; step++ {
		for i := 0; i < step; i++ {
			x++
			emit()
		}
		for i := 0; i < step; i++ {
			y++
			emit()
		}
		step++
		for i := 0; i < step; i++ {
			x--
			emit()
		}
		for i := 0; i < step; i++ {
			y--
			emit()
		}
	}
	return perm
}

// QueryOptions parameterize a posted query.
type QueryOptions struct {
	// Footprint is the target grid the result is delivered on.
	Footprint grid.Footprint

	// Channels selects raster channels, in delivery order. Nil selects all.
	Channels []int

	// Ordering is the delivery order of production arrays.
	Ordering Ordering

	// QueueCapacity bounds the output queue; it is the query's Q.
	QueueCapacity int

	// TileSize is the side of the square production tiling of Footprint.
	TileSize int

	// Fill is the value delivered outside the raster's footprint.
	Fill float64
}

// prodInfo is the immutable plan of one production array.
type prodInfo struct {
	fp        grid.Footprint
	shareArea bool
	direct    bool            // sample equals production: no resampling needed
	sampleFP  grid.Footprint  // on the raster grid; zero unless shareArea
	tiles     []int           // cache tiles read; nil for memory rasters
}

// queryPlan is everything decided about a query at post time. It never
// changes afterwards; all per-query mutable state lives in actors.
type queryPlan struct {
	fp       grid.Footprint
	channels []int
	fill     float64
	capacity int
	prods    []prodInfo // in delivery order
}

func newQueryPlan(r *Raster, opts QueryOptions) (*queryPlan, error) {
	if !opts.Footprint.Valid() {
		return nil, configErrorf("query footprint %v is not a valid grid", opts.Footprint)
	}
	if opts.QueueCapacity <= 0 {
		return nil, configErrorf("query queue capacity must be positive, got %d", opts.QueueCapacity)
	}
	if opts.TileSize <= 0 {
		return nil, configErrorf("query tile size must be positive, got %d", opts.TileSize)
	}
	channels := opts.Channels
	if channels == nil {
		channels = allChannels(r.channels)
	}
	if len(channels) == 0 {
		return nil, configErrorf("query selects no channels")
	}
	for _, ch := range channels {
		if ch < 0 || ch >= r.channels {
			return nil, configErrorf("channel %d outside raster channels [0,%d)", ch, r.channels)
		}
	}

	nx, ny := opts.Footprint.TileCount(opts.TileSize, opts.TileSize)
	perm, err := opts.Ordering.permutation(nx, ny)
	if err != nil {
		return nil, err
	}
	rowMajor := opts.Footprint.Tiles(opts.TileSize, opts.TileSize)

	plan := &queryPlan{
		fp:       opts.Footprint,
		channels: append([]int(nil), channels...),
		fill:     opts.Fill,
		capacity: opts.QueueCapacity,
		prods:    make([]prodInfo, len(perm)),
	}
	for out, idx := range perm {
		fp := rowMajor[idx]
		pi := prodInfo{fp: fp}
		if sample, ok := r.fp.Intersect(fp); ok {
			pi.shareArea = true
			pi.sampleFP = sample
			pi.direct = fp.SameGrid(r.fp) && sample.Equal(fp)
			if r.recipe() {
				for t, tile := range r.tiles {
					if tile.ShareArea(sample) {
						pi.tiles = append(pi.tiles, t)
					}
				}
			}
		}
		plan.prods[out] = pi
	}
	return plan, nil
}
