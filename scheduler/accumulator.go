package scheduler

import "github.com/rasterflow/rasterflow/grid"

// accumulator gathers the partial arrays of one tile computation until the
// set is complete, then hands the whole batch to the merger.
type accumulator struct {
	r     *Raster
	addr  Address
	alive bool

	accs map[int]*acc
}

type acc struct {
	parts []*grid.Array
	count int
}

func newAccumulator(r *Raster) *accumulator {
	return &accumulator{
		r:     r,
		addr:  rasterAddr(r.id, roleAccumulator),
		alive: true,
		accs:  make(map[int]*acc),
	}
}

func (a *accumulator) Address() Address { return a.addr }
func (a *accumulator) Alive() bool      { return a.alive }

func (a *accumulator) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgComputedPartial:
		st, ok := a.accs[m.tile]
		if !ok {
			st = &acc{parts: make([]*grid.Array, m.total)}
			a.accs[m.tile] = st
		}
		if len(st.parts) != m.total || st.parts[m.idx] != nil {
			invariantf("%s: inconsistent partials for tile %d", a.addr, m.tile)
		}
		st.parts[m.idx] = m.part
		st.count++
		if st.count < m.total {
			return nil
		}
		delete(a.accs, m.tile)
		return []Envelope{
			to(rasterAddr(a.r.id, roleCacheHandler), msgTileMerging{tile: m.tile}),
			to(rasterAddr(a.r.id, roleMerger), msgMergeTile{tile: m.tile, parts: st.parts}),
		}

	case msgDie:
		a.alive = false
		a.accs = nil
		return nil

	default:
		invariantf("%s: unexpected message %T", a.addr, m)
		return nil
	}
}
