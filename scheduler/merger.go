package scheduler

import (
	"github.com/pkg/errors"

	"github.com/rasterflow/rasterflow/grid"
	"github.com/rasterflow/rasterflow/pool"
)

// merger composites a tile's partial arrays onto the tile grid on the merge
// pool, verifying that their union covers the tile completely.
type merger struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	waiting Address
	working Address
	jobs    map[*job]*mergeCtx
}

type mergeCtx struct {
	tile    int
	working bool
}

func newMerger(l *Loop, r *Raster) *merger {
	return &merger{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleMerger),
		alive:   true,
		waiting: poolAddr(l.pools.merge, roleWaitingRoom),
		working: poolAddr(l.pools.merge, roleWorkingRoom),
		jobs:    make(map[*job]*mergeCtx),
	}
}

func (g *merger) Address() Address { return g.addr }
func (g *merger) Alive() bool      { return g.alive }

func (g *merger) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgMergeTile:
		j := &job{sender: g.addr, rank: rankWork}
		g.jobs[j] = &mergeCtx{tile: m.tile}
		tile := g.r.tiles[m.tile]
		channels := g.r.channels
		parts := m.parts
		j.run = func() (interface{}, error) {
			return mergePartials(tile, channels, parts)
		}
		return []Envelope{to(g.waiting, msgScheduleJob{j: j})}

	case msgJobAdmitted:
		ctx, ok := g.jobs[m.j]
		if !ok {
			return []Envelope{to(g.waiting, msgSalvageToken{})}
		}
		ctx.working = true
		return []Envelope{to(g.working, msgLaunchJob{j: m.j})}

	case msgJobFinished:
		ctx, ok := g.jobs[m.j]
		if !ok {
			return nil
		}
		t := ctx.tile
		delete(g.jobs, m.j)
		if m.err != nil {
			if m.err == pool.ErrCanceled {
				return nil
			}
			return []Envelope{to(rasterAddr(g.r.id, roleCacheHandler),
				msgMergeFailed{tile: t, err: &ComputeError{Raster: g.r.id, Tile: t, Err: m.err}})}
		}
		return []Envelope{
			to(rasterAddr(g.r.id, roleCacheHandler), msgTileWriting{tile: t}),
			to(rasterAddr(g.r.id, roleWriter), msgWriteTile{tile: t, arr: m.v.(*grid.Array)}),
		}

	case msgDie:
		g.alive = false
		var out []Envelope
		for j, ctx := range g.jobs {
			if ctx.working {
				out = append(out, to(g.working, msgCancelJob{j: j}))
			} else {
				out = append(out, to(g.waiting, msgUnscheduleJob{j: j}))
			}
		}
		g.jobs = nil
		return out

	default:
		invariantf("%s: unexpected message %T", g.addr, m)
		return nil
	}
}

// mergePartials composites partial arrays onto the tile grid. Partials may
// overlap; later ones win. The union must cover the tile.
func mergePartials(tile grid.Footprint, channels int, parts []*grid.Array) (*grid.Array, error) {
	dst := grid.NewArray(tile, channels)
	painted := make([]bool, tile.W*tile.H)
	for _, part := range parts {
		if !part.FP.SameGrid(tile) {
			return nil, errors.Errorf("partial array %v is not on the raster grid", part.FP)
		}
		overlap, ok := tile.Intersect(part.FP)
		if !ok {
			continue
		}
		dst.CopyFrom(part, nil)
		dc, dr, _ := overlap.SliceIn(tile)
		for r := 0; r < overlap.H; r++ {
			for c := 0; c < overlap.W; c++ {
				painted[(dr+r)*tile.W+dc+c] = true
			}
		}
	}
	for _, ok := range painted {
		if !ok {
			return nil, errors.New("partial arrays do not cover the tile")
		}
	}
	return dst, nil
}
