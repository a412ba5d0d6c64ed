package scheduler

import (
	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/pool"
)

// fileHasher validates existing cache files against their expected
// fingerprint on the I/O pool. Validation jobs outrank other pool work: a
// warm cache should be discovered before new computations queue behind it.
type fileHasher struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	waiting Address
	working Address
	jobs    map[*job]*checkCtx
}

type checkCtx struct {
	tile    int
	path    string
	expect  uint64
	working bool
}

func newFileHasher(l *Loop, r *Raster) *fileHasher {
	return &fileHasher{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleFileHasher),
		alive:   true,
		waiting: poolAddr(l.pools.io, roleWaitingRoom),
		working: poolAddr(l.pools.io, roleWorkingRoom),
		jobs:    make(map[*job]*checkCtx),
	}
}

func (h *fileHasher) Address() Address { return h.addr }
func (h *fileHasher) Alive() bool      { return h.alive }

func (h *fileHasher) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgCheckTile:
		j := &job{sender: h.addr, rank: rankCheck}
		h.jobs[j] = &checkCtx{tile: m.tile, path: m.path, expect: m.expect}
		return []Envelope{to(h.waiting, msgScheduleJob{j: j})}

	case msgJobAdmitted:
		ctx, ok := h.jobs[m.j]
		if !ok {
			return []Envelope{to(h.waiting, msgSalvageToken{})}
		}
		ctx.working = true
		path, expect := ctx.path, ctx.expect
		m.j.run = func() (interface{}, error) {
			return nil, cache.Validate(path, expect)
		}
		return []Envelope{to(h.working, msgLaunchJob{j: m.j})}

	case msgJobFinished:
		ctx, ok := h.jobs[m.j]
		if !ok {
			return nil
		}
		delete(h.jobs, m.j)
		if m.err == pool.ErrCanceled {
			return nil
		}
		return []Envelope{to(rasterAddr(h.r.id, roleCacheHandler),
			msgTileStatus{tile: ctx.tile, path: ctx.path, err: m.err})}

	case msgDie:
		h.alive = false
		var out []Envelope
		for j, ctx := range h.jobs {
			if ctx.working {
				out = append(out, to(h.working, msgCancelJob{j: j}))
			} else {
				out = append(out, to(h.waiting, msgUnscheduleJob{j: j}))
			}
		}
		h.jobs = nil
		return out

	default:
		invariantf("%s: unexpected message %T", h.addr, m)
		return nil
	}
}
