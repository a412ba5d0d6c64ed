package scheduler

import (
	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/pool"
)

// sampler reads valid tiles into a production array's sample buffer on the
// I/O pool. Concurrent reads for one sample buffer touch disjoint pixel
// regions (tiles do not overlap), so sharing the destination is safe.
type sampler struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	waiting Address
	working Address
	jobs    map[*job]*sampleCtx
}

type sampleCtx struct {
	q       *Query
	prodIdx int
	ref     tileRef
	working bool
}

func newSampler(l *Loop, r *Raster) *sampler {
	return &sampler{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleSampler),
		alive:   true,
		waiting: poolAddr(l.pools.io, roleWaitingRoom),
		working: poolAddr(l.pools.io, roleWorkingRoom),
		jobs:    make(map[*job]*sampleCtx),
	}
}

func (s *sampler) Address() Address { return s.addr }
func (s *sampler) Alive() bool      { return s.alive }

func (s *sampler) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgSampleTile:
		j := &job{sender: s.addr, rank: rankWork, qid: m.q.id}
		s.jobs[j] = &sampleCtx{q: m.q, prodIdx: m.prodIdx, ref: m.ref}
		ref := m.ref
		dst := m.dst
		chans := m.q.plan.channels
		j.run = func() (interface{}, error) {
			src := ref.arr
			if src == nil {
				arr, err := cache.ReadTile(ref.path, ref.h)
				if err != nil {
					return nil, err
				}
				src = arr
			}
			dst.CopyFrom(src, chans)
			return nil, nil
		}
		return []Envelope{to(s.waiting, msgScheduleJob{j: j})}

	case msgJobAdmitted:
		ctx, ok := s.jobs[m.j]
		if !ok {
			return []Envelope{to(s.waiting, msgSalvageToken{})}
		}
		ctx.working = true
		return []Envelope{to(s.working, msgLaunchJob{j: m.j})}

	case msgJobFinished:
		ctx, ok := s.jobs[m.j]
		if !ok {
			return nil
		}
		delete(s.jobs, m.j)
		if m.err == pool.ErrCanceled {
			return nil
		}
		return []Envelope{to(rasterAddr(s.r.id, roleBuilder),
			msgSampled{q: ctx.q, prodIdx: ctx.prodIdx, tile: ctx.ref.index, err: m.err})}

	case msgKillQuery:
		return s.dropJobs(func(ctx *sampleCtx) bool { return ctx.q.id == m.qid })

	case msgDie:
		s.alive = false
		out := s.dropJobs(func(*sampleCtx) bool { return true })
		s.jobs = nil
		return out

	default:
		invariantf("%s: unexpected message %T", s.addr, m)
		return nil
	}
}

func (s *sampler) dropJobs(match func(*sampleCtx) bool) []Envelope {
	var out []Envelope
	for j, ctx := range s.jobs {
		if !match(ctx) {
			continue
		}
		if ctx.working {
			out = append(out, to(s.working, msgCancelJob{j: j}))
		} else {
			out = append(out, to(s.waiting, msgUnscheduleJob{j: j}))
		}
		delete(s.jobs, j)
	}
	return out
}
