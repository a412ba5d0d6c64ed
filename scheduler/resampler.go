package scheduler

import (
	"github.com/rasterflow/rasterflow/grid"
	"github.com/rasterflow/rasterflow/pool"
)

// resampler remaps sample buffers onto query grids on the resample pool,
// nearest neighbour. This and the user compute function are the only
// CPU-heavy array work in the pipeline.
type resampler struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	waiting Address
	working Address
	jobs    map[*job]*resampleCtx
}

type resampleCtx struct {
	q       *Query
	prodIdx int
	working bool
}

func newResampler(l *Loop, r *Raster) *resampler {
	return &resampler{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleResampler),
		alive:   true,
		waiting: poolAddr(l.pools.resample, roleWaitingRoom),
		working: poolAddr(l.pools.resample, roleWorkingRoom),
		jobs:    make(map[*job]*resampleCtx),
	}
}

func (s *resampler) Address() Address { return s.addr }
func (s *resampler) Alive() bool      { return s.alive }

func (s *resampler) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgResample:
		j := &job{sender: s.addr, rank: rankWork, qid: m.q.id}
		s.jobs[j] = &resampleCtx{q: m.q, prodIdx: m.prodIdx}
		fp := m.q.plan.prods[m.prodIdx].fp
		channels := len(m.q.plan.channels)
		fill := m.q.plan.fill
		sample := m.sample
		j.run = func() (interface{}, error) {
			arr := grid.NewArray(fp, channels)
			arr.Fill(fill)
			grid.Remap(arr, sample, nil)
			return arr, nil
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
		var arr *grid.Array
		if m.err == nil {
			arr = m.v.(*grid.Array)
		}
		return []Envelope{to(rasterAddr(s.r.id, roleBuilder),
			msgResampled{q: ctx.q, prodIdx: ctx.prodIdx, arr: arr, err: m.err})}

	case msgKillQuery:
		var out []Envelope
		for j, ctx := range s.jobs {
			if ctx.q.id != m.qid {
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

	case msgDie:
		s.alive = false
		var out []Envelope
		for j, ctx := range s.jobs {
			if ctx.working {
				out = append(out, to(s.working, msgCancelJob{j: j}))
			} else {
				out = append(out, to(s.waiting, msgUnscheduleJob{j: j}))
			}
		}
		s.jobs = nil
		return out

	default:
		invariantf("%s: unexpected message %T", s.addr, m)
		return nil
	}
}
