package scheduler

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/pool"
)

// writer publishes merged tiles. Disk-backed rasters go through the I/O
// pool and the atomic temp-write-fsync-rename path; memory-cached rasters
// keep the array and skip the pool entirely.
type writer struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	waiting Address
	working Address
	jobs    map[*job]*writeCtx
}

type writeCtx struct {
	tile    int
	size    int
	working bool
}

func newWriter(l *Loop, r *Raster) *writer {
	return &writer{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleWriter),
		alive:   true,
		waiting: poolAddr(l.pools.io, roleWaitingRoom),
		working: poolAddr(l.pools.io, roleWorkingRoom),
		jobs:    make(map[*job]*writeCtx),
	}
}

func (w *writer) Address() Address { return w.addr }
func (w *writer) Alive() bool      { return w.alive }

func (w *writer) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgWriteTile:
		if w.r.memoryCached() {
			return []Envelope{to(rasterAddr(w.r.id, roleCacheHandler),
				msgWroteTile{tile: m.tile, arr: m.arr})}
		}
		data := cache.Encode(m.arr, w.r.fingerprints[m.tile])
		j := &job{sender: w.addr, rank: rankWork}
		w.jobs[j] = &writeCtx{tile: m.tile, size: len(data)}
		dir := w.r.cacheDir
		name := cache.FileName(m.tile, w.r.fingerprints[m.tile])
		j.run = func() (interface{}, error) {
			path, err := cache.WriteAtomic(dir, name, data)
			return path, err
		}
		return []Envelope{to(w.waiting, msgScheduleJob{j: j})}

	case msgJobAdmitted:
		ctx, ok := w.jobs[m.j]
		if !ok {
			return []Envelope{to(w.waiting, msgSalvageToken{})}
		}
		ctx.working = true
		return []Envelope{to(w.working, msgLaunchJob{j: m.j})}

	case msgJobFinished:
		ctx, ok := w.jobs[m.j]
		if !ok {
			return nil
		}
		delete(w.jobs, m.j)
		if m.err != nil {
			if m.err == pool.ErrCanceled {
				return nil
			}
			w.r.log.Error("Cache tile write failed",
				zap.Int("tile", ctx.tile), zap.Error(m.err))
			return []Envelope{to(rasterAddr(w.r.id, roleCacheHandler),
				msgWroteFailed{tile: ctx.tile, err: m.err})}
		}
		path := m.v.(string)
		w.r.log.Debug("Wrote cache tile",
			zap.Int("tile", ctx.tile),
			zap.String("size", humanize.Bytes(uint64(ctx.size))),
			zap.String("path", path))
		return []Envelope{to(rasterAddr(w.r.id, roleCacheHandler),
			msgWroteTile{tile: ctx.tile, path: path})}

	case msgDie:
		w.alive = false
		var out []Envelope
		for j, ctx := range w.jobs {
			if ctx.working {
				out = append(out, to(w.working, msgCancelJob{j: j}))
			} else {
				out = append(out, to(w.waiting, msgUnscheduleJob{j: j}))
			}
		}
		w.jobs = nil
		return out

	default:
		invariantf("%s: unexpected message %T", w.addr, m)
		return nil
	}
}
