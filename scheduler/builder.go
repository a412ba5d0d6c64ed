package scheduler

import (
	"github.com/rasterflow/rasterflow/grid"
	"github.com/rasterflow/rasterflow/pool"
)

// builder assembles one production array: it has every dependent tile read
// into a shared sample array, then either forwards the sample directly (the
// query grid matches the raster grid) or sends it to the resampler.
type builder struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	builds map[buildKey]*buildState
}

type buildKey struct {
	qid     QueryID
	prodIdx int
}

type buildState struct {
	q       *Query
	sample  *grid.Array
	missing map[int]struct{}
	refs    map[int]tileRef
	fails   int
}

func newBuilder(l *Loop, r *Raster) *builder {
	return &builder{
		loop:   l,
		r:      r,
		addr:   rasterAddr(r.id, roleBuilder),
		alive:  true,
		builds: make(map[buildKey]*buildState),
	}
}

func (b *builder) Address() Address { return b.addr }
func (b *builder) Alive() bool      { return b.alive }

func (b *builder) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgBuild:
		return b.build(m)

	case msgSampled:
		return b.sampled(m)

	case msgResampled:
		key := buildKey{qid: m.q.id, prodIdx: m.prodIdx}
		if _, ok := b.builds[key]; !ok {
			return nil
		}
		delete(b.builds, key)
		if m.err != nil {
			if m.err == pool.ErrCanceled {
				return nil
			}
			return []Envelope{to(rasterAddr(b.r.id, roleQueriesHandler),
				msgQueryFailed{qid: m.q.id, err: m.err})}
		}
		return []Envelope{to(rasterAddr(b.r.id, roleProducer),
			msgBuilt{qid: m.q.id, prodIdx: m.prodIdx, arr: m.arr})}

	case msgKillQuery:
		for key := range b.builds {
			if key.qid == m.qid {
				delete(b.builds, key)
			}
		}
		return nil

	case msgDie:
		b.alive = false
		b.builds = nil
		return nil

	default:
		invariantf("%s: unexpected message %T", b.addr, m)
		return nil
	}
}

func (b *builder) build(m msgBuild) []Envelope {
	pi := m.q.plan.prods[m.prodIdx]

	if !pi.shareArea {
		// Entirely outside the raster: a constant fill array, no sampling.
		arr := grid.NewArray(pi.fp, len(m.q.plan.channels))
		arr.Fill(m.q.plan.fill)
		return []Envelope{to(rasterAddr(b.r.id, roleProducer),
			msgBuilt{qid: m.q.id, prodIdx: m.prodIdx, arr: arr})}
	}

	bs := &buildState{
		q:       m.q,
		sample:  grid.NewArray(pi.sampleFP, len(m.q.plan.channels)),
		missing: make(map[int]struct{}),
		refs:    make(map[int]tileRef),
	}
	bs.sample.Fill(m.q.plan.fill)
	b.builds[buildKey{qid: m.q.id, prodIdx: m.prodIdx}] = bs

	refs := m.refs
	if !b.r.recipe() {
		// Memory raster: one direct read from the backing array.
		refs = []tileRef{{index: -1, fp: b.r.fp, arr: b.r.source}}
	}
	out := make([]Envelope, 0, len(refs))
	for _, ref := range refs {
		bs.missing[ref.index] = struct{}{}
		bs.refs[ref.index] = ref
		out = append(out, to(rasterAddr(b.r.id, roleSampler),
			msgSampleTile{q: m.q, prodIdx: m.prodIdx, ref: ref, dst: bs.sample}))
	}
	return out
}

func (b *builder) sampled(m msgSampled) []Envelope {
	key := buildKey{qid: m.q.id, prodIdx: m.prodIdx}
	bs, ok := b.builds[key]
	if !ok {
		return nil
	}

	if m.err != nil {
		if m.err == pool.ErrCanceled {
			return nil
		}
		bs.fails++
		if bs.fails < b.loop.retryCap {
			// Reads retry in place; the tile stays valid.
			return []Envelope{to(rasterAddr(b.r.id, roleSampler),
				msgSampleTile{q: m.q, prodIdx: m.prodIdx, ref: bs.refs[m.tile], dst: bs.sample})}
		}
		delete(b.builds, key)
		return []Envelope{to(rasterAddr(b.r.id, roleQueriesHandler),
			msgQueryFailed{qid: m.q.id, err: &TileIOError{Raster: b.r.id, Tile: m.tile, Op: "reading", Err: m.err}})}
	}

	delete(bs.missing, m.tile)
	if len(bs.missing) > 0 {
		return nil
	}

	pi := m.q.plan.prods[m.prodIdx]
	if pi.direct {
		delete(b.builds, key)
		return []Envelope{to(rasterAddr(b.r.id, roleProducer),
			msgBuilt{qid: m.q.id, prodIdx: m.prodIdx, arr: bs.sample})}
	}
	return []Envelope{to(rasterAddr(b.r.id, roleResampler),
		msgResample{q: m.q, prodIdx: m.prodIdx, sample: bs.sample})}
}
