package scheduler

// producer turns allowed production arrays into downstream requests: it asks
// the cache handler for read permission on the tiles each array depends on,
// registers the array with the builder bedroom, and launches the build once
// both have answered.
type producer struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	tracks map[QueryID]map[int]*prodArray
}

// prodArray is the mutable state of one in-flight production array.
type prodArray struct {
	q        *Query
	missing  map[int]struct{}
	refs     []tileRef
	released bool
	launched bool
}

func newProducer(l *Loop, r *Raster) *producer {
	return &producer{
		loop:   l,
		r:      r,
		addr:   rasterAddr(r.id, roleProducer),
		alive:  true,
		tracks: make(map[QueryID]map[int]*prodArray),
	}
}

func (p *producer) Address() Address { return p.addr }
func (p *producer) Alive() bool      { return p.alive }

func (p *producer) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgMakeArrays:
		return p.makeArrays(m.q, m.idxs)

	case msgYouMayRead:
		pa := p.lookup(m.qid, m.prodIdx)
		if pa == nil {
			return nil
		}
		for _, ref := range m.refs {
			if _, ok := pa.missing[ref.index]; !ok {
				invariantf("%s: read permission for tile %d not requested", p.addr, ref.index)
			}
			delete(pa.missing, ref.index)
			pa.refs = append(pa.refs, ref)
		}
		return p.maybeLaunch(m.qid, m.prodIdx, pa)

	case msgBuildReleased:
		pa := p.lookup(m.qid, m.prodIdx)
		if pa == nil {
			return nil
		}
		pa.released = true
		return p.maybeLaunch(m.qid, m.prodIdx, pa)

	case msgBuilt:
		arrays, ok := p.tracks[m.qid]
		if !ok {
			return nil
		}
		delete(arrays, m.prodIdx)
		if len(arrays) == 0 {
			delete(p.tracks, m.qid)
		}
		return []Envelope{to(rasterAddr(p.r.id, roleQueriesHandler),
			msgMadeArray{qid: m.qid, prodIdx: m.prodIdx, arr: m.arr})}

	case msgKillQuery:
		delete(p.tracks, m.qid)
		return nil

	case msgDie:
		p.alive = false
		p.tracks = nil
		return nil

	default:
		invariantf("%s: unexpected message %T", p.addr, m)
		return nil
	}
}

func (p *producer) makeArrays(q *Query, idxs []int) []Envelope {
	arrays := p.tracks[q.id]
	if arrays == nil {
		arrays = make(map[int]*prodArray)
		p.tracks[q.id] = arrays
	}
	var out []Envelope
	for _, idx := range idxs {
		pi := q.plan.prods[idx]
		pa := &prodArray{q: q, missing: make(map[int]struct{}, len(pi.tiles))}
		for _, t := range pi.tiles {
			pa.missing[t] = struct{}{}
		}
		arrays[idx] = pa
		if len(pi.tiles) > 0 {
			out = append(out, to(rasterAddr(p.r.id, roleCacheHandler),
				msgMayIRead{q: q, prodIdx: idx, tiles: pi.tiles}))
		}
		out = append(out, to(rasterAddr(p.r.id, roleBuilderBedroom),
			msgBuildWhenReady{q: q, prodIdx: idx}))
	}
	return out
}

func (p *producer) maybeLaunch(qid QueryID, prodIdx int, pa *prodArray) []Envelope {
	if pa.launched || !pa.released || len(pa.missing) > 0 {
		return nil
	}
	pa.launched = true
	return []Envelope{to(rasterAddr(p.r.id, roleBuilder),
		msgBuild{q: pa.q, prodIdx: prodIdx, refs: pa.refs})}
}

func (p *producer) lookup(qid QueryID, prodIdx int) *prodArray {
	arrays, ok := p.tracks[qid]
	if !ok {
		return nil
	}
	return arrays[prodIdx]
}
