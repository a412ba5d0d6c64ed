package scheduler

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/rasterflow/rasterflow/grid"
	"github.com/rasterflow/rasterflow/pool"
)

// Phases of one tile computation.
const (
	computeBedroom = iota // parked in the computation bedroom
	computeCollecting     // internal queries gathering upstream pixels
	computeQueued         // waiting for a compute pool slot
	computeRunning        // user function running on the pool
)

// computer dispatches tile computations. A tile first waits in the
// computation bedroom for a depending query to have output headroom; rasters
// with upstream dependencies then collect their inputs by posting internal
// queries through the scheduler, and finally the user function runs on the
// compute pool.
type computer struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	waiting Address
	working Address

	entries map[int]*computeEntry
	jobs    map[*job]int
}

type computeEntry struct {
	phase     int
	interests map[QueryID]int

	upstream map[RasterID]*grid.Array
	children map[QueryID]RasterID
	missing  int

	j *job
}

func newComputer(l *Loop, r *Raster) *computer {
	return &computer{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleComputer),
		alive:   true,
		waiting: poolAddr(l.pools.compute, roleWaitingRoom),
		working: poolAddr(l.pools.compute, roleWorkingRoom),
		entries: make(map[int]*computeEntry),
		jobs:    make(map[*job]int),
	}
}

func (c *computer) Address() Address { return c.addr }
func (c *computer) Alive() bool      { return c.alive }

// Poll is the computer's periodic entry point. Nothing is time-driven here
// today; completions and releases all arrive as messages.
func (c *computer) Poll() []Envelope { return nil }

func (c *computer) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgComputeTiles:
		return c.computeTiles(m.needs)

	case msgScheduleCompute:
		return c.scheduleCompute(m.tile)

	case msgCollected:
		e, ok := c.entries[m.key.tile]
		if !ok || e.phase != computeCollecting {
			return nil
		}
		e.upstream[m.key.upstream] = m.arr
		e.missing--
		if e.missing > 0 {
			return nil
		}
		e.children = nil
		return c.toPool(m.key.tile, e)

	case msgCollectFailed:
		e, ok := c.entries[m.key.tile]
		if !ok || e.phase != computeCollecting {
			return nil
		}
		out := c.cancelChildren(e)
		delete(c.entries, m.key.tile)
		err := &ComputeError{Raster: c.r.id, Tile: m.key.tile,
			Err: errors.Wrapf(m.err, "collecting upstream raster %d", m.key.upstream)}
		return append(out, to(rasterAddr(c.r.id, roleCacheHandler),
			msgComputeFailed{tile: m.key.tile, err: err}))

	case msgJobAdmitted:
		return c.jobAdmitted(m.j)

	case msgJobFinished:
		return c.jobFinished(m)

	case msgAbandonTile:
		return c.abandon(m.tile)

	case msgKillQuery:
		for _, e := range c.entries {
			delete(e.interests, m.qid)
		}
		return nil

	case msgDie:
		c.alive = false
		var out []Envelope
		for t := range c.entries {
			out = append(out, c.abandon(t)...)
		}
		return out

	default:
		invariantf("%s: unexpected message %T", c.addr, m)
		return nil
	}
}

func (c *computer) computeTiles(needs []computeNeed) []Envelope {
	var out []Envelope
	for _, need := range needs {
		e, ok := c.entries[need.tile]
		if !ok {
			e = &computeEntry{phase: computeBedroom, interests: map[QueryID]int{need.qid: need.prodIdx}}
			c.entries[need.tile] = e
			out = append(out, to(rasterAddr(c.r.id, roleComputationBedroom),
				msgScheduleComputeWhenNeeded{tile: need.tile, qid: need.qid, minIdx: need.prodIdx}))
			continue
		}
		if cur, ok := e.interests[need.qid]; !ok || need.prodIdx < cur {
			e.interests[need.qid] = need.prodIdx
		}
		if e.phase == computeBedroom {
			out = append(out, to(rasterAddr(c.r.id, roleComputationBedroom),
				msgUpdateComputeInterest{tile: need.tile, qid: need.qid, minIdx: need.prodIdx}))
		}
	}
	return out
}

func (c *computer) scheduleCompute(t int) []Envelope {
	e, ok := c.entries[t]
	if !ok || e.phase != computeBedroom {
		return nil
	}
	if len(c.r.upstream) == 0 {
		return c.toPool(t, e)
	}

	// Collect upstream pixels over the tile's footprint, one internal query
	// per upstream raster, delivered straight back to this actor.
	e.phase = computeCollecting
	e.upstream = make(map[RasterID]*grid.Array, len(c.r.upstream))
	e.children = make(map[QueryID]RasterID, len(c.r.upstream))
	e.missing = len(c.r.upstream)
	tile := c.r.tiles[t]
	out := make([]Envelope, 0, len(c.r.upstream))
	for _, up := range c.r.upstream {
		plan, err := newQueryPlan(up, QueryOptions{
			Footprint:     tile,
			QueueCapacity: 1,
			TileSize:      maxInt(tile.W, tile.H),
		})
		if err != nil {
			invariantf("%s: internal query plan: %v", c.addr, err)
		}
		q := newInternalQuery(c.loop, up, plan, collectSink{
			to:  c.addr,
			key: collectKey{tile: t, upstream: up.id},
		})
		e.children[q.id] = up.id
		out = append(out, to(addrRastersHandler, msgPostQuery{q: q}))
	}
	return out
}

func (c *computer) toPool(t int, e *computeEntry) []Envelope {
	e.phase = computeQueued
	j := &job{sender: c.addr, rank: rankWork}
	e.j = j
	c.jobs[j] = t
	return []Envelope{to(c.waiting, msgScheduleJob{j: j})}
}

func (c *computer) jobAdmitted(j *job) []Envelope {
	t, ok := c.jobs[j]
	if !ok {
		return []Envelope{to(c.waiting, msgSalvageToken{})}
	}
	e := c.entries[t]
	e.phase = computeRunning

	fn := c.r.compute
	tile := c.r.tiles[t]
	channels := c.r.channels
	upstream := e.upstream
	j.run = func() (interface{}, error) {
		parts, err := fn(tile, upstream)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			return nil, errors.New("compute function returned no partial arrays")
		}
		for _, part := range parts {
			if part == nil || part.Channels != channels {
				return nil, errors.Errorf("partial array channel count does not match raster (%d)", channels)
			}
		}
		return parts, nil
	}
	return []Envelope{to(c.working, msgLaunchJob{j: j})}
}

func (c *computer) jobFinished(m msgJobFinished) []Envelope {
	t, ok := c.jobs[m.j]
	if !ok {
		return nil
	}
	delete(c.jobs, m.j)
	if _, ok := c.entries[t]; !ok {
		return nil
	}
	delete(c.entries, t)

	if m.err != nil {
		if m.err == pool.ErrCanceled {
			return nil
		}
		return []Envelope{to(rasterAddr(c.r.id, roleCacheHandler),
			msgComputeFailed{tile: t, err: &ComputeError{Raster: c.r.id, Tile: t, Err: m.err}})}
	}
	parts := m.v.([]*grid.Array)
	c.loop.metrics.TilesComputed.Inc()
	out := make([]Envelope, 0, len(parts))
	for i, part := range parts {
		out = append(out, to(rasterAddr(c.r.id, roleAccumulator),
			msgComputedPartial{tile: t, part: part, idx: i, total: len(parts)}))
	}
	return out
}

// abandon drops a tile computation whose last subscriber went away,
// whichever phase it is in.
func (c *computer) abandon(t int) []Envelope {
	e, ok := c.entries[t]
	if !ok {
		return nil
	}
	delete(c.entries, t)
	switch e.phase {
	case computeBedroom:
		return []Envelope{to(rasterAddr(c.r.id, roleComputationBedroom),
			msgUnscheduleCompute{tile: t})}
	case computeCollecting:
		return c.cancelChildren(e)
	case computeQueued:
		delete(c.jobs, e.j)
		return []Envelope{to(c.waiting, msgUnscheduleJob{j: e.j})}
	case computeRunning:
		delete(c.jobs, e.j)
		return []Envelope{to(c.working, msgCancelJob{j: e.j})}
	}
	return nil
}

func (c *computer) cancelChildren(e *computeEntry) []Envelope {
	qids := make([]QueryID, 0, len(e.children))
	for qid := range e.children {
		qids = append(qids, qid)
	}
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })
	out := make([]Envelope, 0, len(qids))
	for _, qid := range qids {
		out = append(out, to(addrRastersHandler, msgCancelQuery{qid: qid}))
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
