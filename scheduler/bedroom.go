package scheduler

import "sort"

// The bedrooms are where work waits for output-queue headroom. They do not
// decide headroom themselves: the queries handler accounts for it and
// signals queue movement; the bedrooms only hold work until the signalled
// headroom covers it. Centralizing the "may this start now?" policy in two
// actors keeps it out of the producers and unit-testable.

// bedroomQuery is a bedroom's view of one query's queue.
type bedroomQuery struct {
	pulled   int // arrays the consumer has taken off the queue
	capacity int
}

// computationBedroom delays tile computations until a query that depends on
// the tile has headroom for a production array that needs it: the tile's
// earliest dependent delivery index must fall inside the query's open
// delivery window.
type computationBedroom struct {
	r     *Raster
	addr  Address
	alive bool

	queries map[QueryID]*bedroomQuery
	entries map[int]map[QueryID]int // tile → interested query → min delivery index
}

func newComputationBedroom(r *Raster) *computationBedroom {
	return &computationBedroom{
		r:       r,
		addr:    rasterAddr(r.id, roleComputationBedroom),
		alive:   true,
		queries: make(map[QueryID]*bedroomQuery),
		entries: make(map[int]map[QueryID]int),
	}
}

func (b *computationBedroom) Address() Address { return b.addr }
func (b *computationBedroom) Alive() bool      { return b.alive }

func (b *computationBedroom) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgScheduleComputeWhenNeeded:
		if b.releasable(m.qid, m.minIdx) {
			return b.release(m.tile)
		}
		b.addInterest(m.tile, m.qid, m.minIdx)
		return nil

	case msgUpdateComputeInterest:
		interests, ok := b.entries[m.tile]
		if !ok {
			return nil // already released
		}
		if cur, ok := interests[m.qid]; !ok || m.minIdx < cur {
			interests[m.qid] = m.minIdx
		}
		if b.releasable(m.qid, interests[m.qid]) {
			return b.release(m.tile)
		}
		return nil

	case msgOutputQueueUpdate:
		bq, ok := b.queries[m.qid]
		if !ok {
			bq = &bedroomQuery{}
			b.queries[m.qid] = bq
		}
		bq.pulled = m.produced - m.queueLen
		bq.capacity = m.capacity
		return b.releaseReady()

	case msgUnscheduleCompute:
		delete(b.entries, m.tile)
		return nil

	case msgKillQuery:
		delete(b.queries, m.qid)
		for _, interests := range b.entries {
			delete(interests, m.qid)
		}
		return nil

	case msgDie:
		b.alive = false
		b.entries = nil
		b.queries = nil
		return nil

	default:
		invariantf("%s: unexpected message %T", b.addr, m)
		return nil
	}
}

// releasable reports whether the query's open delivery window reaches the
// given delivery index.
func (b *computationBedroom) releasable(qid QueryID, minIdx int) bool {
	bq, ok := b.queries[qid]
	if !ok {
		return false
	}
	return minIdx < bq.pulled+bq.capacity
}

func (b *computationBedroom) release(tile int) []Envelope {
	delete(b.entries, tile)
	return []Envelope{to(rasterAddr(b.r.id, roleComputer), msgScheduleCompute{tile: tile})}
}

// releaseReady releases every parked tile some interested query can now
// cover, in tile order.
func (b *computationBedroom) releaseReady() []Envelope {
	var tiles []int
	for tile, interests := range b.entries {
		for qid, minIdx := range interests {
			if b.releasable(qid, minIdx) {
				tiles = append(tiles, tile)
				break
			}
		}
	}
	sort.Ints(tiles)
	var out []Envelope
	for _, tile := range tiles {
		out = append(out, b.release(tile)...)
	}
	return out
}

func (b *computationBedroom) addInterest(tile int, qid QueryID, minIdx int) {
	interests, ok := b.entries[tile]
	if !ok {
		interests = make(map[QueryID]int)
		b.entries[tile] = interests
	}
	if cur, ok := interests[qid]; !ok || minIdx < cur {
		interests[qid] = minIdx
	}
}

// builderBedroom delays production-array builds until the owning query's
// output queue has room. Arrays arrive in delivery order and are released in
// delivery order; at any time the released-but-undelivered count stays
// within the query's open window.
type builderBedroom struct {
	r     *Raster
	addr  Address
	alive bool

	queries map[QueryID]*buildQueue
}

type buildQueue struct {
	bedroomQuery
	released int
	pending  []pendingBuild
}

type pendingBuild struct {
	q       *Query
	prodIdx int
}

func newBuilderBedroom(r *Raster) *builderBedroom {
	return &builderBedroom{
		r:       r,
		addr:    rasterAddr(r.id, roleBuilderBedroom),
		alive:   true,
		queries: make(map[QueryID]*buildQueue),
	}
}

func (b *builderBedroom) Address() Address { return b.addr }
func (b *builderBedroom) Alive() bool      { return b.alive }

func (b *builderBedroom) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgBuildWhenReady:
		bq, ok := b.queries[m.q.id]
		if !ok {
			bq = &buildQueue{}
			bq.capacity = m.q.plan.capacity
			b.queries[m.q.id] = bq
		}
		bq.pending = append(bq.pending, pendingBuild{q: m.q, prodIdx: m.prodIdx})
		return b.flush(m.q.id, bq)

	case msgOutputQueueUpdate:
		bq, ok := b.queries[m.qid]
		if !ok {
			bq = &buildQueue{}
			b.queries[m.qid] = bq
		}
		bq.pulled = m.produced - m.queueLen
		bq.capacity = m.capacity
		return b.flush(m.qid, bq)

	case msgKillQuery:
		delete(b.queries, m.qid)
		return nil

	case msgDie:
		b.alive = false
		b.queries = nil
		return nil

	default:
		invariantf("%s: unexpected message %T", b.addr, m)
		return nil
	}
}

func (b *builderBedroom) flush(qid QueryID, bq *buildQueue) []Envelope {
	var out []Envelope
	for len(bq.pending) > 0 && bq.released < bq.pulled+bq.capacity {
		next := bq.pending[0]
		bq.pending = bq.pending[1:]
		bq.released++
		out = append(out, to(rasterAddr(b.r.id, roleProducer),
			msgBuildReleased{qid: qid, prodIdx: next.prodIdx}))
	}
	return out
}
