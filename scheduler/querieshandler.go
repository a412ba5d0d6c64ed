package scheduler

import (
	"go.uber.org/zap"
)

// queriesHandler tracks a raster's queries. Every decision to start new work
// passes through its headroom accounting: the producer only ever receives as
// many production arrays as the output queue has room for, and the bedrooms
// are told about queue movement so they can release the work they hold.
type queriesHandler struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	queries map[QueryID]*Query
	order   []QueryID // insertion order, for deterministic polling
}

func newQueriesHandler(l *Loop, r *Raster) *queriesHandler {
	return &queriesHandler{
		loop:    l,
		r:       r,
		addr:    rasterAddr(r.id, roleQueriesHandler),
		alive:   true,
		queries: make(map[QueryID]*Query),
	}
}

func (h *queriesHandler) Address() Address { return h.addr }
func (h *queriesHandler) Alive() bool      { return h.alive }

// Poll watches output queues drain. A consumer pulling arrays is invisible
// to the loop until observed here; any change fans out headroom updates.
func (h *queriesHandler) Poll() []Envelope {
	var out []Envelope
	for _, qid := range h.order {
		q, ok := h.queries[qid]
		if !ok {
			continue
		}
		if q.queueLen() != q.lastQueueLen {
			out = append(out, h.queueMoved(q)...)
		}
	}
	return out
}

func (h *queriesHandler) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgNewQuery:
		q := m.q
		h.queries[q.id] = q
		h.order = append(h.order, q.id)
		q.raster.log.Debug("Query posted",
			zap.Uint64("query", uint64(q.id)),
			zap.Int("arrays", len(q.plan.prods)),
			zap.Int("capacity", q.plan.capacity))
		// The bedrooms learn the query's capacity from the first queue
		// update, which therefore precedes any work reaching them.
		return h.queueMoved(q)

	case msgMadeArray:
		return h.madeArray(m)

	case msgCancelQuery:
		q, ok := h.queries[m.qid]
		if !ok {
			return nil
		}
		reason := m.reason
		if reason == nil {
			reason = ErrQueryCanceled
		}
		h.loop.metrics.QueriesCanceled.Inc()
		h.r.log.Warn("Dropping canceled query",
			zap.Uint64("query", uint64(q.id)),
			zap.Int("produced", q.produced),
			zap.Int("total", len(q.plan.prods)))
		return h.terminate(q, reason)

	case msgQueryFailed:
		q, ok := h.queries[m.qid]
		if !ok {
			return nil
		}
		h.loop.metrics.QueriesFailed.Inc()
		h.r.log.Error("Query failed",
			zap.Uint64("query", uint64(q.id)),
			zap.Error(m.err))
		return h.terminate(q, m.err)

	case msgDie:
		h.alive = false
		var out []Envelope
		for _, qid := range append([]QueryID(nil), h.order...) {
			if q, ok := h.queries[qid]; ok {
				out = append(out, h.terminate(q, ErrRasterClosed)...)
			}
		}
		return out

	default:
		invariantf("%s: unexpected message %T", h.addr, m)
		return nil
	}
}

// allow hands the producer every production array the queue has headroom
// for: capacity minus produced-and-undelivered minus in-flight. It reads the
// same queue-length snapshot the bedrooms were last told about, so the
// bedrooms' release window always covers the indices handed out here.
func (h *queriesHandler) allow(q *Query) []Envelope {
	undelivered := q.lastQueueLen + len(q.ready)
	inFlight := int(q.inFlight.GetCardinality())
	allowed := q.plan.capacity - undelivered - inFlight

	var idxs []int
	for allowed > 0 && q.nextIdx < len(q.plan.prods) {
		idxs = append(idxs, q.nextIdx)
		q.inFlight.Add(uint32(q.nextIdx))
		q.nextIdx++
		allowed--
	}
	if len(idxs) == 0 {
		return nil
	}
	return []Envelope{to(rasterAddr(h.r.id, roleProducer), msgMakeArrays{q: q, idxs: idxs})}
}

func (h *queriesHandler) madeArray(m msgMadeArray) []Envelope {
	q, ok := h.queries[m.qid]
	if !ok {
		return nil
	}
	if m.prodIdx < q.produced {
		invariantf("query %d: array %d delivered twice", q.id, m.prodIdx)
	}
	if _, dup := q.ready[m.prodIdx]; dup {
		invariantf("query %d: array %d built twice", q.id, m.prodIdx)
	}
	q.inFlight.Remove(uint32(m.prodIdx))
	q.ready[m.prodIdx] = m.arr

	// Deliver in order only. Work is only started when a queue slot exists,
	// so the sends below cannot block.
	pushed := false
	var out []Envelope
	for {
		arr, ok := q.ready[q.produced]
		if !ok {
			break
		}
		delete(q.ready, q.produced)
		if q.sink != nil {
			out = append(out, droppable(q.sink.to, msgCollected{key: q.sink.key, arr: arr}))
		} else {
			select {
			case q.out <- arr:
			default:
				invariantf("query %d: output queue overflow", q.id)
			}
		}
		q.produced++
		pushed = true
		h.loop.metrics.ArraysDelivered.Inc()
	}
	if !pushed {
		return out
	}
	if q.produced == len(q.plan.prods) {
		return append(out, h.finish(q)...)
	}
	return append(out, h.queueMoved(q)...)
}

// queueMoved refreshes the handler's view of the output queue and fans the
// new headroom out to the bedrooms and the producer allowance.
func (h *queriesHandler) queueMoved(q *Query) []Envelope {
	q.lastQueueLen = q.queueLen()
	update := msgOutputQueueUpdate{
		qid:      q.id,
		produced: q.produced,
		queueLen: q.lastQueueLen,
		capacity: q.plan.capacity,
	}
	out := []Envelope{
		to(rasterAddr(h.r.id, roleComputationBedroom), update),
		to(rasterAddr(h.r.id, roleBuilderBedroom), update),
	}
	return append(out, h.allow(q)...)
}

// finish completes a query normally.
func (h *queriesHandler) finish(q *Query) []Envelope {
	if q.sink == nil {
		close(q.out)
	}
	h.forget(q)
	q.raster.log.Debug("Query complete", zap.Uint64("query", uint64(q.id)))
	out := h.killFanout(q.id)
	return append(out, to(addrRastersHandler, msgQueryTerminated{raster: h.r.id, qid: q.id}))
}

// terminate kills a query: the terminal error is made visible to the
// consumer, then every actor holding state for the query drops it.
func (h *queriesHandler) terminate(q *Query, err error) []Envelope {
	if q.sink != nil {
		h.forget(q)
		out := h.killFanout(q.id)
		out = append(out, droppable(q.sink.to, msgCollectFailed{key: q.sink.key, err: err}))
		return append(out, to(addrRastersHandler, msgQueryTerminated{raster: h.r.id, qid: q.id}))
	}
	if !q.failed {
		q.failed = true
		q.errc <- err
		close(q.out)
	}
	h.forget(q)
	out := h.killFanout(q.id)
	return append(out, to(addrRastersHandler, msgQueryTerminated{raster: h.r.id, qid: q.id}))
}

func (h *queriesHandler) forget(q *Query) {
	delete(h.queries, q.id)
	for i, qid := range h.order {
		if qid == q.id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// killFanout tells every per-raster actor to drop state keyed to the query.
// The envelopes are delivered depth-first, so by the time any later message
// is processed the query is gone everywhere.
func (h *queriesHandler) killFanout(qid QueryID) []Envelope {
	kill := msgKillQuery{qid: qid}
	return []Envelope{
		to(rasterAddr(h.r.id, roleProducer), kill),
		to(rasterAddr(h.r.id, roleCacheHandler), kill),
		to(rasterAddr(h.r.id, roleComputer), kill),
		to(rasterAddr(h.r.id, roleComputationBedroom), kill),
		to(rasterAddr(h.r.id, roleBuilderBedroom), kill),
		to(rasterAddr(h.r.id, roleBuilder), kill),
		to(rasterAddr(h.r.id, roleSampler), kill),
		to(rasterAddr(h.r.id, roleResampler), kill),
	}
}
