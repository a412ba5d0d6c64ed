package scheduler

import (
	"sort"

	"go.uber.org/zap"
)

// rastersHandler owns the lifecycle of registered rasters: it spawns each
// raster's actor set, routes external inputs to the right raster, and tears
// actor sets down once every query of a closing raster has terminated.
type rastersHandler struct {
	loop  *Loop
	alive bool

	rasters    map[RasterID]*rasterEntry
	queryIndex map[QueryID]RasterID

	closing     bool
	closingDone []chan struct{}
}

type rasterEntry struct {
	r       *Raster
	actors  []Address // queries handler first: its kill fanout runs before other actors die
	queries map[QueryID]struct{}
	closing bool
}

func newRastersHandler(l *Loop) *rastersHandler {
	return &rastersHandler{
		loop:       l,
		alive:      true,
		rasters:    make(map[RasterID]*rasterEntry),
		queryIndex: make(map[QueryID]RasterID),
	}
}

func (h *rastersHandler) Address() Address { return addrRastersHandler }
func (h *rastersHandler) Alive() bool      { return h.alive }

// Poll is the handler's periodic entry point. Registrations and closes
// arrive through the mailbox, which the loop drains every tick, so there is
// nothing left to detect here.
func (h *rastersHandler) Poll() []Envelope { return nil }

func (h *rastersHandler) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgRegisterRaster:
		return h.registerRaster(m.r)

	case msgPostQuery:
		return h.postQuery(m.q)

	case msgCancelQuery:
		rid, ok := h.queryIndex[m.qid]
		if !ok {
			return nil
		}
		return []Envelope{to(rasterAddr(rid, roleQueriesHandler), m)}

	case msgQueryTerminated:
		if _, ok := h.queryIndex[m.qid]; ok {
			delete(h.queryIndex, m.qid)
			h.loop.metrics.ActiveQueries.Dec()
		}
		entry, ok := h.rasters[m.raster]
		if !ok {
			return nil
		}
		delete(entry.queries, m.qid)
		if entry.closing && len(entry.queries) == 0 {
			return h.teardown(m.raster, entry)
		}
		return nil

	case msgCloseRaster:
		entry, ok := h.rasters[m.id]
		if !ok {
			return nil
		}
		return h.closeRaster(m.id, entry)

	case msgCloseDataset:
		h.closing = true
		h.closingDone = append(h.closingDone, m.done)
		var out []Envelope
		for _, id := range h.sortedRasterIDs() {
			out = append(out, h.closeRaster(id, h.rasters[id])...)
		}
		h.maybeFinishClose()
		return out

	default:
		invariantf("rasters handler: unexpected message %T", m)
		return nil
	}
}

func (h *rastersHandler) registerRaster(r *Raster) []Envelope {
	if h.closing {
		h.loop.log.Warn("Ignoring raster registered during close", zap.Uint64("raster", uint64(r.id)))
		return nil
	}
	if _, ok := h.rasters[r.id]; ok {
		invariantf("raster %d registered twice", r.id)
	}

	actors := []Actor{
		newQueriesHandler(h.loop, r),
		newProducer(h.loop, r),
		newCacheHandler(h.loop, r),
		newFileHasher(h.loop, r),
		newComputer(h.loop, r),
		newComputationBedroom(r),
		newAccumulator(r),
		newMerger(h.loop, r),
		newWriter(h.loop, r),
		newBuilderBedroom(r),
		newBuilder(h.loop, r),
		newSampler(h.loop, r),
		newResampler(h.loop, r),
	}
	entry := &rasterEntry{r: r, queries: make(map[QueryID]struct{})}
	out := make([]Envelope, 0, len(actors))
	for _, a := range actors {
		entry.actors = append(entry.actors, a.Address())
		out = append(out, spawn(a))
	}
	h.rasters[r.id] = entry
	h.loop.metrics.ActiveRasters.Inc()
	r.log.Info("Raster registered",
		zap.Int("tiles", len(r.tiles)),
		zap.Bool("recipe", r.recipe()),
		zap.String("cache_dir", r.cacheDir))
	return out
}

func (h *rastersHandler) postQuery(q *Query) []Envelope {
	entry, ok := h.rasters[q.raster.id]
	if !ok || entry.closing || h.closing {
		return h.rejectQuery(q, ErrRasterClosed)
	}
	entry.queries[q.id] = struct{}{}
	h.queryIndex[q.id] = q.raster.id
	h.loop.metrics.QueriesPosted.Inc()
	h.loop.metrics.ActiveQueries.Inc()
	return []Envelope{to(rasterAddr(q.raster.id, roleQueriesHandler), msgNewQuery{q: q})}
}

// rejectQuery terminates a query that never reached its queries handler.
func (h *rastersHandler) rejectQuery(q *Query, err error) []Envelope {
	if q.sink != nil {
		return []Envelope{droppable(q.sink.to, msgCollectFailed{key: q.sink.key, err: err})}
	}
	q.errc <- err
	close(q.out)
	return nil
}

func (h *rastersHandler) closeRaster(id RasterID, entry *rasterEntry) []Envelope {
	if entry.closing {
		return nil
	}
	entry.closing = true
	if len(entry.queries) == 0 {
		return h.teardown(id, entry)
	}
	qids := make([]QueryID, 0, len(entry.queries))
	for qid := range entry.queries {
		qids = append(qids, qid)
	}
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })
	out := make([]Envelope, 0, len(qids))
	for _, qid := range qids {
		out = append(out, to(rasterAddr(id, roleQueriesHandler),
			msgCancelQuery{qid: qid, reason: ErrRasterClosed}))
	}
	return out
}

func (h *rastersHandler) teardown(id RasterID, entry *rasterEntry) []Envelope {
	out := make([]Envelope, 0, len(entry.actors))
	for _, addr := range entry.actors {
		out = append(out, to(addr, msgDie{}))
	}
	delete(h.rasters, id)
	h.loop.metrics.ActiveRasters.Dec()
	entry.r.log.Info("Raster closed")
	h.maybeFinishClose()
	return out
}

func (h *rastersHandler) maybeFinishClose() {
	if !h.closing || len(h.rasters) > 0 {
		return
	}
	for _, done := range h.closingDone {
		close(done)
	}
	h.closingDone = nil
}

func (h *rastersHandler) sortedRasterIDs() []RasterID {
	ids := make([]RasterID, 0, len(h.rasters))
	for id := range h.rasters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
