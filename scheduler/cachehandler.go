package scheduler

import (
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/grid"
)

// tileState is the per-tile state machine:
//
//	unknown → checking → {valid, absent}
//	absent  → computing → merging → writing → valid
type tileState uint8

const (
	tileUnknown tileState = iota
	tileAbsent
	tileChecking
	tileComputing
	tileMerging
	tileWriting
	tileValid
)

type subKey struct {
	qid     QueryID
	prodIdx int
}

type tileInfo struct {
	state tileState
	path  string
	mem   *grid.Array
	fails int
	subs  map[subKey]struct{}
}

// cacheHandler is the per-raster authority on tile state. Readers ask it for
// permission, it decides per tile between replying immediately, validating
// an existing file, triggering a computation, or parking the reader with the
// tile's subscribers. Only the first request for an absent tile triggers a
// computation; that is what keeps concurrent builds of one tile impossible.
type cacheHandler struct {
	loop  *Loop
	r     *Raster
	addr  Address
	alive bool

	tiles  []tileInfo
	primed bool
}

func newCacheHandler(l *Loop, r *Raster) *cacheHandler {
	h := &cacheHandler{
		loop:  l,
		r:     r,
		addr:  rasterAddr(r.id, roleCacheHandler),
		alive: true,
		tiles: make([]tileInfo, len(r.tiles)),
	}
	return h
}

func (h *cacheHandler) Address() Address { return h.addr }
func (h *cacheHandler) Alive() bool      { return h.alive }

func (h *cacheHandler) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgMayIRead:
		return h.mayIRead(m)

	case msgTileStatus:
		return h.tileStatus(m)

	case msgTileMerging:
		h.transition(m.tile, tileComputing, tileMerging)
		return nil

	case msgTileWriting:
		h.transition(m.tile, tileMerging, tileWriting)
		return nil

	case msgWroteTile:
		return h.wroteTile(m)

	case msgWroteFailed:
		return h.wroteFailed(m)

	case msgComputeFailed:
		h.loop.metrics.ComputeFailures.Inc()
		return h.terminal(m.tile, m.err)

	case msgMergeFailed:
		h.loop.metrics.ComputeFailures.Inc()
		return h.terminal(m.tile, m.err)

	case msgKillQuery:
		return h.killQuery(m.qid)

	case msgDie:
		h.alive = false
		h.tiles = nil
		return nil

	default:
		invariantf("%s: unexpected message %T", h.addr, m)
		return nil
	}
}

func (h *cacheHandler) mayIRead(m msgMayIRead) []Envelope {
	h.prime()

	var out []Envelope
	var reply []tileRef
	var needs []computeNeed
	sub := subKey{qid: m.q.id, prodIdx: m.prodIdx}

	for _, t := range m.tiles {
		ti := &h.tiles[t]
		if ti.state == tileUnknown {
			out = append(out, h.resolveUnknown(t, ti)...)
		}
		switch ti.state {
		case tileValid:
			reply = append(reply, h.ref(t, ti))
		case tileAbsent:
			h.subscribe(ti, sub)
			ti.state = tileComputing
			needs = append(needs, computeNeed{tile: t, qid: m.q.id, prodIdx: m.prodIdx})
		case tileComputing:
			h.subscribe(ti, sub)
			// Already building; keep the bedroom's interest fresh so this
			// query's headroom can release the tile too.
			needs = append(needs, computeNeed{tile: t, qid: m.q.id, prodIdx: m.prodIdx})
		case tileChecking, tileMerging, tileWriting:
			h.subscribe(ti, sub)
		default:
			invariantf("%s: tile %d in state %d", h.addr, t, ti.state)
		}
	}

	if len(reply) > 0 {
		out = append(out, to(rasterAddr(h.r.id, roleProducer),
			msgYouMayRead{qid: m.q.id, prodIdx: m.prodIdx, refs: reply}))
	}
	if len(needs) > 0 {
		out = append(out, to(rasterAddr(h.r.id, roleComputer), msgComputeTiles{needs: needs}))
	}
	return out
}

// prime prepares the cache directory on first use: create it, purge it when
// the raster asks for a fresh start, and sweep temporary leftovers from
// dead writers.
func (h *cacheHandler) prime() {
	if h.primed {
		return
	}
	h.primed = true
	if h.r.memoryCached() {
		for i := range h.tiles {
			h.tiles[i].state = tileAbsent
		}
		return
	}
	if err := os.MkdirAll(h.r.cacheDir, 0o777); err != nil {
		h.r.log.Error("Creating cache directory failed", zap.Error(err))
		return
	}
	matches, err := filepath.Glob(filepath.Join(h.r.cacheDir, "*"))
	if err != nil {
		return
	}
	removed := 0
	for _, path := range matches {
		name := filepath.Base(path)
		if cache.IsTemp(name) || (h.r.overwrite && !cache.IsTemp(name)) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		h.r.log.Info("Removed stale cache files", zap.Int("files", removed))
	}
}

// resolveUnknown discovers a tile's on-disk situation: exactly one file with
// the expected fingerprint goes to validation; anything else is removed and
// the tile is absent.
func (h *cacheHandler) resolveUnknown(t int, ti *tileInfo) []Envelope {
	if h.r.memoryCached() {
		ti.state = tileAbsent
		return nil
	}
	expect := h.r.fingerprints[t]
	candidates, err := cache.Candidates(h.r.cacheDir, t)
	if err != nil {
		h.r.log.Error("Listing cache candidates failed", zap.Int("tile", t), zap.Error(err))
		ti.state = tileAbsent
		return nil
	}
	var match string
	for _, path := range candidates {
		_, fp, ok := cache.ParseFileName(filepath.Base(path))
		if ok && fp == expect && match == "" {
			match = path
			continue
		}
		// Stale fingerprint or ambiguous duplicate.
		h.r.log.Warn("Removing unusable cache file", zap.String("path", path))
		os.Remove(path)
	}
	if match == "" {
		ti.state = tileAbsent
		return nil
	}
	ti.state = tileChecking
	ti.path = match
	return []Envelope{to(rasterAddr(h.r.id, roleFileHasher),
		msgCheckTile{tile: t, path: match, expect: expect})}
}

func (h *cacheHandler) tileStatus(m msgTileStatus) []Envelope {
	ti := &h.tiles[m.tile]
	if ti.state != tileChecking {
		invariantf("%s: status for tile %d in state %d", h.addr, m.tile, ti.state)
	}
	switch {
	case m.err == nil:
		ti.state = tileValid
		ti.path = m.path
		ti.fails = 0
		h.loop.metrics.TilesValidated.Inc()
		return h.notifySubs(m.tile, ti)

	case cache.IsCorrupt(m.err):
		h.loop.metrics.TilesCorrupt.Inc()
		h.r.log.Warn("Corrupt cache tile removed",
			zap.Int("tile", m.tile), zap.Error(m.err))
		os.Remove(m.path)
		ti.path = ""
		ti.fails = 0
		return h.backToAbsent(m.tile, ti)

	default:
		ti.fails++
		if ti.fails >= h.loop.retryCap {
			return h.terminal(m.tile, &TileIOError{Raster: h.r.id, Tile: m.tile, Op: "validating", Err: m.err})
		}
		return []Envelope{to(rasterAddr(h.r.id, roleFileHasher),
			msgCheckTile{tile: m.tile, path: m.path, expect: h.r.fingerprints[m.tile]})}
	}
}

func (h *cacheHandler) wroteTile(m msgWroteTile) []Envelope {
	ti := &h.tiles[m.tile]
	if ti.state != tileWriting {
		invariantf("%s: wrote tile %d in state %d", h.addr, m.tile, ti.state)
	}
	ti.state = tileValid
	ti.path = m.path
	ti.mem = m.arr
	ti.fails = 0
	h.loop.metrics.TilesWritten.Inc()
	return h.notifySubs(m.tile, ti)
}

func (h *cacheHandler) wroteFailed(m msgWroteFailed) []Envelope {
	ti := &h.tiles[m.tile]
	h.loop.metrics.WriteFailures.Inc()
	ti.fails++
	if ti.fails >= h.loop.retryCap {
		return h.terminal(m.tile, &TileIOError{Raster: h.r.id, Tile: m.tile, Op: "writing", Err: m.err})
	}
	h.r.log.Warn("Cache tile write failed, will retry",
		zap.Int("tile", m.tile), zap.Int("attempt", ti.fails), zap.Error(m.err))
	return h.backToAbsent(m.tile, ti)
}

// backToAbsent returns a tile to absent; if readers are parked on it the
// computation is retriggered immediately on their behalf.
func (h *cacheHandler) backToAbsent(t int, ti *tileInfo) []Envelope {
	if len(ti.subs) == 0 {
		ti.state = tileAbsent
		return nil
	}
	ti.state = tileComputing
	needs := h.needsFromSubs(t, ti)
	return []Envelope{to(rasterAddr(h.r.id, roleComputer), msgComputeTiles{needs: needs})}
}

// terminal surfaces a tile failure to every subscribed query and resets the
// tile so a later demand can try again from scratch.
func (h *cacheHandler) terminal(t int, err error) []Envelope {
	ti := &h.tiles[t]
	qids := make(map[QueryID]struct{})
	for sub := range ti.subs {
		qids[sub.qid] = struct{}{}
	}
	ti.state = tileAbsent
	ti.fails = 0
	ti.subs = nil

	sorted := make([]QueryID, 0, len(qids))
	for qid := range qids {
		sorted = append(sorted, qid)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := make([]Envelope, 0, len(sorted))
	for _, qid := range sorted {
		out = append(out, to(rasterAddr(h.r.id, roleQueriesHandler),
			msgQueryFailed{qid: qid, err: err}))
	}
	return out
}

func (h *cacheHandler) notifySubs(t int, ti *tileInfo) []Envelope {
	if len(ti.subs) == 0 {
		return nil
	}
	ref := h.ref(t, ti)
	subs := make([]subKey, 0, len(ti.subs))
	for sub := range ti.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].qid != subs[j].qid {
			return subs[i].qid < subs[j].qid
		}
		return subs[i].prodIdx < subs[j].prodIdx
	})
	out := make([]Envelope, 0, len(subs))
	for _, sub := range subs {
		out = append(out, to(rasterAddr(h.r.id, roleProducer),
			msgYouMayRead{qid: sub.qid, prodIdx: sub.prodIdx, refs: []tileRef{ref}}))
	}
	ti.subs = nil
	return out
}

func (h *cacheHandler) killQuery(qid QueryID) []Envelope {
	var out []Envelope
	for t := range h.tiles {
		ti := &h.tiles[t]
		if len(ti.subs) == 0 {
			continue
		}
		for sub := range ti.subs {
			if sub.qid == qid {
				delete(ti.subs, sub)
			}
		}
		if len(ti.subs) == 0 && ti.state == tileComputing {
			// The killed query was the only subscriber; abandon the build.
			ti.state = tileAbsent
			out = append(out, to(rasterAddr(h.r.id, roleComputer), msgAbandonTile{tile: t}))
		}
	}
	return out
}

func (h *cacheHandler) subscribe(ti *tileInfo, sub subKey) {
	if ti.subs == nil {
		ti.subs = make(map[subKey]struct{})
	}
	ti.subs[sub] = struct{}{}
}

func (h *cacheHandler) ref(t int, ti *tileInfo) tileRef {
	return tileRef{
		index: t,
		fp:    h.r.tiles[t],
		h:     h.r.fingerprints[t],
		path:  ti.path,
		arr:   ti.mem,
	}
}

// needsFromSubs rebuilds compute needs from the parked readers, one per
// subscribed query with that query's earliest dependent production index.
func (h *cacheHandler) needsFromSubs(t int, ti *tileInfo) []computeNeed {
	minIdx := make(map[QueryID]int)
	for sub := range ti.subs {
		if cur, ok := minIdx[sub.qid]; !ok || sub.prodIdx < cur {
			minIdx[sub.qid] = sub.prodIdx
		}
	}
	qids := make([]QueryID, 0, len(minIdx))
	for qid := range minIdx {
		qids = append(qids, qid)
	}
	sort.Slice(qids, func(i, j int) bool { return qids[i] < qids[j] })
	needs := make([]computeNeed, 0, len(qids))
	for _, qid := range qids {
		needs = append(needs, computeNeed{tile: t, qid: qid, prodIdx: minIdx[qid]})
	}
	return needs
}

func (h *cacheHandler) transition(t int, from, to tileState) {
	ti := &h.tiles[t]
	if ti.state != from {
		invariantf("%s: tile %d in state %d, expected %d", h.addr, t, ti.state, from)
	}
	ti.state = to
}
