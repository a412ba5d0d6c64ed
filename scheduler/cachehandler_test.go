package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasterflow/rasterflow/grid"
)

func memRecipe(t *testing.T) *Raster {
	t.Helper()
	r, err := NewRaster(RasterConfig{
		Footprint: grid.NewFootprint(0, 0, 1, 1, 16, 16),
		Channels:  1,
		Compute: func(tile grid.Footprint, _ map[RasterID]*grid.Array) ([]*grid.Array, error) {
			return []*grid.Array{grid.NewArray(tile, 1)}, nil
		},
		FuncID:      "t",
		FuncVersion: "v1",
		TileWidth:   8,
		TileHeight:  8,
		// No cache dir: tiles live in memory, no disk in this test.
	})
	require.NoError(t, err)
	return r
}

func planQuery(t *testing.T, l *Loop, r *Raster, capacity int) *Query {
	t.Helper()
	plan, err := newQueryPlan(r, QueryOptions{Footprint: r.fp, QueueCapacity: capacity, TileSize: 8})
	require.NoError(t, err)
	return newQuery(l, r, plan)
}

func msgsOf(out []Envelope, match func(interface{}) bool) []Envelope {
	var got []Envelope
	for _, e := range out {
		if match(e.Msg) {
			got = append(got, e)
		}
	}
	return got
}

func TestCacheHandlerFirstRequestTriggersCompute(t *testing.T) {
	r := memRecipe(t)
	l := testLoop()
	h := newCacheHandler(l, r)
	q1 := planQuery(t, l, r, 4)
	q2 := planQuery(t, l, r, 4)

	// First reader of an absent tile triggers the computation.
	out := h.Receive(msgMayIRead{q: q1, prodIdx: 0, tiles: []int{0}})
	needs := msgsOf(out, func(m interface{}) bool { _, ok := m.(msgComputeTiles); return ok })
	require.Len(t, needs, 1)
	assert.Equal(t, tileComputing, h.tiles[0].state)

	// A second reader only subscribes; the computer sees an interest
	// update, never a second build.
	out = h.Receive(msgMayIRead{q: q2, prodIdx: 1, tiles: []int{0}})
	needs = msgsOf(out, func(m interface{}) bool { _, ok := m.(msgComputeTiles); return ok })
	require.Len(t, needs, 1)
	assert.Len(t, h.tiles[0].subs, 2)

	// The written tile notifies both parked readers.
	h.Receive(msgTileMerging{tile: 0})
	h.Receive(msgTileWriting{tile: 0})
	arr := grid.NewArray(r.tiles[0], 1)
	out = h.Receive(msgWroteTile{tile: 0, arr: arr})
	reads := msgsOf(out, func(m interface{}) bool { _, ok := m.(msgYouMayRead); return ok })
	require.Len(t, reads, 2)
	assert.Equal(t, tileValid, h.tiles[0].state)
	assert.Empty(t, h.tiles[0].subs)

	// Further readers are answered immediately.
	out = h.Receive(msgMayIRead{q: q1, prodIdx: 2, tiles: []int{0}})
	reads = msgsOf(out, func(m interface{}) bool { _, ok := m.(msgYouMayRead); return ok })
	require.Len(t, reads, 1)
	ref := reads[0].Msg.(msgYouMayRead).refs[0]
	assert.Equal(t, arr, ref.arr)
}

func TestCacheHandlerKillLastSubscriberAbandonsCompute(t *testing.T) {
	r := memRecipe(t)
	l := testLoop()
	h := newCacheHandler(l, r)
	q1 := planQuery(t, l, r, 4)
	q2 := planQuery(t, l, r, 4)

	h.Receive(msgMayIRead{q: q1, prodIdx: 0, tiles: []int{0, 1}})
	h.Receive(msgMayIRead{q: q2, prodIdx: 0, tiles: []int{0}})

	// Tile 0 keeps a live subscriber: no abandon. Tile 1 loses its only
	// subscriber: abandoned and absent again.
	out := h.Receive(msgKillQuery{qid: q1.id})
	abandons := msgsOf(out, func(m interface{}) bool { _, ok := m.(msgAbandonTile); return ok })
	require.Len(t, abandons, 1)
	assert.Equal(t, 1, abandons[0].Msg.(msgAbandonTile).tile)
	assert.Equal(t, tileComputing, h.tiles[0].state)
	assert.Equal(t, tileAbsent, h.tiles[1].state)
}

func TestCacheHandlerWriteFailureRetriesThenSurfaces(t *testing.T) {
	r := memRecipe(t)
	l := testLoop()
	l.retryCap = 2
	h := newCacheHandler(l, r)
	q := planQuery(t, l, r, 4)

	h.Receive(msgMayIRead{q: q, prodIdx: 0, tiles: []int{0}})
	h.Receive(msgTileMerging{tile: 0})
	h.Receive(msgTileWriting{tile: 0})

	// First failure: back to computing on behalf of the parked reader.
	out := h.Receive(msgWroteFailed{tile: 0, err: assert.AnError})
	retries := msgsOf(out, func(m interface{}) bool { _, ok := m.(msgComputeTiles); return ok })
	require.Len(t, retries, 1)
	assert.Equal(t, tileComputing, h.tiles[0].state)

	// Retry cap reached: terminal for the subscribed query, tile reset.
	h.Receive(msgTileMerging{tile: 0})
	h.Receive(msgTileWriting{tile: 0})
	out = h.Receive(msgWroteFailed{tile: 0, err: assert.AnError})
	fails := msgsOf(out, func(m interface{}) bool { _, ok := m.(msgQueryFailed); return ok })
	require.Len(t, fails, 1)
	assert.Equal(t, q.id, fails[0].Msg.(msgQueryFailed).qid)
	assert.Equal(t, tileAbsent, h.tiles[0].state)
	assert.Equal(t, 0, h.tiles[0].fails)
}
