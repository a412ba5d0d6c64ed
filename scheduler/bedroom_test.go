package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func releaseTiles(out []Envelope) []int {
	var tiles []int
	for _, e := range out {
		if m, ok := e.Msg.(msgScheduleCompute); ok {
			tiles = append(tiles, m.tile)
		}
	}
	return tiles
}

func TestComputationBedroomReleasesInsideWindow(t *testing.T) {
	b := newComputationBedroom(&Raster{id: 1})

	// The queries handler always announces a query's queue before work
	// reaches the bedroom.
	b.Receive(msgOutputQueueUpdate{qid: 1, produced: 0, queueLen: 0, capacity: 2})

	// Delivery indices 0 and 1 fall inside the window, 5 does not.
	assert.Equal(t, []int{10},
		releaseTiles(b.Receive(msgScheduleComputeWhenNeeded{tile: 10, qid: 1, minIdx: 0})))
	assert.Equal(t, []int{11},
		releaseTiles(b.Receive(msgScheduleComputeWhenNeeded{tile: 11, qid: 1, minIdx: 1})))
	assert.Empty(t,
		releaseTiles(b.Receive(msgScheduleComputeWhenNeeded{tile: 15, qid: 1, minIdx: 5})))

	// The consumer pulls four arrays: the window now reaches index 5.
	out := b.Receive(msgOutputQueueUpdate{qid: 1, produced: 4, queueLen: 0, capacity: 2})
	assert.Equal(t, []int{15}, releaseTiles(out))
	assert.Empty(t, b.entries)
}

func TestComputationBedroomSharedTileAnyQueryReleases(t *testing.T) {
	b := newComputationBedroom(&Raster{id: 1})
	b.Receive(msgOutputQueueUpdate{qid: 1, produced: 0, queueLen: 0, capacity: 1})
	b.Receive(msgOutputQueueUpdate{qid: 2, produced: 0, queueLen: 0, capacity: 1})

	// Parked for query 1, far in its delivery order.
	require.Empty(t, releaseTiles(b.Receive(msgScheduleComputeWhenNeeded{tile: 7, qid: 1, minIdx: 9})))

	// A second query needs the same tile right away: released.
	out := b.Receive(msgUpdateComputeInterest{tile: 7, qid: 2, minIdx: 0})
	assert.Equal(t, []int{7}, releaseTiles(out))
}

func TestComputationBedroomKillQuery(t *testing.T) {
	b := newComputationBedroom(&Raster{id: 1})
	b.Receive(msgOutputQueueUpdate{qid: 1, produced: 0, queueLen: 0, capacity: 1})
	require.Empty(t, releaseTiles(b.Receive(msgScheduleComputeWhenNeeded{tile: 3, qid: 1, minIdx: 8})))

	b.Receive(msgKillQuery{qid: 1})
	assert.Empty(t, b.queries)

	// The dead query's headroom never releases the tile again.
	assert.Empty(t, releaseTiles(b.Receive(msgOutputQueueUpdate{qid: 1, produced: 9, queueLen: 0, capacity: 1})))
	_, parked := b.entries[3]
	assert.True(t, parked)
}

func releasedBuilds(out []Envelope) []int {
	var idxs []int
	for _, e := range out {
		if m, ok := e.Msg.(msgBuildReleased); ok {
			idxs = append(idxs, m.prodIdx)
		}
	}
	return idxs
}

func TestBuilderBedroomWindow(t *testing.T) {
	b := newBuilderBedroom(&Raster{id: 1})
	q := &Query{id: 5, plan: &queryPlan{capacity: 2}}

	assert.Equal(t, []int{0}, releasedBuilds(b.Receive(msgBuildWhenReady{q: q, prodIdx: 0})))
	assert.Equal(t, []int{1}, releasedBuilds(b.Receive(msgBuildWhenReady{q: q, prodIdx: 1})))
	// Window exhausted.
	assert.Empty(t, releasedBuilds(b.Receive(msgBuildWhenReady{q: q, prodIdx: 2})))
	assert.Empty(t, releasedBuilds(b.Receive(msgBuildWhenReady{q: q, prodIdx: 3})))

	// One array pulled: one more build released, in order.
	out := b.Receive(msgOutputQueueUpdate{qid: 5, produced: 2, queueLen: 1, capacity: 2})
	assert.Equal(t, []int{2}, releasedBuilds(out))

	b.Receive(msgKillQuery{qid: 5})
	assert.Empty(t, b.queries)
}
