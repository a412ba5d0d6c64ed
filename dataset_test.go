package rasterflow_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/rasterflow/rasterflow"
	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/grid"
)

// valueAt is the reference pixel function used throughout: the sample at
// plane position (x, y), channel ch.
func valueAt(x, y float64, ch int) float64 {
	return x*100 + y + float64(ch)
}

// rampArray materializes valueAt over a footprint.
func rampArray(fp grid.Footprint, channels int) *grid.Array {
	arr := grid.NewArray(fp, channels)
	for r := 0; r < fp.H; r++ {
		for c := 0; c < fp.W; c++ {
			x, y := fp.PixelCenter(c, r)
			for ch := 0; ch < channels; ch++ {
				arr.Set(c, r, ch, valueAt(x, y, ch))
			}
		}
	}
	return arr
}

// countingRecipe is a ComputeFunc producing valueAt pixels while tracking
// invocation counts and peak concurrency.
type countingRecipe struct {
	channels    int
	delay       time.Duration
	invocations int64
	running     int64
	peak        int64
	fail        error
}

func (cr *countingRecipe) fn(tile grid.Footprint, _ map[rasterflow.RasterID]*grid.Array) ([]*grid.Array, error) {
	atomic.AddInt64(&cr.invocations, 1)
	n := atomic.AddInt64(&cr.running, 1)
	for {
		peak := atomic.LoadInt64(&cr.peak)
		if n <= peak || atomic.CompareAndSwapInt64(&cr.peak, peak, n) {
			break
		}
	}
	if cr.delay > 0 {
		time.Sleep(cr.delay)
	}
	atomic.AddInt64(&cr.running, -1)
	if cr.fail != nil {
		return nil, cr.fail
	}
	return []*grid.Array{rampArray(tile, cr.channels)}, nil
}

func openDataset(t *testing.T) *rasterflow.Dataset {
	t.Helper()
	cfg := rasterflow.NewConfig()
	cfg.TickInterval = rasterflow.Duration{Duration: time.Millisecond}
	cfg.ComputeConcurrency = 4
	cfg.MergeConcurrency = 2
	cfg.IOConcurrency = 4
	cfg.ResampleConcurrency = 2
	ds, err := rasterflow.Open(cfg,
		rasterflow.WithLogger(zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ds.Close()) })
	return ds
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requireRamp(t *testing.T, arr *grid.Array, channels []int) {
	t.Helper()
	for r := 0; r < arr.FP.H; r++ {
		for c := 0; c < arr.FP.W; c++ {
			x, y := arr.FP.PixelCenter(c, r)
			for i, ch := range channels {
				require.Equal(t, valueAt(x, y, ch), arr.At(c, r, i),
					"pixel (%d,%d) channel %d", c, r, ch)
			}
		}
	}
}

func cacheFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func registerRampRecipe(t *testing.T, ds *rasterflow.Dataset, cr *countingRecipe, fp grid.Footprint, tileSide int, dir string) rasterflow.RasterID {
	t.Helper()
	id, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint:   fp,
		Channels:    cr.channels,
		Compute:     cr.fn,
		FuncID:      "ramp",
		FuncVersion: "v1",
		TileWidth:   tileSide,
		TileHeight:  tileSide,
		CacheDir:    dir,
	})
	require.NoError(t, err)
	return id
}

// S1: one tile, cold cache. Exactly one compute, one atomically published
// file whose name fingerprint validates, one delivery.
func TestSingleTileColdCache(t *testing.T) {
	ds := openDataset(t)
	dir := t.TempDir()
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)
	cr := &countingRecipe{channels: 1}
	id := registerRampRecipe(t, ds, cr, fp, 64, dir)

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, QueueCapacity: 1, TileSize: 64,
	})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 1)
	requireRamp(t, arrs[0], []int{0})

	assert.Equal(t, int64(1), atomic.LoadInt64(&cr.invocations))

	names := cacheFiles(t, dir)
	require.Len(t, names, 1)
	assert.False(t, cache.IsTemp(names[0]))
	tile, h, ok := cache.ParseFileName(names[0])
	require.True(t, ok)
	assert.Equal(t, 0, tile)
	require.NoError(t, cache.Validate(filepath.Join(dir, names[0]), h))
}

// S2: warm cache. The existing file validates; no compute happens.
func TestWarmCache(t *testing.T) {
	dir := t.TempDir()
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)

	func() {
		ds := openDataset(t)
		cr := &countingRecipe{channels: 1}
		id := registerRampRecipe(t, ds, cr, fp, 64, dir)
		q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 64})
		require.NoError(t, err)
		_, err = q.Collect(testCtx(t))
		require.NoError(t, err)
	}()

	ds := openDataset(t)
	cr := &countingRecipe{channels: 1}
	id := registerRampRecipe(t, ds, cr, fp, 64, dir)
	q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 64})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 1)
	requireRamp(t, arrs[0], []int{0})
	assert.Equal(t, int64(0), atomic.LoadInt64(&cr.invocations), "warm cache must not recompute")
}

// S3: corrupt cache. A truncated tile is detected, deleted, recomputed; the
// final cache is byte-identical to the healthy one.
func TestCorruptCacheRecomputes(t *testing.T) {
	dir := t.TempDir()
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)

	var healthy []byte
	var path string
	func() {
		ds := openDataset(t)
		cr := &countingRecipe{channels: 1}
		id := registerRampRecipe(t, ds, cr, fp, 64, dir)
		q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 64})
		require.NoError(t, err)
		_, err = q.Collect(testCtx(t))
		require.NoError(t, err)

		names := cacheFiles(t, dir)
		require.Len(t, names, 1)
		path = filepath.Join(dir, names[0])
		healthy, err = os.ReadFile(path)
		require.NoError(t, err)
	}()

	// Truncate by one byte.
	require.NoError(t, os.WriteFile(path, healthy[:len(healthy)-1], 0o666))

	ds := openDataset(t)
	cr := &countingRecipe{channels: 1}
	id := registerRampRecipe(t, ds, cr, fp, 64, dir)
	q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 64})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 1)
	requireRamp(t, arrs[0], []int{0})
	assert.Equal(t, int64(1), atomic.LoadInt64(&cr.invocations))

	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(healthy, rewritten), "recomputed cache differs from the original")
}

// S4: backpressure. With Q=2 and a slow consumer, at most two production
// arrays are in flight, so at most two tiles compute concurrently.
func TestBackpressure(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)
	cr := &countingRecipe{channels: 1, delay: 5 * time.Millisecond}
	id := registerRampRecipe(t, ds, cr, fp, 16, t.TempDir())

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, QueueCapacity: 2, TileSize: 16,
	})
	require.NoError(t, err)

	ctx := testCtx(t)
	var arrs []*grid.Array
	for {
		arr, err := q.Next(ctx)
		if err == rasterflow.ErrQueryDone {
			break
		}
		require.NoError(t, err)
		arrs = append(arrs, arr)
		time.Sleep(20 * time.Millisecond)
	}
	require.Len(t, arrs, 16)
	assert.Equal(t, int64(16), atomic.LoadInt64(&cr.invocations))
	assert.LessOrEqual(t, atomic.LoadInt64(&cr.peak), int64(2),
		"more tiles computing than the output queue has room for")

	// Row-major delivery order.
	tiles := fp.Tiles(16, 16)
	for i, arr := range arrs {
		assert.Equal(t, tiles[i], arr.FP)
	}
}

// S5: cancel mid-flight. Deliveries stop with ErrQueryCanceled and the
// pipeline stays healthy for later queries.
func TestCancelMidFlight(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)
	cr := &countingRecipe{channels: 1, delay: 2 * time.Millisecond}
	id := registerRampRecipe(t, ds, cr, fp, 8, t.TempDir())

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, QueueCapacity: 2, TileSize: 8,
	})
	require.NoError(t, err)

	ctx := testCtx(t)
	_, err = q.Next(ctx)
	require.NoError(t, err)
	q.Cancel()

	for {
		_, err = q.Next(ctx)
		if err != nil {
			break
		}
	}
	assert.Equal(t, rasterflow.ErrQueryCanceled, err)

	// The raster still serves new queries after the kill.
	q2, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, QueueCapacity: 4, TileSize: 8,
	})
	require.NoError(t, err)
	arrs, err := q2.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, arrs, 64)
	for _, arr := range arrs {
		requireRamp(t, arr, []int{0})
	}
}

// S6: a tile shared by two simultaneous queries is computed exactly once
// and both queries observe identical bytes.
func TestSharedTileComputedOnce(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)
	cr := &countingRecipe{channels: 1, delay: time.Millisecond}
	id := registerRampRecipe(t, ds, cr, fp, 16, t.TempDir())

	opts := rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 16, TileSize: 16}
	q1, err := ds.PostQuery(id, opts)
	require.NoError(t, err)
	q2, err := ds.PostQuery(id, opts)
	require.NoError(t, err)

	ctx := testCtx(t)
	arrs1, err := q1.Collect(ctx)
	require.NoError(t, err)
	arrs2, err := q2.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(16), atomic.LoadInt64(&cr.invocations),
		"each shared tile must be computed exactly once")
	require.Len(t, arrs1, 16)
	require.Len(t, arrs2, 16)
	for i := range arrs1 {
		require.Empty(t, cmp.Diff(arrs1[i].Pix, arrs2[i].Pix))
	}
}

// Round trip: collected sub-arrays stitched by their footprints equal the
// reference array computed non-lazily.
func TestRoundTripStitching(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 48, 48)
	cr := &countingRecipe{channels: 2}
	id := registerRampRecipe(t, ds, cr, fp, 16, t.TempDir())

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, QueueCapacity: 4, TileSize: 13, // deliberately unaligned
	})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)

	stitched := grid.NewArray(fp, 2)
	for _, arr := range arrs {
		stitched.CopyFrom(arr, nil)
	}
	require.Empty(t, cmp.Diff(rampArray(fp, 2).Pix, stitched.Pix))
}

// Posting the same query twice produces the same delivered arrays.
func TestIdempotentQueries(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 32, 32)
	cr := &countingRecipe{channels: 1}
	id := registerRampRecipe(t, ds, cr, fp, 16, t.TempDir())

	opts := rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 4, TileSize: 16}
	ctx := testCtx(t)

	q1, err := ds.PostQuery(id, opts)
	require.NoError(t, err)
	arrs1, err := q1.Collect(ctx)
	require.NoError(t, err)

	q2, err := ds.PostQuery(id, opts)
	require.NoError(t, err)
	arrs2, err := q2.Collect(ctx)
	require.NoError(t, err)

	require.Len(t, arrs2, len(arrs1))
	for i := range arrs1 {
		require.Empty(t, cmp.Diff(arrs1[i].Pix, arrs2[i].Pix))
	}
}

func TestMemoryRasterAndChannels(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 32, 32)
	id, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp,
		Channels:  3,
		Source:    rampArray(fp, 3),
	})
	require.NoError(t, err)

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, Channels: []int{2, 0}, QueueCapacity: 2, TileSize: 16,
	})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 4)
	for _, arr := range arrs {
		require.Equal(t, 2, arr.Channels)
		requireRamp(t, arr, []int{2, 0})
	}
}

func TestMemoryCachedRecipe(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 32, 32)
	cr := &countingRecipe{channels: 1}
	id, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint:   fp,
		Channels:    1,
		Compute:     cr.fn,
		FuncID:      "ramp",
		FuncVersion: "v1",
		TileWidth:   16,
		TileHeight:  16,
	})
	require.NoError(t, err)

	ctx := testCtx(t)
	opts := rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 4, TileSize: 16}
	q1, err := ds.PostQuery(id, opts)
	require.NoError(t, err)
	_, err = q1.Collect(ctx)
	require.NoError(t, err)

	// Second query hits the in-memory tile store.
	q2, err := ds.PostQuery(id, opts)
	require.NoError(t, err)
	arrs, err := q2.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, arrs, 4)
	assert.Equal(t, int64(4), atomic.LoadInt64(&cr.invocations))
}

// A query on a shifted grid exercises the resample path: values follow
// nearest-neighbour source pixels, fill outside the raster.
func TestResampleAndFill(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 32, 32)
	id, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp,
		Channels:  1,
		Source:    rampArray(fp, 1),
	})
	require.NoError(t, err)

	qfp := grid.NewFootprint(24.25, 24.25, 1, 1, 16, 16)
	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: qfp, QueueCapacity: 1, TileSize: 16, Fill: -1,
	})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 1)

	arr := arrs[0]
	for r := 0; r < arr.FP.H; r++ {
		for c := 0; c < arr.FP.W; c++ {
			x, y := arr.FP.PixelCenter(c, r)
			sc, sr := math.Floor(x), math.Floor(y)
			want := -1.0
			if sc < 32 && sr < 32 {
				want = valueAt(sc+0.5, sr+0.5, 0)
			}
			require.Equal(t, want, arr.At(c, r, 0), "pixel (%d,%d)", c, r)
		}
	}
}

func TestOrderings(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 32, 32)
	id, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp, Channels: 1, Source: rampArray(fp, 1),
	})
	require.NoError(t, err)

	tiles := fp.Tiles(16, 16)
	perm := []int{3, 1, 0, 2}
	q, err := ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, Ordering: rasterflow.UserOrder(perm),
		QueueCapacity: 4, TileSize: 16,
	})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 4)
	for i, arr := range arrs {
		assert.Equal(t, tiles[perm[i]], arr.FP)
	}

	q, err = ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, Ordering: rasterflow.Spiral(),
		QueueCapacity: 4, TileSize: 16,
	})
	require.NoError(t, err)
	arrs, err = q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 4)
}

// A recipe reading from an upstream raster through the scheduler's internal
// queries.
func TestRecipeDAG(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 32, 32)
	upID, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp, Channels: 1, Source: rampArray(fp, 1),
	})
	require.NoError(t, err)

	derivedID, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp,
		Channels:  1,
		Compute: func(tile grid.Footprint, upstream map[rasterflow.RasterID]*grid.Array) ([]*grid.Array, error) {
			src, ok := upstream[upID]
			if !ok {
				return nil, errors.New("missing upstream pixels")
			}
			out := grid.NewArray(tile, 1)
			for i, v := range src.Pix {
				out.Pix[i] = 2 * v
			}
			return []*grid.Array{out}, nil
		},
		FuncID:      "double",
		FuncVersion: "v1",
		Upstream:    []rasterflow.RasterID{upID},
		TileWidth:   16,
		TileHeight:  16,
	})
	require.NoError(t, err)

	q, err := ds.PostQuery(derivedID, rasterflow.QueryOptions{
		Footprint: fp, QueueCapacity: 4, TileSize: 16,
	})
	require.NoError(t, err)
	arrs, err := q.Collect(testCtx(t))
	require.NoError(t, err)
	require.Len(t, arrs, 4)
	for _, arr := range arrs {
		for r := 0; r < arr.FP.H; r++ {
			for c := 0; c < arr.FP.W; c++ {
				x, y := arr.FP.PixelCenter(c, r)
				require.Equal(t, 2*valueAt(x, y, 0), arr.At(c, r, 0))
			}
		}
	}
}

func TestComputeErrorIsTerminal(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 16, 16)
	cr := &countingRecipe{channels: 1, fail: errors.New("boom")}
	id := registerRampRecipe(t, ds, cr, fp, 16, t.TempDir())

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 16})
	require.NoError(t, err)
	_, err = q.Collect(testCtx(t))
	require.Error(t, err)
	var ce *rasterflow.ComputeError
	assert.True(t, errors.As(err, &ce))
}

func TestPartialCoverageIsComputeError(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 16, 16)
	id, err := ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp,
		Channels:  1,
		Compute: func(tile grid.Footprint, _ map[rasterflow.RasterID]*grid.Array) ([]*grid.Array, error) {
			// Half the tile: the merger must reject it.
			return []*grid.Array{grid.NewArray(tile.Sub(0, 0, tile.W, tile.H/2), 1)}, nil
		},
		FuncID:      "half",
		FuncVersion: "v1",
		TileWidth:   16,
		TileHeight:  16,
	})
	require.NoError(t, err)

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 16})
	require.NoError(t, err)
	_, err = q.Collect(testCtx(t))
	var ce *rasterflow.ComputeError
	assert.True(t, errors.As(err, &ce))
}

func TestRegistrationValidation(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 16, 16)

	_, err := ds.RegisterRaster(rasterflow.RasterSpec{Footprint: fp, Channels: 1})
	var cfgErr *rasterflow.ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp, Channels: 1,
		Compute:     (&countingRecipe{channels: 1}).fn,
		FuncID:      "f", FuncVersion: "v",
		TileWidth: 16, TileHeight: 16,
		Upstream: []rasterflow.RasterID{9999},
	})
	assert.True(t, errors.As(err, &cfgErr))

	id, err := ds.RegisterRaster(rasterflow.RasterSpec{Footprint: fp, Channels: 1, Source: rampArray(fp, 1)})
	require.NoError(t, err)
	_, err = ds.PostQuery(id, rasterflow.QueryOptions{
		Footprint: fp, Channels: []int{5}, QueueCapacity: 1, TileSize: 16,
	})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCloseRasterKillsQueries(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 64, 64)
	cr := &countingRecipe{channels: 1, delay: 2 * time.Millisecond}
	id := registerRampRecipe(t, ds, cr, fp, 8, t.TempDir())

	q, err := ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 2, TileSize: 8})
	require.NoError(t, err)

	ctx := testCtx(t)
	_, err = q.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, ds.CloseRaster(id))

	for {
		_, err = q.Next(ctx)
		if err != nil {
			break
		}
	}
	assert.Equal(t, rasterflow.ErrRasterClosed, err)

	_, err = ds.PostQuery(id, rasterflow.QueryOptions{Footprint: fp, QueueCapacity: 1, TileSize: 8})
	assert.Equal(t, rasterflow.ErrRasterClosed, err)
}

func TestCloseRasterWithDependentRefused(t *testing.T) {
	ds := openDataset(t)
	fp := grid.NewFootprint(0, 0, 1, 1, 16, 16)
	upID, err := ds.RegisterRaster(rasterflow.RasterSpec{Footprint: fp, Channels: 1, Source: rampArray(fp, 1)})
	require.NoError(t, err)
	_, err = ds.RegisterRaster(rasterflow.RasterSpec{
		Footprint: fp, Channels: 1,
		Compute: (&countingRecipe{channels: 1}).fn,
		FuncID:  "f", FuncVersion: "v",
		TileWidth: 16, TileHeight: 16,
		Upstream: []rasterflow.RasterID{upID},
	})
	require.NoError(t, err)

	var cfgErr *rasterflow.ConfigError
	assert.True(t, errors.As(ds.CloseRaster(upID), &cfgErr))
}
