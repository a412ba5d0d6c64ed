// Package rasterflow is an asynchronous raster pipeline scheduler.
//
// Users register raster sources — in-memory arrays, or recipes that compute
// pixels on demand, optionally backed by a persistent tile cache — and post
// queries against them. A query is a region of interest on a caller-chosen
// target grid; its result streams out as a sequence of sub-arrays in a
// chosen order through a bounded queue with backpressure.
//
// All coordination runs on a single scheduler goroutine hosting a graph of
// actors; pixel computation, cache I/O and resampling are offloaded to
// worker pools. Computed tiles are published to the cache atomically under
// content-addressed names, so caches survive restarts and are shared
// between queries.
package rasterflow

import (
	"errors"

	"github.com/rasterflow/rasterflow/scheduler"
)

// Re-exported identifiers and types of the scheduler engine.
type (
	// RasterID identifies a registered raster.
	RasterID = scheduler.RasterID
	// QueryID identifies a posted query.
	QueryID = scheduler.QueryID
	// Query is the consumer handle of a posted query.
	Query = scheduler.Query
	// QueryOptions parameterize PostQuery.
	QueryOptions = scheduler.QueryOptions
	// Ordering is a query's delivery order.
	Ordering = scheduler.Ordering
	// ComputeFunc computes the pixels of one recipe tile.
	ComputeFunc = scheduler.ComputeFunc
	// ConfigError reports invalid registration or query parameters.
	ConfigError = scheduler.ConfigError
	// ComputeError reports a failed compute function, terminal for the
	// queries depending on the tile.
	ComputeError = scheduler.ComputeError
	// TileIOError reports a tile I/O failure that exhausted its retries.
	TileIOError = scheduler.TileIOError
)

// Sentinel errors returned by Query.Next and the Dataset methods.
var (
	ErrQueryDone     = scheduler.ErrQueryDone
	ErrQueryCanceled = scheduler.ErrQueryCanceled
	ErrRasterClosed  = scheduler.ErrRasterClosed
	ErrDatasetClosed = scheduler.ErrDatasetClosed

	// ErrCyclicDependency rejects a raster registration whose upstream
	// graph would contain a cycle.
	ErrCyclicDependency = errors.New("rasterflow: cyclic raster dependency")
)

// Delivery orderings.
var (
	RowMajor  = scheduler.RowMajor
	Spiral    = scheduler.Spiral
	UserOrder = scheduler.UserOrder
)
