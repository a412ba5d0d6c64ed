package scheduler

import "sync/atomic"

// RasterID identifies a registered raster for its whole lifetime.
type RasterID uint64

// QueryID identifies a posted query, user-facing or internal.
type QueryID uint64

// PoolID identifies a worker pool within one Loop.
type PoolID uint64

var (
	rasterIDCounter uint64
	queryIDCounter  uint64
)

// NextRasterID allocates a process-unique raster id.
func NextRasterID() RasterID {
	return RasterID(atomic.AddUint64(&rasterIDCounter, 1))
}

func nextQueryID() QueryID {
	return QueryID(atomic.AddUint64(&queryIDCounter, 1))
}
