package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced through Query.Next.
var (
	// ErrQueryDone marks the normal end of a query's stream.
	ErrQueryDone = errors.New("rasterflow: query complete")

	// ErrQueryCanceled is returned after Query.Cancel. Cancellation is not
	// a failure of the library.
	ErrQueryCanceled = errors.New("rasterflow: query canceled")

	// ErrRasterClosed terminates queries of a raster that was closed while
	// they were still running, and rejects queries posted to a closed or
	// unknown raster.
	ErrRasterClosed = errors.New("rasterflow: raster closed")

	// ErrDatasetClosed is returned for operations on a closed dataset.
	ErrDatasetClosed = errors.New("rasterflow: dataset closed")
)

// ConfigError reports invalid registration or query parameters. It is
// returned synchronously, never through a query stream.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "rasterflow: invalid configuration: " + e.Reason
}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// ComputeError reports a failed user compute function. It is terminal for
// every query depending on the tile; the tile itself returns to absent.
type ComputeError struct {
	Raster RasterID
	Tile   int
	Err    error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("rasterflow: computing tile %d of raster %d: %v", e.Tile, e.Raster, e.Err)
}

func (e *ComputeError) Unwrap() error { return e.Err }

// TileIOError reports an I/O failure on a cache tile that exhausted its
// retry budget.
type TileIOError struct {
	Raster RasterID
	Tile   int
	Op     string
	Err    error
}

func (e *TileIOError) Error() string {
	return fmt.Sprintf("rasterflow: %s tile %d of raster %d: %v", e.Op, e.Tile, e.Raster, e.Err)
}

func (e *TileIOError) Unwrap() error { return e.Err }

func invariantf(format string, args ...interface{}) {
	panic(fmt.Sprintf("rasterflow: internal invariant violated: "+format, args...))
}
