package rasterflow

import (
	"os"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rasterflow/rasterflow/grid"
	"github.com/rasterflow/rasterflow/pool"
	"github.com/rasterflow/rasterflow/scheduler"
)

// RasterSpec describes a raster source to register. Exactly one of Source
// and Compute must be set: Source makes a memory raster, Compute a recipe.
type RasterSpec struct {
	// Footprint is the raster's native grid.
	Footprint grid.Footprint

	// Channels is the raster's channel count.
	Channels int

	// Source backs a memory raster; it must match Footprint and Channels.
	Source *grid.Array

	// Compute, FuncID and FuncVersion define a recipe. FuncID@FuncVersion
	// participates in cache fingerprints: bump FuncVersion to invalidate
	// tiles computed by older function versions.
	Compute     ComputeFunc
	FuncID      string
	FuncVersion string

	// Upstream lists already-registered rasters the compute function reads
	// from. The dependency graph must stay acyclic.
	Upstream []RasterID

	// TileWidth and TileHeight set the recipe's cache tiling.
	TileWidth, TileHeight int

	// CacheDir persists computed tiles; empty keeps them in memory for the
	// raster's lifetime.
	CacheDir string

	// Overwrite discards existing cache files at first use.
	Overwrite bool
}

// Dataset owns a scheduler loop, its worker pools and the registered
// rasters. All methods are safe for concurrent use.
type Dataset struct {
	log  *zap.Logger
	cfg  Config
	loop *scheduler.Loop

	pools     []pool.Pool
	ownsPools bool

	mu      sync.Mutex
	rasters map[RasterID]*registeredRaster
	closed  bool
}

type registeredRaster struct {
	r        *scheduler.Raster
	upstream []RasterID
}

type options struct {
	logger *zap.Logger
	clock  clock.Clock
	pools  *scheduler.Pools
}

// Option customizes Open.
type Option func(*options)

// WithLogger sets the dataset's logger. The default logs to stderr at the
// configured level.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithClock injects the scheduler's clock; tests use a mock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithPools injects the worker pools instead of building them from the
// config. The caller keeps ownership and closes them.
func WithPools(p scheduler.Pools) Option {
	return func(o *options) { o.pools = &p }
}

// Open builds a dataset and starts its scheduler.
func Open(cfg Config, opts ...Option) (*Dataset, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = cfg.Logging.New(os.Stderr)
	}

	ds := &Dataset{
		log:     log,
		cfg:     cfg,
		rasters: make(map[RasterID]*registeredRaster),
	}

	var pools scheduler.Pools
	if o.pools != nil {
		pools = *o.pools
	} else {
		for _, n := range []int{cfg.ComputeConcurrency, cfg.MergeConcurrency, cfg.IOConcurrency, cfg.ResampleConcurrency} {
			if n <= 0 {
				return nil, &ConfigError{Reason: "pool concurrencies must be positive"}
			}
		}
		pools = scheduler.Pools{
			Compute:  pool.NewWorkerPool(cfg.ComputeConcurrency),
			Merge:    pool.NewWorkerPool(cfg.MergeConcurrency),
			IO:       pool.NewWorkerPool(cfg.IOConcurrency),
			Resample: pool.NewWorkerPool(cfg.ResampleConcurrency),
		}
		ds.pools = []pool.Pool{pools.Compute, pools.Merge, pools.IO, pools.Resample}
		ds.ownsPools = true
	}

	ds.loop = scheduler.NewLoop(scheduler.LoopConfig{
		Logger:     log,
		Clock:      o.clock,
		Tick:       cfg.TickInterval.Duration,
		IORetryCap: cfg.IORetryCap,
		Pools:      pools,
	})
	ds.loop.Start()
	return ds, nil
}

// RegisterRaster validates spec and registers the raster with the
// scheduler. Validation errors are ConfigErrors, returned synchronously.
func (ds *Dataset) RegisterRaster(spec RasterSpec) (RasterID, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return 0, ErrDatasetClosed
	}

	upstream := make([]*scheduler.Raster, 0, len(spec.Upstream))
	for _, id := range spec.Upstream {
		reg, ok := ds.rasters[id]
		if !ok {
			return 0, &ConfigError{Reason: "unknown upstream raster"}
		}
		upstream = append(upstream, reg.r)
	}
	if err := ds.checkAcyclic(spec.Upstream); err != nil {
		return 0, err
	}

	r, err := scheduler.NewRaster(scheduler.RasterConfig{
		Footprint:   spec.Footprint,
		Channels:    spec.Channels,
		Source:      spec.Source,
		Compute:     spec.Compute,
		FuncID:      spec.FuncID,
		FuncVersion: spec.FuncVersion,
		Upstream:    upstream,
		TileWidth:   spec.TileWidth,
		TileHeight:  spec.TileHeight,
		CacheDir:    spec.CacheDir,
		Overwrite:   spec.Overwrite,
		Logger:      ds.log,
	})
	if err != nil {
		return 0, err
	}
	ds.rasters[r.ID()] = &registeredRaster{r: r, upstream: append([]RasterID(nil), spec.Upstream...)}
	ds.loop.RegisterRaster(r)
	return r.ID(), nil
}

// checkAcyclic walks the registered upstream graph from the new raster's
// dependencies. Registration order alone keeps the graph acyclic — a raster
// can only name rasters that already exist — so this is a defensive check.
func (ds *Dataset) checkAcyclic(upstream []RasterID) error {
	seen := make(map[RasterID]bool)
	var visit func(id RasterID, stack map[RasterID]bool) error
	visit = func(id RasterID, stack map[RasterID]bool) error {
		if stack[id] {
			return ErrCyclicDependency
		}
		if seen[id] {
			return nil
		}
		seen[id] = true
		stack[id] = true
		if reg, ok := ds.rasters[id]; ok {
			for _, up := range reg.upstream {
				if err := visit(up, stack); err != nil {
					return err
				}
			}
		}
		delete(stack, id)
		return nil
	}
	stack := make(map[RasterID]bool)
	for _, id := range upstream {
		if err := visit(id, stack); err != nil {
			return err
		}
	}
	return nil
}

// CloseRaster cancels the raster's live queries and tears it down. Closing
// a raster that another raster depends on is refused.
func (ds *Dataset) CloseRaster(id RasterID) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.closed {
		return ErrDatasetClosed
	}
	if _, ok := ds.rasters[id]; !ok {
		return ErrRasterClosed
	}
	for _, reg := range ds.rasters {
		for _, up := range reg.upstream {
			if up == id {
				return &ConfigError{Reason: "raster is an upstream dependency of a registered raster"}
			}
		}
	}
	delete(ds.rasters, id)
	ds.loop.CloseRaster(id)
	return nil
}

// PostQuery posts a query against a registered raster. Zero QueueCapacity
// and TileSize take the dataset defaults.
func (ds *Dataset) PostQuery(id RasterID, opts QueryOptions) (*Query, error) {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil, ErrDatasetClosed
	}
	reg, ok := ds.rasters[id]
	ds.mu.Unlock()
	if !ok {
		return nil, ErrRasterClosed
	}
	if opts.QueueCapacity == 0 {
		opts.QueueCapacity = 4
	}
	if opts.TileSize == 0 {
		opts.TileSize = ds.cfg.TileSize
	}
	return ds.loop.PostQuery(reg.r, opts)
}

// PrometheusCollectors exposes the scheduler's metrics for registration.
func (ds *Dataset) PrometheusCollectors() []prometheus.Collector {
	return ds.loop.Metrics().PrometheusCollectors()
}

// Close kills every query, tears every raster down, stops the scheduler and
// closes owned pools. Idempotent.
func (ds *Dataset) Close() error {
	ds.mu.Lock()
	if ds.closed {
		ds.mu.Unlock()
		return nil
	}
	ds.closed = true
	ds.rasters = nil
	ds.mu.Unlock()

	<-ds.loop.CloseAll()
	ds.loop.Stop()
	if ds.ownsPools {
		for _, p := range ds.pools {
			p.Close()
		}
	}
	return nil
}
