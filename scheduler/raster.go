package scheduler

import (
	"go.uber.org/zap"

	"github.com/rasterflow/rasterflow/cache"
	"github.com/rasterflow/rasterflow/grid"
)

// ComputeFunc computes the pixels of one cache tile of a recipe raster. It
// runs on the compute pool and must be safe to call concurrently. upstream
// holds, for each upstream raster, that raster's pixels resampled onto the
// tile's footprint; it is nil for recipes without dependencies.
//
// The function returns one or more partial arrays on the raster's grid whose
// union covers the tile. Returning fewer pixels than the tile is a compute
// error.
type ComputeFunc func(tile grid.Footprint, upstream map[RasterID]*grid.Array) ([]*grid.Array, error)

// RasterConfig describes a raster source to register.
type RasterConfig struct {
	// Footprint is the raster's native grid.
	Footprint grid.Footprint

	// Channels is the raster's channel count.
	Channels int

	// Source backs a memory raster. Exactly one of Source and Compute must
	// be set.
	Source *grid.Array

	// Compute, FuncID and FuncVersion define a recipe. FuncID@FuncVersion
	// is the compute function's identity and participates in tile
	// fingerprints: changing either invalidates the cache.
	Compute     ComputeFunc
	FuncID      string
	FuncVersion string

	// Upstream lists the rasters the compute function reads from.
	Upstream []*Raster

	// TileWidth and TileHeight set the recipe's cache tiling.
	TileWidth, TileHeight int

	// CacheDir persists computed tiles. Empty keeps tiles in memory for
	// the raster's lifetime.
	CacheDir string

	// Overwrite discards any existing cache files at first use.
	Overwrite bool

	Logger *zap.Logger
}

// Raster is a registered source. Everything here is immutable after
// registration; mutable per-raster state lives in the raster's actors.
type Raster struct {
	id       RasterID
	log      *zap.Logger
	fp       grid.Footprint
	channels int

	source *grid.Array

	compute     ComputeFunc
	funcID      string
	funcVersion string
	upstream    []*Raster

	tileW, tileH int
	tiles        []grid.Footprint
	fingerprints []uint64
	identity     uint64

	cacheDir  string
	overwrite bool
}

// NewRaster validates cfg and builds a raster. Errors are ConfigErrors.
func NewRaster(cfg RasterConfig) (*Raster, error) {
	if !cfg.Footprint.Valid() {
		return nil, configErrorf("raster footprint %v is not a valid grid", cfg.Footprint)
	}
	if cfg.Channels <= 0 {
		return nil, configErrorf("raster needs at least one channel, got %d", cfg.Channels)
	}
	if (cfg.Source == nil) == (cfg.Compute == nil) {
		return nil, configErrorf("raster needs exactly one of a source array and a compute function")
	}

	r := &Raster{
		id:          NextRasterID(),
		log:         cfg.Logger,
		fp:          cfg.Footprint,
		channels:    cfg.Channels,
		source:      cfg.Source,
		compute:     cfg.Compute,
		funcID:      cfg.FuncID,
		funcVersion: cfg.FuncVersion,
		upstream:    append([]*Raster(nil), cfg.Upstream...),
		tileW:       cfg.TileWidth,
		tileH:       cfg.TileHeight,
		cacheDir:    cfg.CacheDir,
		overwrite:   cfg.Overwrite,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.With(zap.Uint64("raster", uint64(r.id)))

	if cfg.Source != nil {
		if !cfg.Source.FP.Equal(cfg.Footprint) || cfg.Source.Channels != cfg.Channels {
			return nil, configErrorf("source array does not match the raster footprint and channels")
		}
		if len(cfg.Upstream) > 0 {
			return nil, configErrorf("memory rasters cannot have upstream dependencies")
		}
		return r, nil
	}

	if cfg.FuncID == "" {
		return nil, configErrorf("recipes need a compute function identity")
	}
	if cfg.TileWidth <= 0 || cfg.TileHeight <= 0 {
		return nil, configErrorf("recipes need a positive cache tiling, got %dx%d", cfg.TileWidth, cfg.TileHeight)
	}
	seen := make(map[RasterID]struct{}, len(cfg.Upstream))
	upIdents := make([]uint64, 0, len(cfg.Upstream))
	for _, up := range cfg.Upstream {
		if up == nil {
			return nil, configErrorf("nil upstream raster")
		}
		if _, ok := seen[up.id]; ok {
			return nil, configErrorf("duplicate upstream raster %d", up.id)
		}
		seen[up.id] = struct{}{}
		upIdents = append(upIdents, up.identity)
	}

	r.tiles = cfg.Footprint.Tiles(cfg.TileWidth, cfg.TileHeight)
	all := allChannels(cfg.Channels)
	r.identity = cache.Fingerprint(cfg.Footprint, all, cfg.FuncID, cfg.FuncVersion, upIdents)
	r.fingerprints = make([]uint64, len(r.tiles))
	for i, tile := range r.tiles {
		r.fingerprints[i] = cache.Fingerprint(tile, all, cfg.FuncID, cfg.FuncVersion, upIdents)
	}
	return r, nil
}

// ID returns the raster's stable identifier.
func (r *Raster) ID() RasterID { return r.id }

// Footprint returns the raster's native grid.
func (r *Raster) Footprint() grid.Footprint { return r.fp }

// Channels returns the raster's channel count.
func (r *Raster) Channels() int { return r.channels }

// Upstream returns the ids of the raster's upstream dependencies.
func (r *Raster) Upstream() []RasterID {
	ids := make([]RasterID, len(r.upstream))
	for i, up := range r.upstream {
		ids[i] = up.id
	}
	return ids
}

func (r *Raster) recipe() bool { return r.compute != nil }

func (r *Raster) memoryCached() bool { return r.cacheDir == "" }

func allChannels(n int) []int {
	chans := make([]int, n)
	for i := range chans {
		chans[i] = i
	}
	return chans
}
