package scheduler

import (
	"fmt"

	"github.com/rasterflow/rasterflow/grid"
)

// scope distinguishes the three families of actor addresses.
type scope uint8

const (
	scopeGlobal scope = iota
	scopeRaster
	scopePool
)

// role names an actor within its scope.
type role uint8

const (
	roleRastersHandler role = iota
	roleQueriesHandler
	roleProducer
	roleCacheHandler
	roleFileHasher
	roleComputer
	roleComputationBedroom
	roleAccumulator
	roleMerger
	roleWriter
	roleBuilderBedroom
	roleBuilder
	roleSampler
	roleResampler
	roleWaitingRoom
	roleWorkingRoom
)

var roleNames = [...]string{
	"RastersHandler", "QueriesHandler", "Producer", "CacheHandler",
	"FileHasher", "Computer", "ComputationBedroom", "Accumulator",
	"Merger", "Writer", "BuilderBedroom", "Builder", "Sampler",
	"Resampler", "WaitingRoom", "WorkingRoom",
}

func (r role) String() string { return roleNames[r] }

// Address locates one actor in the registry.
type Address struct {
	Scope scope
	ID    uint64 // raster id or pool id; zero in the global scope
	Role  role
}

func (a Address) String() string {
	switch a.Scope {
	case scopeRaster:
		return fmt.Sprintf("/Raster%d/%s", a.ID, a.Role)
	case scopePool:
		return fmt.Sprintf("/Pool%d/%s", a.ID, a.Role)
	default:
		return "/Global/" + a.Role.String()
	}
}

func rasterAddr(id RasterID, r role) Address {
	return Address{Scope: scopeRaster, ID: uint64(id), Role: r}
}

func poolAddr(id PoolID, r role) Address {
	return Address{Scope: scopePool, ID: uint64(id), Role: r}
}

var addrRastersHandler = Address{Scope: scopeGlobal, Role: roleRastersHandler}

// Envelope carries one message to one actor, or spawns a new actor.
type Envelope struct {
	To        Address
	Msg       interface{}
	Spawn     Actor // if set, register this actor instead of delivering
	Droppable bool  // silently dropped when the target actor is gone
}

func to(a Address, m interface{}) Envelope {
	return Envelope{To: a, Msg: m}
}

func droppable(a Address, m interface{}) Envelope {
	return Envelope{To: a, Msg: m, Droppable: true}
}

func spawn(a Actor) Envelope {
	return Envelope{Spawn: a}
}

// Actor is a message handler living on the scheduler loop. Receive runs to
// completion before any other handler runs; the envelopes it returns are
// delivered depth-first. An actor reporting Alive() == false after a Receive
// is unregistered.
type Actor interface {
	Address() Address
	Receive(m interface{}) []Envelope
	Alive() bool
}

// poller is implemented by actors the loop nudges once per tick even when no
// messages flow.
type poller interface {
	Actor
	Poll() []Envelope
}

// tileRef tells a reader where a valid tile's pixels live: a published cache
// file, or an in-memory array for memory-backed tiles and memory rasters.
type tileRef struct {
	index int
	fp    grid.Footprint
	h     uint64
	path  string
	arr   *grid.Array
}

// computeNeed records that a query's production array needs a tile built.
type computeNeed struct {
	tile    int
	qid     QueryID
	prodIdx int
}

// collectKey identifies one upstream collection of one tile computation.
type collectKey struct {
	tile     int
	upstream RasterID
}

// Dataset lifecycle, routed through the RastersHandler.
type (
	msgRegisterRaster struct{ r *Raster }
	msgCloseRaster    struct{ id RasterID }
	msgCloseDataset   struct{ done chan struct{} }
	msgPostQuery   struct{ q *Query }
	msgCancelQuery struct {
		qid    QueryID
		reason error // nil means user cancellation
	}
	msgQueryTerminated struct {
		raster RasterID
		qid    QueryID
	}
	msgDie struct{}
)

// Query planning and delivery.
type (
	msgNewQuery struct{ q *Query }
	msgMakeArrays struct {
		q    *Query
		idxs []int
	}
	msgMadeArray struct {
		qid     QueryID
		prodIdx int
		arr     *grid.Array
	}
	msgQueryFailed struct {
		qid QueryID
		err error
	}
	msgKillQuery struct{ qid QueryID }
	msgOutputQueueUpdate struct {
		qid      QueryID
		produced int
		queueLen int
		capacity int
	}
)

// Cache tile state machine.
type (
	msgMayIRead struct {
		q       *Query
		prodIdx int
		tiles   []int
	}
	msgYouMayRead struct {
		qid     QueryID
		prodIdx int
		refs    []tileRef
	}
	msgCheckTile struct {
		tile   int
		path   string
		expect uint64
	}
	msgTileStatus struct {
		tile int
		path string
		err  error // nil valid, CorruptError corrupt, otherwise I/O
	}
	msgComputeTiles struct{ needs []computeNeed }
	msgAbandonTile  struct{ tile int }
)

// Compute path.
type (
	msgScheduleComputeWhenNeeded struct {
		tile   int
		qid    QueryID
		minIdx int
	}
	msgUpdateComputeInterest struct {
		tile   int
		qid    QueryID
		minIdx int
	}
	msgUnscheduleCompute struct{ tile int }
	msgScheduleCompute   struct{ tile int }
	msgCollected         struct {
		key collectKey
		arr *grid.Array
	}
	msgCollectFailed struct {
		key collectKey
		err error
	}
	msgComputedPartial struct {
		tile  int
		part  *grid.Array
		idx   int
		total int
	}
	msgComputeFailed struct {
		tile int
		err  error
	}
	msgTileMerging struct{ tile int }
	msgMergeTile   struct {
		tile  int
		parts []*grid.Array
	}
	msgMergeFailed struct {
		tile int
		err  error
	}
	msgTileWriting struct{ tile int }
	msgWriteTile   struct {
		tile int
		arr  *grid.Array
	}
	msgWroteTile struct {
		tile int
		path string
		arr  *grid.Array
	}
	msgWroteFailed struct {
		tile int
		err  error
	}
)

// Build path.
type (
	msgBuildWhenReady struct {
		q       *Query
		prodIdx int
	}
	msgBuildReleased struct {
		qid     QueryID
		prodIdx int
	}
	msgBuild struct {
		q       *Query
		prodIdx int
		refs    []tileRef
	}
	msgSampleTile struct {
		q       *Query
		prodIdx int
		ref     tileRef
		dst     *grid.Array
	}
	msgSampled struct {
		q       *Query
		prodIdx int
		tile    int
		err     error
	}
	msgResample struct {
		q       *Query
		prodIdx int
		sample  *grid.Array
	}
	msgResampled struct {
		q       *Query
		prodIdx int
		arr     *grid.Array
		err     error
	}
	msgBuilt struct {
		qid     QueryID
		prodIdx int
		arr     *grid.Array
	}
)

// Pool rooms.
type (
	msgScheduleJob   struct{ j *job }
	msgUnscheduleJob struct{ j *job }
	msgJobAdmitted   struct{ j *job }
	msgLaunchJob     struct{ j *job }
	msgJobDone       struct {
		j   *job
		v   interface{}
		err error
	}
	msgJobFinished struct {
		j   *job
		v   interface{}
		err error
	}
	msgSalvageToken struct{}
	msgCancelJob    struct{ j *job }
)
