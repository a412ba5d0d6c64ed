package scheduler

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring"

	"github.com/rasterflow/rasterflow/grid"
)

// collectSink routes an internal query's deliveries to an actor instead of
// an output channel. Internal queries are how recipe computations collect
// pixels from upstream rasters.
type collectSink struct {
	to  Address
	key collectKey
}

// Query is one posted query: the consumer-facing handle plus the per-query
// state the queries handler owns.
//
// Next and Cancel are safe to call from any goroutine. Every other field is
// touched only on the scheduler loop.
type Query struct {
	id     QueryID
	raster *Raster
	plan   *queryPlan
	loop   *Loop

	out  chan *grid.Array
	errc chan error
	sink *collectSink

	cancelOnce sync.Once
	termOnce   sync.Once
	termErr    error

	// Loop-owned mutable state.
	produced     int                   // arrays pushed to the output queue, in order
	lastQueueLen int                   // queue length last observed by the handler
	nextIdx      int                   // next delivery index to hand to the producer
	inFlight     *roaring.Bitmap       // delivery indices handed out, not yet made
	ready        map[int]*grid.Array   // made arrays waiting for their turn
	failed       bool
}

// PostQuery validates opts against the raster, builds the delivery plan and
// posts the query to the scheduler. Validation errors are ConfigErrors and
// are returned synchronously.
func (l *Loop) PostQuery(r *Raster, opts QueryOptions) (*Query, error) {
	plan, err := newQueryPlan(r, opts)
	if err != nil {
		return nil, err
	}
	q := newQuery(l, r, plan)
	l.post(to(addrRastersHandler, msgPostQuery{q: q}))
	return q, nil
}

func newQuery(l *Loop, r *Raster, plan *queryPlan) *Query {
	return &Query{
		id:       nextQueryID(),
		raster:   r,
		plan:     plan,
		loop:     l,
		out:      make(chan *grid.Array, plan.capacity),
		errc:     make(chan error, 1),
		inFlight: roaring.New(),
		ready:    make(map[int]*grid.Array),
	}
}

// newInternalQuery builds a query delivering to an actor address. Internal
// queries have no output channel; backpressure is the plan capacity alone.
func newInternalQuery(l *Loop, r *Raster, plan *queryPlan, sink collectSink) *Query {
	q := newQuery(l, r, plan)
	q.sink = &sink
	return q
}

// ID returns the query's identifier.
func (q *Query) ID() QueryID { return q.id }

// Len returns the number of production arrays the query delivers in total.
func (q *Query) Len() int { return len(q.plan.prods) }

// Next blocks until the next production array is available and returns it.
// After the last array it returns ErrQueryDone; after Cancel it returns
// ErrQueryCanceled; a terminal pipeline failure is returned once all arrays
// produced before the failure have been drained.
func (q *Query) Next(ctx context.Context) (*grid.Array, error) {
	select {
	case arr, ok := <-q.out:
		if !ok {
			return nil, q.terminalErr()
		}
		return arr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Collect drains the query and returns every remaining production array in
// delivery order.
func (q *Query) Collect(ctx context.Context) ([]*grid.Array, error) {
	var arrs []*grid.Array
	for {
		arr, err := q.Next(ctx)
		if err == ErrQueryDone {
			return arrs, nil
		}
		if err != nil {
			return arrs, err
		}
		arrs = append(arrs, arr)
	}
}

// Cancel kills the query. Idempotent; safe concurrently with Next.
func (q *Query) Cancel() {
	q.cancelOnce.Do(func() {
		q.loop.post(to(addrRastersHandler, msgCancelQuery{qid: q.id}))
	})
}

func (q *Query) terminalErr() error {
	q.termOnce.Do(func() {
		select {
		case err := <-q.errc:
			q.termErr = err
		default:
			q.termErr = ErrQueryDone
		}
	})
	return q.termErr
}

// queueLen is the handler's view of the output queue occupancy.
func (q *Query) queueLen() int {
	if q.sink != nil {
		return 0
	}
	return len(q.out)
}
