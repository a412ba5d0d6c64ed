package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/rasterflow/rasterflow/pool"
)

// Pools are the worker pools one Loop dispatches blocking work to.
type Pools struct {
	Compute  pool.Pool
	Merge    pool.Pool
	IO       pool.Pool
	Resample pool.Pool
}

// LoopConfig configures a scheduler loop.
type LoopConfig struct {
	Logger     *zap.Logger
	Clock      clock.Clock
	Tick       time.Duration
	IORetryCap int
	Pools      Pools
}

// poolSet maps each pool role to the id its rooms are registered under.
type poolSet struct {
	compute, merge, io, resample PoolID
}

// Loop is the scheduler: a single goroutine hosting the actor graph.
//
// Every coordination decision in the pipeline happens on this goroutine.
// Actors exchange envelopes delivered depth-first: envelopes returned by a
// handler are dispatched before any envelope queued earlier, so by the time
// a handler observes a message, all synchronous reactions to earlier
// messages have settled. Blocking work leaves the loop only through worker
// pools; completions come back through the external mailbox, drained once
// per tick.
type Loop struct {
	log      *zap.Logger
	metrics  *Metrics
	clock    clock.Clock
	tick     time.Duration
	retryCap int
	pools    poolSet

	mu     sync.Mutex
	ext    []Envelope
	closed bool

	actors  map[Address]Actor
	pollers []poller

	stopc chan struct{}
	donec chan struct{}
}

// NewLoop builds a loop, its pool rooms and its rasters handler. Start must
// be called before any raster is registered.
func NewLoop(cfg LoopConfig) *Loop {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ck := cfg.Clock
	if ck == nil {
		ck = clock.New()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = 5 * time.Millisecond
	}
	retryCap := cfg.IORetryCap
	if retryCap <= 0 {
		retryCap = 3
	}
	l := &Loop{
		log:      log,
		metrics:  NewMetrics(),
		clock:    ck,
		tick:     tick,
		retryCap: retryCap,
		actors:   make(map[Address]Actor),
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
	}

	for i, p := range []struct {
		name string
		pl   pool.Pool
		dst  *PoolID
	}{
		{"compute", cfg.Pools.Compute, &l.pools.compute},
		{"merge", cfg.Pools.Merge, &l.pools.merge},
		{"io", cfg.Pools.IO, &l.pools.io},
		{"resample", cfg.Pools.Resample, &l.pools.resample},
	} {
		if p.pl == nil {
			invariantf("loop configured without a %s pool", p.name)
		}
		id := PoolID(i + 1)
		*p.dst = id
		l.register(newWaitingRoom(id, p.pl.Size()))
		l.register(newWorkingRoom(l, id, p.name, p.pl))
	}
	l.register(newRastersHandler(l))
	return l
}

// Metrics exposes the loop's collectors.
func (l *Loop) Metrics() *Metrics { return l.metrics }

// Start launches the scheduler goroutine.
func (l *Loop) Start() {
	go l.run()
}

// Stop terminates the scheduler goroutine and waits for it. Pending
// envelopes are dropped; callers tear the actor graph down first through
// CloseAll.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.donec
		return
	}
	l.closed = true
	l.mu.Unlock()
	close(l.stopc)
	<-l.donec
}

// RegisterRaster hands a raster to the rasters handler.
func (l *Loop) RegisterRaster(r *Raster) {
	l.post(to(addrRastersHandler, msgRegisterRaster{r: r}))
}

// CloseRaster cancels the raster's queries and tears its actors down.
func (l *Loop) CloseRaster(id RasterID) {
	l.post(to(addrRastersHandler, msgCloseRaster{id: id}))
}

// CloseAll tears every raster down. The returned channel closes once the
// last raster is gone.
func (l *Loop) CloseAll() <-chan struct{} {
	done := make(chan struct{})
	l.post(to(addrRastersHandler, msgCloseDataset{done: done}))
	return done
}

// post enqueues an envelope from any goroutine.
func (l *Loop) post(e Envelope) {
	l.mu.Lock()
	if !l.closed {
		l.ext = append(l.ext, e)
	}
	l.mu.Unlock()
}

func (l *Loop) takeExt() []Envelope {
	l.mu.Lock()
	ext := l.ext
	l.ext = nil
	l.mu.Unlock()
	return ext
}

func (l *Loop) run() {
	defer close(l.donec)
	for {
		select {
		case <-l.stopc:
			return
		default:
		}

		busy := false
		for _, e := range l.takeExt() {
			l.dispatch([]Envelope{e})
			busy = true
		}

		// Pollers may unregister themselves mid-iteration; walk a snapshot.
		pollers := append([]poller(nil), l.pollers...)
		for _, p := range pollers {
			if !p.Alive() {
				continue
			}
			if out := p.Poll(); len(out) > 0 {
				l.dispatch(out)
				busy = true
			}
		}

		if !busy {
			l.clock.Sleep(l.tick)
		}
	}
}

// dispatch delivers envelopes depth-first: envelopes emitted by a handler
// form a new pile processed before the rest of the current one.
func (l *Loop) dispatch(initial []Envelope) {
	piles := [][]Envelope{initial}
	for len(piles) > 0 {
		top := &piles[len(piles)-1]
		if len(*top) == 0 {
			piles = piles[:len(piles)-1]
			continue
		}
		e := (*top)[0]
		*top = (*top)[1:]

		if e.Spawn != nil {
			l.register(e.Spawn)
			continue
		}
		a, ok := l.actors[e.To]
		if !ok {
			if !e.Droppable {
				invariantf("message %T for unknown actor %s", e.Msg, e.To)
			}
			continue
		}
		out := a.Receive(e.Msg)
		if !a.Alive() {
			l.unregister(a)
		}
		if len(out) > 0 {
			piles = append(piles, out)
		}
	}
}

func (l *Loop) register(a Actor) {
	addr := a.Address()
	if _, ok := l.actors[addr]; ok {
		invariantf("actor %s registered twice", addr)
	}
	l.actors[addr] = a
	if p, ok := a.(poller); ok {
		l.pollers = append(l.pollers, p)
	}
}

func (l *Loop) unregister(a Actor) {
	delete(l.actors, a.Address())
	if _, ok := a.(poller); ok {
		for i, p := range l.pollers {
			if p == a {
				l.pollers = append(l.pollers[:i], l.pollers[i+1:]...)
				break
			}
		}
	}
}
