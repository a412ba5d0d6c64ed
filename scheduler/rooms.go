package scheduler

import (
	"time"

	"github.com/google/btree"

	"github.com/rasterflow/rasterflow/pool"
)

// Job ranks. Cache-file validation outranks everything else so that a warm
// cache is discovered before new work is scheduled behind it.
const (
	rankCheck = 0
	rankWork  = 1
)

// job is one unit of pool work travelling between a sender actor and a
// pool's waiting and working rooms. The sender keeps its own context keyed
// by the job pointer; rooms only look at admission metadata.
type job struct {
	sender Address
	rank   int
	qid    QueryID // zero when the job is not keyed to one query
	seq    uint64  // admission order, assigned by the waiting room
	run    pool.Task
	fut    *pool.Future
}

type jobItem struct{ j *job }

func (a jobItem) Less(b btree.Item) bool {
	o := b.(jobItem)
	if a.j.rank != o.j.rank {
		return a.j.rank < o.j.rank
	}
	return a.j.seq < o.j.seq
}

// waitingRoom owns a pool's admission tokens. There are as many tokens as
// pool slots; jobs wait in rank-then-FIFO order for one.
type waitingRoom struct {
	addr  Address
	free  int
	seq   uint64
	queue *btree.BTree
}

func newWaitingRoom(id PoolID, slots int) *waitingRoom {
	return &waitingRoom{
		addr:  poolAddr(id, roleWaitingRoom),
		free:  slots,
		queue: btree.New(8),
	}
}

func (w *waitingRoom) Address() Address { return w.addr }
func (w *waitingRoom) Alive() bool      { return true }

func (w *waitingRoom) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgScheduleJob:
		if w.free > 0 {
			w.free--
			return []Envelope{droppable(m.j.sender, msgJobAdmitted{j: m.j})}
		}
		w.seq++
		m.j.seq = w.seq
		w.queue.ReplaceOrInsert(jobItem{j: m.j})
		return nil

	case msgUnscheduleJob:
		// The job may already have been admitted; then this is a no-op and
		// the sender cancels through the working room instead.
		w.queue.Delete(jobItem{j: m.j})
		return nil

	case msgSalvageToken:
		if w.queue.Len() > 0 {
			item := w.queue.DeleteMin().(jobItem)
			return []Envelope{droppable(item.j.sender, msgJobAdmitted{j: item.j})}
		}
		w.free++
		return nil

	default:
		invariantf("%s: unexpected message %T", w.addr, m)
		return nil
	}
}

// workingRoom launches admitted jobs on its pool and routes completions
// back to their sender, salvaging the token either way.
type workingRoom struct {
	addr     Address
	waiting  Address
	poolName string
	pl       pool.Pool
	loop     *Loop
	jobs     map[*job]time.Time
}

func newWorkingRoom(l *Loop, id PoolID, name string, pl pool.Pool) *workingRoom {
	return &workingRoom{
		addr:     poolAddr(id, roleWorkingRoom),
		waiting:  poolAddr(id, roleWaitingRoom),
		poolName: name,
		pl:       pl,
		loop:     l,
		jobs:     make(map[*job]time.Time),
	}
}

func (w *workingRoom) Address() Address { return w.addr }
func (w *workingRoom) Alive() bool      { return true }

func (w *workingRoom) Receive(m interface{}) []Envelope {
	switch m := m.(type) {
	case msgLaunchJob:
		j := m.j
		if j.run == nil {
			invariantf("%s: job launched without a task", w.addr)
		}
		w.jobs[j] = w.loop.clock.Now()
		fut, err := w.pl.Submit(j.run, func(v interface{}, err error) {
			w.loop.post(droppable(w.addr, msgJobDone{j: j, v: v, err: err}))
		})
		if err != nil {
			delete(w.jobs, j)
			return []Envelope{
				droppable(j.sender, msgJobFinished{j: j, err: err}),
				to(w.waiting, msgSalvageToken{}),
			}
		}
		j.fut = fut
		return nil

	case msgJobDone:
		start, ok := w.jobs[m.j]
		if !ok {
			// Canceled while running; the result is dropped and the token
			// was salvaged at cancellation time.
			return nil
		}
		delete(w.jobs, m.j)
		w.loop.metrics.JobDuration.WithLabelValues(w.poolName).
			Observe(w.loop.clock.Now().Sub(start).Seconds())
		return []Envelope{
			droppable(m.j.sender, msgJobFinished{j: m.j, v: m.v, err: m.err}),
			to(w.waiting, msgSalvageToken{}),
		}

	case msgCancelJob:
		if _, ok := w.jobs[m.j]; !ok {
			return nil
		}
		delete(w.jobs, m.j)
		if m.j.fut != nil {
			m.j.fut.Cancel()
		}
		return []Envelope{to(w.waiting, msgSalvageToken{})}

	default:
		invariantf("%s: unexpected message %T", w.addr, m)
		return nil
	}
}
