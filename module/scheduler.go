// Package module implements the Compute Module's boss/worker scheduler: a
// bounded pool of workers consuming a thread-safe work queue with
// cooperative abort, backpressure, and streamed results.
//
// Boss/worker hand-off uses a capacity-1 channel per worker rather than a
// condition variable plus a mutable "current job" slot. spec.md §9 flags
// the condvar-plus-slot design as the source of a "spurious wake
// re-executes last work" bug that the original masked by resetting the
// slot's type to a sentinel; a channel send/receive pair has no such
// state to get out of sync.
package module

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"code.hybscloud.com/juliadist/cancel"
	"code.hybscloud.com/juliadist/fractal"
	"code.hybscloud.com/juliadist/queue"
	"code.hybscloud.com/juliadist/transport"
	"code.hybscloud.com/juliadist/wire"
)

// Job is the Module-internal representation of one Compute request, owned
// by the work queue until a worker takes it.
type Job struct {
	ChunkID  uint8
	OriginRe float64
	OriginIm float64
	NRe      uint8
	NIm      uint8
	Params   fractal.Params
}

// worker tracks one pool slot's liveness state.
type worker struct {
	id    int
	ch    chan Job
	busy  atomic.Bool
	abort cancel.Flag
}

// Sender is the narrow transport capability a worker needs: emitting a
// chunk's Burst and its matching Done as one atomic unit. Accepting this
// instead of *transport.Transport lets tests substitute an in-memory
// recorder.
type Sender interface {
	SendBurstThenDone(burst, done wire.Message) error
}

// Scheduler is the Module's boss: it owns the work queue and the fixed
// worker pool, and the global parameter generation SetCompute installs.
type Scheduler struct {
	tx  Sender
	log zerolog.Logger

	quit *cancel.Flag

	workers []*worker
	next    int

	workQueue   *queue.Queue[Job]
	globalAbort cancel.Flag

	paramsMu   sync.RWMutex
	params     fractal.Params
	generation uint64
}

// NewScheduler constructs a Scheduler with workerCount workers (1-8
// expected by spec.md §5, but not clamped here — callers validate CLI
// input before construction).
func NewScheduler(tx Sender, workerCount int, quit *cancel.Flag, log zerolog.Logger) *Scheduler {
	s := &Scheduler{
		tx:        tx,
		log:       log,
		quit:      quit,
		workQueue: queue.New[Job](),
	}
	for i := 0; i < workerCount; i++ {
		s.workers = append(s.workers, &worker{id: i, ch: make(chan Job, 1)})
	}
	return s
}

// WorkerCount reports the configured pool size.
func (s *Scheduler) WorkerCount() int { return len(s.workers) }

// CurrentParams returns the active generation's parameters.
func (s *Scheduler) CurrentParams() fractal.Params {
	s.paramsMu.RLock()
	defer s.paramsMu.RUnlock()
	return s.params
}

// SetParams installs a new parameter generation and raises the global
// abort flag: per spec.md §4.3, "[t]he message handler thread raises the
// global abort, updates (c, d, n), then signals Ok. The boss observes the
// abort on its next iteration and purges the queue and in-flight work."
// Because every Job snapshots Params.Generation at submission time (see
// Submit), no worker can ever observe a mix of old and new parameters
// within one chunk; the global abort is still raised so that queued and
// in-flight work under the old parameters is dropped.
func (s *Scheduler) SetParams(c, d complex128, n uint8) {
	s.paramsMu.Lock()
	s.generation++
	s.params = fractal.Params{C: c, D: d, N: n, Generation: s.generation}
	s.paramsMu.Unlock()
	s.globalAbort.Set()
}

// Abort raises the global abort flag without changing parameters — the
// user-initiated 'a' key / Abort message path.
func (s *Scheduler) Abort() { s.globalAbort.Set() }

// Submit validates a Compute request against the active parameter
// generation's precondition and, if valid, enqueues a Job. ok is false
// when the precondition in spec.md §3 ("SetCompute must precede any
// Compute...") is not met, in which case the caller replies Error instead
// of enqueuing work.
func (s *Scheduler) Submit(cm wire.ComputePayload) (ok bool) {
	p := s.CurrentParams()
	if !p.Valid() {
		return false
	}
	s.workQueue.Push(Job{
		ChunkID:  cm.ChunkID,
		OriginRe: cm.Re,
		OriginIm: cm.Im,
		NRe:      cm.NRe,
		NIm:      cm.NIm,
		Params:   p,
	})
	return true
}

// Run drives the boss loop until quit is raised: purge on abort, pop work,
// hand it to the next non-busy worker round-robin. It also starts the
// worker goroutines and returns once all of them have exited.
func (s *Scheduler) Run() {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			s.runWorker(w)
		}(w)
	}

	for !s.quit.IsSet() {
		if s.globalAbort.IsSet() {
			s.workQueue.Clear(nil)
			for _, w := range s.workers {
				if w.busy.Load() {
					w.abort.Set()
				}
			}
			s.globalAbort.Clear()
		}

		job, ok := s.workQueue.Pop()
		if !ok {
			time.Sleep(transport.DelayMS)
			continue
		}
		if !s.dispatch(job) {
			// No idle worker right now; put it back and wait for one to
			// free up. The Controller's pacing invariant (<= worker_count
			// outstanding) keeps this rare in practice.
			s.workQueue.Push(job)
			time.Sleep(transport.DelayMS)
		}
	}
	wg.Wait()
}

// dispatch hands job to the next idle worker, scanning round-robin from
// where the previous dispatch left off.
func (s *Scheduler) dispatch(job Job) bool {
	n := len(s.workers)
	for i := 0; i < n; i++ {
		idx := (s.next + i) % n
		w := s.workers[idx]
		if w.busy.CompareAndSwap(false, true) {
			w.ch <- job
			s.next = (idx + 1) % n
			return true
		}
	}
	return false
}
