// Package devrt implements the device-runtime concurrency contract: one
// worker goroutine per active device, a cooperative stop/join protocol,
// a binary semaphore to wake an idle worker, and the watchdog that
// observes worker death from the main loop.
//
// Lock ordering is strictly fabric -> device: the bus fabric's own lock
// (internal to internal/fabric) is always acquired before a device's own
// mutex, never the reverse, and a device never acquires another
// device's mutex while holding its own. DMA calls a worker makes back
// into the fabric (internal/fabric.Fabric.ReadMem/WriteMem) must
// therefore happen without holding any other device's lock.
package devrt

import (
	"fmt"
	"sync"
	"time"

	"github.com/es40emu/es40/internal/es40err"
	log "github.com/es40emu/es40/pkg/minilog"
)

// DefaultIdlePoll is the bounded sleep a worker uses when parking
// between work units without an explicit wake, per §4.4 (1-20ms).
const DefaultIdlePoll = 10 * time.Millisecond

// Worker is one device's background thread. Run loops are supplied by
// the device and must structure themselves as: check ShouldStop, do one
// bounded unit of work, then WaitWork. Start wraps the loop so a panic
// or returned error marks the worker dead instead of taking down the
// whole process, mirroring the source's CException boundary at the
// thread entry point (see Design Note 9).
type Worker struct {
	Name string

	stop     chan struct{}
	stopOnce sync.Once
	wake     chan struct{}

	wg sync.WaitGroup

	deadMu sync.Mutex
	dead   bool
	deadAt error
}

func NewWorker(name string) *Worker {
	return &Worker{
		Name: name,
		stop: make(chan struct{}),
		wake: make(chan struct{}, 1),
	}
}

// Start launches fn as the worker's run loop.
func (w *Worker) Start(fn func(w *Worker) error) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.markDead(fmt.Errorf("panic: %v", r))
			}
		}()

		if err := fn(w); err != nil && !es40err.IsGraceful(err) {
			w.markDead(err)
		}
	}()
}

func (w *Worker) markDead(err error) {
	w.deadMu.Lock()
	w.dead = true
	w.deadAt = err
	w.deadMu.Unlock()
	log.Error("%s: worker died: %v", w.Name, err)
}

// Dead reports whether the worker's catch-all handler has fired, and
// the error that killed it.
func (w *Worker) Dead() (bool, error) {
	w.deadMu.Lock()
	defer w.deadMu.Unlock()
	return w.dead, w.deadAt
}

// ShouldStop is checked at the top of every worker iteration.
func (w *Worker) ShouldStop() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// Signal wakes a parked worker exactly once (a binary semaphore): if the
// worker is already awake, one wake is held pending for its next
// WaitWork, and further signals before then are coalesced into it.
func (w *Worker) Signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// WaitWork parks the worker until Signal fires, the stop flag is set, or
// timeout elapses. It must only be called between bounded work units,
// never while holding the device's own mutex.
func (w *Worker) WaitWork(timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultIdlePoll
	}
	select {
	case <-w.wake:
	case <-w.stop:
	case <-time.After(timeout):
	}
}

// Stop sets the stop flag, signals the semaphore so a parked worker
// notices, and joins. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.Signal()
	w.wg.Wait()
}
