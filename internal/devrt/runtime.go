package devrt

import (
	"sync"
	"sync/atomic"

	"github.com/es40emu/es40/internal/es40err"
)

// Runtime is the registry of every active device worker plus a global
// stopped flag, consulted by the main loop's check_state
// watchdog and by save-state (which requires every worker be stopped
// first, per §5 Cancellation).
type Runtime struct {
	mu      sync.Mutex
	workers []*Worker

	stopped uint32
}

func NewRuntime() *Runtime {
	return &Runtime{}
}

func (r *Runtime) Register(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers = append(r.workers, w)
}

// StartThreads is a marker call matching the source's start_threads;
// workers are started individually via Worker.Start, this just clears
// any previous stop state bookkeeping.
func (r *Runtime) StartThreads() {
	atomic.StoreUint32(&r.stopped, 0)
}

// StopThreads stops and joins every registered worker.
func (r *Runtime) StopThreads() {
	atomic.StoreUint32(&r.stopped, 1)

	r.mu.Lock()
	workers := append([]*Worker(nil), r.workers...)
	r.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

func (r *Runtime) Stopped() bool {
	return atomic.LoadUint32(&r.stopped) != 0
}

// CheckState is the watchdog called from the main loop: it observes the
// first dead worker and raises Thread with a clear diagnostic.
func (r *Runtime) CheckState() error {
	r.mu.Lock()
	workers := append([]*Worker(nil), r.workers...)
	r.mu.Unlock()

	for _, w := range workers {
		if dead, cause := w.Dead(); dead {
			return es40err.New(es40err.Thread, w.Name, "worker thread aborted: %v", cause)
		}
	}
	return nil
}
