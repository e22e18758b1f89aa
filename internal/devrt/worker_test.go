package devrt

import (
	"errors"
	"testing"
	"time"
)

func TestWorkerStopJoins(t *testing.T) {
	w := NewWorker("test")
	ticks := 0

	w.Start(func(w *Worker) error {
		for !w.ShouldStop() {
			ticks++
			w.WaitWork(5 * time.Millisecond)
		}
		return nil
	})

	time.Sleep(20 * time.Millisecond)
	w.Stop()

	if ticks == 0 {
		t.Fatal("worker never ran")
	}
	if dead, _ := w.Dead(); dead {
		t.Fatal("clean stop must not mark worker dead")
	}
}

func TestWorkerErrorMarksDead(t *testing.T) {
	w := NewWorker("test")
	done := make(chan struct{})
	w.Start(func(w *Worker) error {
		defer close(done)
		return errors.New("boom")
	})
	<-done
	time.Sleep(5 * time.Millisecond)

	if dead, err := w.Dead(); !dead || err == nil {
		t.Fatalf("expected dead=true with error, got dead=%v err=%v", dead, err)
	}
}

func TestWorkerPanicMarksDead(t *testing.T) {
	w := NewWorker("test")
	w.Start(func(w *Worker) error {
		panic("kaboom")
	})
	w.wg.Wait()

	if dead, err := w.Dead(); !dead || err == nil {
		t.Fatalf("expected panic to mark worker dead, got dead=%v err=%v", dead, err)
	}
}

func TestRuntimeCheckState(t *testing.T) {
	r := NewRuntime()
	w := NewWorker("bad")
	r.Register(w)

	done := make(chan struct{})
	w.Start(func(w *Worker) error {
		defer close(done)
		return errors.New("died")
	})
	<-done
	time.Sleep(5 * time.Millisecond)

	if err := r.CheckState(); err == nil {
		t.Fatal("expected CheckState to surface the dead worker")
	}
}

func TestSignalWakesParkedWorker(t *testing.T) {
	w := NewWorker("test")
	woke := make(chan struct{}, 1)

	w.Start(func(w *Worker) error {
		w.WaitWork(time.Second)
		woke <- struct{}{}
		return nil
	})

	w.Signal()
	select {
	case <-woke:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("signal did not wake parked worker in time")
	}
	w.Stop()
}
