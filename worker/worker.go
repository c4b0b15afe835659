// Package worker provides the cooperative goroutine-lifecycle embed used
// throughout parcel: every long-lived loop (session control loop, transport
// pumps, timer queue) runs on a Worker embed instead of rolling
// its own context/done-channel bookkeeping. The shape mirrors the
// worker.Worker embed used pervasively by the teacher's client2 and stream
// packages (connection.go, arq.go, stream/stream.go all embed
// worker.Worker and select on s.HaltCh()), though that package itself was
// outside the retrieval window — this is a from-scratch implementation of
// the same idiom.
package worker

import "sync"

// Worker supplies Go, Halt, Wait and HaltCh to an embedding struct. Halt is
// idempotent and safe to call from any goroutine; goroutines spawned via Go
// should select on HaltCh() alongside their blocking operations so Halt can
// interrupt them promptly.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup
	initOnce sync.Once
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that closes when Halt is first called.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.haltCh
}

// Go runs fn in a new goroutine tracked by Wait.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes HaltCh exactly once, signaling every tracked goroutine to
// return. It does not block; call Wait afterward to join them.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine started via Go has returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// IsHalted reports whether Halt has been called, without blocking.
func (w *Worker) IsHalted() bool {
	w.init()
	select {
	case <-w.haltCh:
		return true
	default:
		return false
	}
}
