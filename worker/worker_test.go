package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRunsAndHaltStopsIt(t *testing.T) {
	var w Worker
	started := make(chan struct{})
	stopped := make(chan struct{})

	w.Go(func() {
		close(started)
		<-w.HaltCh()
		close(stopped)
	})

	<-started
	require.False(t, w.IsHalted())

	w.Halt()
	w.Wait()

	require.True(t, w.IsHalted())
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("worker did not observe halt")
	}
}

func TestHaltIsIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
		w.Halt()
	})
	require.True(t, w.IsHalted())
}

func TestWaitJoinsMultipleGoroutines(t *testing.T) {
	var w Worker
	const n = 5
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		w.Go(func() {
			<-w.HaltCh()
			done <- struct{}{}
		})
	}
	w.Halt()
	w.Wait()
	require.Len(t, done, n)
}
