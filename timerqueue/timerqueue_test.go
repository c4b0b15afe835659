package timerqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFiresInDeadlineOrder(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	q := NewTimerQueue(func(v interface{}) {
		mu.Lock()
		fired = append(fired, v.(string))
		mu.Unlock()
	})
	q.Start()
	defer q.Stop()

	now := time.Now()
	q.Push(uint64(now.Add(60*time.Millisecond).UnixNano()), "second")
	q.Push(uint64(now.Add(20*time.Millisecond).UnixNano()), "first")
	q.Push(uint64(now.Add(100*time.Millisecond).UnixNano()), "third")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fired) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second", "third"}, fired)
}

func TestPopCancelsPendingFire(t *testing.T) {
	fired := make(chan interface{}, 1)
	q := NewTimerQueue(func(v interface{}) { fired <- v })
	q.Start()
	defer q.Stop()

	deadline := uint64(time.Now().Add(30 * time.Millisecond).UnixNano())
	q.Push(deadline, "cancel-me")

	e := q.Pop()
	require.NotNil(t, e)
	require.Equal(t, "cancel-me", e.Value)

	select {
	case v := <-fired:
		t.Fatalf("callback fired for popped entry: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	q := NewTimerQueue(func(interface{}) {})
	q.Start()
	defer q.Stop()

	q.Push(uint64(time.Now().Add(time.Hour).UnixNano()), "x")
	require.Equal(t, 1, q.Len())

	e := q.Peek()
	require.NotNil(t, e)
	require.Equal(t, "x", e.Value)
	require.Equal(t, 1, q.Len())
}

func TestRemoveCancelsPendingFire(t *testing.T) {
	fired := make(chan interface{}, 1)
	q := NewTimerQueue(func(v interface{}) { fired <- v })
	q.Start()
	defer q.Stop()

	deadline := uint64(time.Now().Add(30 * time.Millisecond).UnixNano())
	e := q.Push(deadline, "cancel-me")

	require.True(t, q.Remove(e))
	require.False(t, q.Remove(e), "removing twice should report false the second time")

	select {
	case v := <-fired:
		t.Fatalf("callback fired for removed entry: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveAfterFireIsNoop(t *testing.T) {
	fired := make(chan interface{}, 1)
	q := NewTimerQueue(func(v interface{}) { fired <- v })
	q.Start()
	defer q.Stop()

	e := q.Push(uint64(time.Now().Add(5*time.Millisecond).UnixNano()), "x")

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("entry never fired")
	}

	require.False(t, q.Remove(e))
}

func TestEmptyQueuePeekPopReturnNil(t *testing.T) {
	q := NewTimerQueue(func(interface{}) {})
	require.Nil(t, q.Peek())
	require.Nil(t, q.Pop())
}
