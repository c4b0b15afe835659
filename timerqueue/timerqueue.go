// Package timerqueue implements a deadline-ordered retry queue: push a
// value with a priority (a wall-clock deadline, as time.Time.UnixNano();
// the queue does not use Go's monotonic clock reading), and a callback
// fires once that deadline passes unless the entry is popped first. parcel
// uses one of these per transfer.Sender to drive DATA-ACK and META-ACK
// timeouts for all of that Sender's files (§4.6 step 6), and one per
// session to drive the PING reply timeout (§4.4).
//
// The shape — Push/Pop/Peek plus a Start/Stop pair backed by a single
// worker goroutine — mirrors *client.TimerQueue as used by the teacher's
// client2/arq.go (NewTimerQueue(callback), arq.timerQueue.Push(priority,
// surbID), arq.timerQueue.Peek()/Pop() to cancel a pending retransmission
// once its ACK arrives).
package timerqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/parcelwire/parcel/worker"
)

// Element is one entry in the queue, returned by Peek.
type Element struct {
	Priority uint64 // deadline, as time.Time.UnixNano()
	Value    interface{}
	index    int
}

type elementHeap []*Element

func (h elementHeap) Len() int            { return len(h) }
func (h elementHeap) Less(i, j int) bool  { return h[i].Priority < h[j].Priority }
func (h elementHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *elementHeap) Push(x interface{}) {
	e := x.(*Element)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *elementHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimerQueue fires callback(value) once the deadline given to Push for that
// value has passed, unless Pop removes it first.
type TimerQueue struct {
	worker.Worker

	callback func(interface{})

	mu     sync.Mutex
	h      elementHeap
	notify chan struct{}
}

// NewTimerQueue creates a TimerQueue. Call Start before Push.
func NewTimerQueue(callback func(interface{})) *TimerQueue {
	return &TimerQueue{
		callback: callback,
		notify:   make(chan struct{}, 1),
	}
}

// Start launches the background worker goroutine.
func (q *TimerQueue) Start() {
	q.Go(q.loop)
}

// Stop halts the worker and blocks until it has exited.
func (q *TimerQueue) Stop() {
	q.Halt()
	q.Wait()
}

// Len reports the number of pending entries.
func (q *TimerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Push schedules value to fire at priority (a UnixNano deadline) and
// returns the created Element, which Remove accepts to cancel it early.
func (q *TimerQueue) Push(priority uint64, value interface{}) *Element {
	e := &Element{Priority: priority, Value: value}
	q.mu.Lock()
	heap.Push(&q.h, e)
	q.mu.Unlock()
	q.wake()
	return e
}

// Remove cancels e, preventing its callback from firing, if it is still
// pending. Safe to call more than once, and safe to call after e has
// already fired or been popped (those set e's index to -1).
func (q *TimerQueue) Remove(e *Element) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.index < 0 || e.index >= len(q.h) || q.h[e.index] != e {
		return false
	}
	heap.Remove(&q.h, e.index)
	e.index = -1
	return true
}

// Peek returns the earliest-deadline entry without removing it, or nil if
// the queue is empty.
func (q *TimerQueue) Peek() *Element {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

// Pop removes and returns the earliest-deadline entry, or nil if empty.
func (q *TimerQueue) Pop() *Element {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil
	}
	return heap.Pop(&q.h).(*Element)
}

func (q *TimerQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *TimerQueue) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		q.mu.Lock()
		var wait time.Duration
		due := len(q.h) > 0
		if due {
			wait = time.Duration(int64(q.h[0].Priority) - time.Now().UnixNano())
		}
		q.mu.Unlock()

		if armed {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			armed = false
		}
		if due {
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
			armed = true
		}

		select {
		case <-q.HaltCh():
			return
		case <-q.notify:
			continue
		case <-timerC(due, timer):
			q.fireDue()
		}
	}
}

// timerC returns the timer's channel only when an entry is actually armed;
// otherwise it blocks forever so the select falls through to notify/halt.
func timerC(due bool, t *time.Timer) <-chan time.Time {
	if !due {
		return nil
	}
	return t.C
}

func (q *TimerQueue) fireDue() {
	now := time.Now().UnixNano()
	for {
		q.mu.Lock()
		if len(q.h) == 0 || q.h[0].Priority > uint64(now) {
			q.mu.Unlock()
			return
		}
		e := heap.Pop(&q.h).(*Element)
		q.mu.Unlock()
		q.callback(e.Value)
	}
}
