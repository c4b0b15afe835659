// Package progress tracks per-file transfer progress (§4.6 step 7, §4.7
// closing paragraph) and exposes it two ways: a throttled callback for a
// UI/telemetry consumer, and a live prometheus.Collector for scraping.
// Throttling uses golang.org/x/time/rate.Sometimes, the same "at most
// once per interval" primitive idiomatic Go rate limiting reaches for
// instead of a hand-rolled token bucket.
package progress

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PublishInterval is the maximum publish rate for non-terminal updates
// (§4.6 step 7, §4.7: "at most once per 1000 ms wall-clock").
const PublishInterval = time.Second

// Snapshot is one point-in-time progress report for a single file.
type Snapshot struct {
	FileSeq     uint32
	Name        string
	Role        string // "sender" or "receiver"
	Size        uint64
	Transmitted uint64
	Ratio       float64 // 0..1
	RateBps     float64
	ETASeconds  float64
	Completed   bool
	Aborted     bool
	Error       string
}

// Tracker accumulates bytes transmitted for one file and publishes
// throttled Snapshots. A Tracker is seeded at the file's origin_ts (§4.6
// step 3: "rate/ETA estimators seeded at origin_ts") rather than at
// construction time, since a sender may build the Tracker slightly
// before the first byte moves.
type Tracker struct {
	mu sync.Mutex

	fileSeq   uint32
	name      string
	role      string
	size      uint64
	originTS  time.Time
	sent      uint64
	completed bool
	aborted   bool
	errMsg    string

	sometimes rate.Sometimes
	onPublish func(Snapshot)

	collector *Collector
}

// NewTracker constructs a Tracker for one file. onPublish may be nil. If
// collector is non-nil, the Tracker registers itself for scraping and
// unregisters on Finalize/Abort.
func NewTracker(fileSeq uint32, name, role string, size uint64, originTS time.Time, onPublish func(Snapshot), collector *Collector) *Tracker {
	t := &Tracker{
		fileSeq:   fileSeq,
		name:      name,
		role:      role,
		size:      size,
		originTS:  originTS,
		sometimes: rate.Sometimes{Interval: PublishInterval},
		onPublish: onPublish,
		collector: collector,
	}
	if collector != nil {
		collector.add(t)
	}
	return t
}

// Advance records n additional transmitted/delivered bytes and attempts a
// throttled publish.
func (t *Tracker) Advance(n uint64) {
	t.mu.Lock()
	t.sent += n
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.sometimes.Do(func() {
		if t.onPublish != nil {
			t.onPublish(snap)
		}
	})
}

// Finalize marks the file complete (§4.6 step 8, §4.7 step 6) and
// publishes immediately, bypassing the throttle: a terminal state must
// always reach the consumer.
func (t *Tracker) Finalize() {
	t.mu.Lock()
	t.sent = t.size
	t.completed = true
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.forcePublish(snap)
}

// Abort marks the file aborted with reason (§4.6/§4.7 edge cases) and
// publishes immediately.
func (t *Tracker) Abort(reason string) {
	t.mu.Lock()
	t.aborted = true
	t.errMsg = reason
	snap := t.snapshotLocked()
	t.mu.Unlock()
	t.forcePublish(snap)
}

func (t *Tracker) forcePublish(snap Snapshot) {
	if t.onPublish != nil {
		t.onPublish(snap)
	}
	if t.collector != nil {
		t.collector.remove(t)
	}
}

// Snapshot returns the current state without advancing or throttling.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	var ratio, rateBps, eta float64
	if t.size > 0 {
		ratio = float64(t.sent) / float64(t.size)
	}
	if elapsed := time.Since(t.originTS).Seconds(); elapsed > 0 {
		rateBps = float64(t.sent) / elapsed
	}
	if rateBps > 0 && t.sent < t.size {
		eta = float64(t.size-t.sent) / rateBps
	}
	if t.completed {
		ratio = 1
		eta = 0
	}
	return Snapshot{
		FileSeq:     t.fileSeq,
		Name:        t.name,
		Role:        t.role,
		Size:        t.size,
		Transmitted: t.sent,
		Ratio:       ratio,
		RateBps:     rateBps,
		ETASeconds:  eta,
		Completed:   t.completed,
		Aborted:     t.aborted,
		Error:       t.errMsg,
	}
}
