package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parcelwire/parcel/frame"
	"github.com/parcelwire/parcel/timerqueue"
)

// opportunisticInterval is how often the opportunistic loop checks
// whether a ping is due; the actual cadence is governed by the
// suppression window in cfg, not this tick rate.
const opportunisticInterval = 500 * time.Millisecond

type pongResult struct {
	elapsedMs int
}

// pingWait is one in-flight requestPing call's bookkeeping: ch delivers
// the matching PONG, timeoutCh closes if tq's deadline fires first. elem
// is canceled via tq.Remove as soon as either happens, the same pattern
// transfer.Sender uses for its own ACK retransmission timers.
type pingWait struct {
	ch        chan pongResult
	timeoutCh chan struct{}
	elem      *timerqueue.Element
}

// livenessState tracks PING/PONG round trips for one Session: the
// opportunistic keepalive loop, the smoothed RTT estimate, and the
// blocking request/response bookkeeping shared by the opportunistic loop
// and the initiator's RTT-seeding pings.
type livenessState struct {
	s  *Session
	tq *timerqueue.TimerQueue

	mu        sync.Mutex
	seq       uint16
	rtt       int
	nextDueMs uint64
	waiters   map[uint16]*pingWait
}

func newLivenessState(s *Session) livenessState {
	return livenessState{s: s, waiters: make(map[uint16]*pingWait)}
}

func (l *livenessState) start() {
	l.tq = timerqueue.NewTimerQueue(l.onPingTimeout)
	l.tq.Start()
	l.s.Go(l.opportunisticLoop)
}

func (l *livenessState) stop() {
	l.tq.Stop()
}

// touch extends the suppression window; called after any inbound or
// outbound traffic so the opportunistic loop doesn't ping a link that has
// just proven itself alive.
func (l *livenessState) touch() {
	l.mu.Lock()
	l.nextDueMs = nowMs() + uint64(l.s.cfg.PingSuppressWindowMs)
	l.mu.Unlock()
}

func (l *livenessState) onInboundActivity()  { l.touch() }
func (l *livenessState) onOutboundActivity() { l.touch() }

func (l *livenessState) opportunisticLoop() {
	ticker := time.NewTicker(opportunisticInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.s.HaltCh():
			return
		case <-ticker.C:
			if !l.s.Established() {
				continue
			}
			l.mu.Lock()
			due := l.nextDueMs == 0 || nowMs() >= l.nextDueMs
			l.mu.Unlock()
			if !due {
				continue
			}
			l.s.Go(l.fireOpportunisticPing)
		}
	}
}

func (l *livenessState) fireOpportunisticPing() {
	if _, err := l.requestPing(context.Background()); err != nil {
		l.s.log.Warn("ping timeout, closing session", "error", err)
		l.s.emitClose(1007, "ping timeout")
		l.s.Close(false)
	}
}

// requestPing sends one PING and blocks for its matching PONG, up to
// cfg.PingTimeout(), scheduled on the liveness timer queue the same way
// transfer.Sender schedules its ACK retries. ctx may still cancel the
// wait early (session halt or caller cancellation); it does not extend or
// shorten the ping timeout itself. Used by both the opportunistic loop
// and seedRTT.
func (l *livenessState) requestPing(ctx context.Context) (int, error) {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	w := &pingWait{ch: make(chan pongResult, 1), timeoutCh: make(chan struct{})}
	l.waiters[seq] = w
	l.mu.Unlock()

	if err := l.s.send(frame.Ping, frame.EncodePing(seq, nowMs())); err != nil {
		l.mu.Lock()
		delete(l.waiters, seq)
		l.mu.Unlock()
		return 0, err
	}

	deadline := uint64(time.Now().Add(l.s.cfg.PingTimeout()).UnixNano())
	w.elem = l.tq.Push(deadline, seq)

	select {
	case res := <-w.ch:
		return res.elapsedMs, nil
	case <-w.timeoutCh:
		return 0, fmt.Errorf("session: ping timeout")
	case <-ctx.Done():
		l.cancelWait(seq)
		return 0, ctx.Err()
	case <-l.s.HaltCh():
		l.cancelWait(seq)
		return 0, fmt.Errorf("session: halted while awaiting PONG")
	}
}

func (l *livenessState) cancelWait(seq uint16) {
	l.mu.Lock()
	w, ok := l.waiters[seq]
	if ok {
		delete(l.waiters, seq)
	}
	l.mu.Unlock()
	if ok {
		l.tq.Remove(w.elem)
	}
}

// onPingTimeout is the timer queue callback shared by every requestPing
// call; v is the sequence number pushed alongside the deadline.
func (l *livenessState) onPingTimeout(v interface{}) {
	seq := v.(uint16)
	l.mu.Lock()
	w, ok := l.waiters[seq]
	if ok {
		delete(l.waiters, seq)
	}
	l.mu.Unlock()
	if ok {
		close(w.timeoutCh)
	}
}

// handlePing answers a peer PING with a PONG that echoes the same
// sequence and timestamp, so the peer can compute round-trip time itself.
func (s *Session) handlePing(payload []byte) {
	seq, ts, err := frame.DecodePingPong(payload, false)
	if err != nil {
		return
	}
	_ = s.send(frame.Pong, frame.EncodePong(seq, ts))
}

func (s *Session) handlePong(payload []byte) {
	seq, ts, err := frame.DecodePingPong(payload, true)
	if err != nil {
		return
	}
	elapsed := int(int64(nowMs()) - int64(ts))
	if elapsed < 0 {
		elapsed = 0
	}
	s.liveness.onPong(seq, elapsed)
}

func (l *livenessState) onPong(seq uint16, elapsedMs int) {
	l.mu.Lock()
	w, ok := l.waiters[seq]
	if ok {
		delete(l.waiters, seq)
	}
	l.nextDueMs = nowMs() + uint64(l.s.cfg.PingSuppressWindowMs)
	l.mu.Unlock()
	if ok {
		l.tq.Remove(w.elem)
		w.ch <- pongResult{elapsedMs: elapsedMs}
	}
	l.updateRTT(elapsedMs)
}

// updateRTT applies the smoothing formula from §4.4: the new estimate is
// the ceiling of the average of the latest sample and the previous
// estimate, so a single noisy sample can't swing rtt_ms by more than half
// the gap. rtt_updated only fires when the value actually changes.
func (l *livenessState) updateRTT(elapsedMs int) {
	l.mu.Lock()
	prev := l.rtt
	next := (elapsedMs + prev + 1) / 2
	if next < 0 {
		next = 0
	}
	l.rtt = next
	changed := next != prev
	l.mu.Unlock()
	if changed {
		l.publish(next)
	}
}

// seedRTT sets rtt_ms directly from the initiator's three-ping average
// (§4.4), bypassing the incremental smoothing formula since there is no
// prior estimate to smooth against.
func (l *livenessState) seedRTT(avg int) {
	l.mu.Lock()
	l.rtt = avg
	l.mu.Unlock()
	l.publish(avg)
}

func (l *livenessState) publish(rttMs int) {
	l.s.mu.Lock()
	l.s.rttMs = rttMs
	l.s.mu.Unlock()
	l.s.publish(Event{RTTUpdated: &RTTUpdatedEvent{RTTMs: rttMs}})
}
