package session

import (
	"context"
	"time"

	"github.com/parcelwire/parcel/config"
	"github.com/parcelwire/parcel/frame"
)

func nowMs() uint64 { return uint64(time.Now().UnixMilli()) }

// sendShakehand emits this side's SHAKEHAND frame. It is called once when
// the transport becomes ready, and again (as the reply) by
// handleShakehand the first time a peer SHAKEHAND is accepted (§4.3:
// "Both peers send SHAKEHAND ... replies with its own SHAKEHAND").
func (s *Session) sendShakehand() {
	if err := s.send(frame.Shakehand, frame.EncodeShakehand(s.RequestID, nowMs())); err != nil {
		s.log.Warn("failed to send SHAKEHAND", "error", err)
	}
}

func (s *Session) handleShakehand(payload []byte) {
	requestID, _, err := frame.DecodeShakehand(payload)
	if err != nil {
		s.emitError("handshake", "malformed SHAKEHAND")
		return
	}
	if requestID != s.RequestID {
		s.emitError("handshake", "SHAKEHAND request_id mismatch")
		return
	}

	s.mu.Lock()
	if s.established {
		s.mu.Unlock()
		return // duplicate SHAKEHAND, ignored per §4.3
	}
	s.established = true
	s.state = StateReady
	maxPayload := s.maxPayload
	s.mu.Unlock()

	s.sendShakehand()
	s.log.Info("connection ready", "build_version", config.Version(), "max_payload", maxPayload)
	s.publish(Event{ConnectionReady: &ConnectionReadyEvent{MaxPayload: maxPayload}})

	if s.Role == RoleSender {
		s.Go(s.seedRTT)
	}
}

// seedRTT performs the initiator-only three serial PINGs (§4.4: "the
// session initiator performs three serial PINGs and averages them to
// seed rtt_ms"). A failed sample (timeout) is simply dropped; if every
// sample fails, no rtt_updated event fires and the opportunistic ping
// loop seeds RTT organically instead. Each requestPing call carries its
// own timeout internally via the liveness timer queue.
func (s *Session) seedRTT() {
	var sum, n int
	for i := 0; i < 3; i++ {
		elapsed, err := s.liveness.requestPing(context.Background())
		if err != nil {
			s.log.Warn("rtt seed ping failed", "attempt", i, "error", err)
			continue
		}
		sum += elapsed
		n++
	}
	if n == 0 {
		return
	}
	s.liveness.seedRTT(sum / n)
}
