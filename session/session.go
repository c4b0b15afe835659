// Package session implements the three-phase connection (discovery is
// handled by signaling; this package covers handshake and bulk transfer)
// described in §4.3-§4.5: a single cooperative control loop that
// multiplexes inbound frames to subscribers, runs the SHAKEHAND handshake,
// and drives PING/PONG liveness. It is the one piece of shared, owned
// state a transfer session has; transfer.Sender and transfer.Receiver
// register as subscribers rather than touching the transport directly.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"

	"github.com/parcelwire/parcel/config"
	"github.com/parcelwire/parcel/frame"
	"github.com/parcelwire/parcel/transport"
	"github.com/parcelwire/parcel/worker"
)

// Role is which end of the transfer a Session represents (§3).
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// State is the Session lifecycle state (§3).
type State int

const (
	StateConnecting State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	default:
		return "closed"
	}
}

// Handler processes one inbound frame's payload. Handlers run to
// completion before the control loop dispatches the next frame (§5).
type Handler func(payload []byte)

// Subscription is returned by On/Once; calling Unregister removes the
// handler. Per §9's design note, the subscription table is snapshotted
// before each dispatch so a handler may safely subscribe or unregister
// without corrupting the in-flight iteration.
type Subscription struct {
	unregister func()
	once       sync.Once
}

// Unregister removes the handler. Safe to call more than once.
func (s *Subscription) Unregister() {
	s.once.Do(s.unregister)
}

type subEntry struct {
	id      uint64
	handler Handler
	once    bool
}

// Session represents one end of a peer-to-peer transfer (§3).
type Session struct {
	worker.Worker

	log *log.Logger
	cfg *config.Engine

	RequestID uuid.UUID
	LocalID   uuid.UUID
	Role      Role

	tr transport.Transport

	// EnableAck is the session-level per-packet ACK policy (§4.6 step 6,
	// §9 Open Questions). Defaults to the transport's DefaultEnableAck
	// but may be overridden by the caller before Start.
	EnableAck bool

	mu          sync.Mutex
	state       State
	established bool
	rttMs       int
	maxPayload  int

	subMu   sync.Mutex
	subs    map[frame.Flag][]subEntry
	nextSub uint64

	events chan Event

	liveness livenessState
}

// New constructs a Session bound to tr. Call Start to begin dispatching.
// cfg supplies the liveness timing this session runs on (§4.4); a nil cfg
// falls back to config.Defaults().
func New(requestID, localID uuid.UUID, role Role, tr transport.Transport, logger *log.Logger, cfg *config.Engine) *Session {
	if cfg == nil {
		cfg = config.Defaults()
	}
	s := &Session{
		log:        logger.WithPrefix(role.String()),
		cfg:        cfg,
		RequestID:  requestID,
		LocalID:    localID,
		Role:       role,
		tr:         tr,
		EnableAck:  tr.DefaultEnableAck(),
		maxPayload: tr.MaxPayload(),
		subs:       make(map[frame.Flag][]subEntry),
		events:     make(chan Event, 32),
	}
	s.liveness = newLivenessState(s)
	return s
}

// Events returns the channel lifecycle events (connection-ready,
// connection-close, connection-error, rtt-updated) are published on.
func (s *Session) Events() <-chan Event { return s.events }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Established reports whether the SHAKEHAND handshake has completed.
func (s *Session) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// RTTMs returns the current smoothed round-trip time (§4.4). Always >= 0
// (§8 invariant 7).
func (s *Session) RTTMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rttMs
}

// MaxPayload returns the fixed, handshake-discovered maximum DATA/ACK
// payload size for this session's transport.
func (s *Session) MaxPayload() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPayload
}

// On registers h for frames carrying flag. The returned Subscription's
// Unregister method removes h.
func (s *Session) On(flag frame.Flag, h Handler) *Subscription {
	return s.register(flag, h, false)
}

// Once registers h to run exactly once, self-unregistering afterward.
func (s *Session) Once(flag frame.Flag, h Handler) *Subscription {
	return s.register(flag, h, true)
}

func (s *Session) register(flag frame.Flag, h Handler, once bool) *Subscription {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[flag] = append(s.subs[flag], subEntry{id: id, handler: h, once: once})
	s.subMu.Unlock()

	sub := &Subscription{}
	sub.unregister = func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		list := s.subs[flag]
		for i, e := range list {
			if e.id == id {
				s.subs[flag] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
	return sub
}

// snapshotHandlers copies the handler list for flag so dispatch can run
// without holding subMu (§9: "avoid hash reentry during dispatch by
// snapshotting handlers before invocation").
func (s *Session) snapshotHandlers(flag frame.Flag) []subEntry {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	list := s.subs[flag]
	out := make([]subEntry, len(list))
	copy(out, list)
	return out
}

func (s *Session) dispatch(flag frame.Flag, payload []byte) {
	for _, e := range s.snapshotHandlers(flag) {
		e.handler(payload)
		if e.once {
			s.subMu.Lock()
			list := s.subs[flag]
			for i, cur := range list {
				if cur.id == e.id {
					s.subs[flag] = append(list[:i], list[i+1:]...)
					break
				}
			}
			s.subMu.Unlock()
		}
	}
}

// Start launches the control loop. The handshake begins once the
// transport's Ready channel closes.
func (s *Session) Start() {
	s.On(frame.Shakehand, s.handleShakehand)
	s.On(frame.Ping, s.handlePing)
	s.On(frame.Pong, s.handlePong)
	s.On(frame.PeerClose, s.handlePeerClose)

	s.Go(s.controlLoop)
	s.Go(s.watchReady)
	s.Go(s.watchTransportDone)
	s.liveness.start()
}

func (s *Session) watchReady() {
	select {
	case <-s.tr.Ready():
	case <-s.HaltCh():
		return
	}
	s.mu.Lock()
	s.state = StateHandshaking
	s.mu.Unlock()
	s.sendShakehand()
}

func (s *Session) watchTransportDone() {
	select {
	case <-s.tr.Done():
	case <-s.HaltCh():
		return
	}
	s.mu.Lock()
	established := s.established
	s.state = StateClosed
	s.mu.Unlock()

	if !established {
		return
	}

	switch s.tr.CloseReason() {
	case transport.CloseLocal:
		// explicit close already emitted (or suppressed) its own event.
	case transport.CloseRelayAbnormal:
		s.emitClose(1005, "abnormal closure")
	default:
		// §7 "Transport error": an unexpected transport close is
		// surfaced as connection-error then connection-close, the same
		// two-event sequence handshake.go uses for handshake anomalies.
		s.emitError("transport", "channel closed unexpectedly")
		s.emitClose(1007, "channel closed unexpectedly")
	}
	s.Halt()
	s.liveness.stop()
}

func (s *Session) controlLoop() {
	for {
		select {
		case <-s.HaltCh():
			return
		case raw, ok := <-s.tr.Frames():
			if !ok {
				return
			}
			fl, payload, err := frame.Decode(raw)
			if err != nil || fl.IsRelay() {
				continue
			}
			s.liveness.onInboundActivity()
			s.dispatch(fl, payload)
		}
	}
}

// send wraps transport.Send with the liveness module's
// "after any outbound send" PING scheduling hook (§4.4).
func (s *Session) send(flag frame.Flag, payload []byte) error {
	err := s.tr.Send(frame.Encode(flag, payload))
	if err == nil {
		s.liveness.onOutboundActivity()
	}
	return err
}

// AwaitDrain exposes the transport's backpressure wait to callers (the
// sender pipeline) that need to throttle DATA sends.
func (s *Session) AwaitDrain(ctx context.Context) error {
	return s.tr.AwaitDrain(ctx)
}

// SendData sends a DATA frame with the given AckHeader prefix applied by
// the caller (transfer.Sender builds the full payload itself, since it
// knows file_seq/packet_seq).
func (s *Session) SendData(payload []byte) error {
	return s.send(frame.Data, payload)
}

// SendMeta sends a META frame.
func (s *Session) SendMeta(payload []byte) error {
	return s.send(frame.Meta, payload)
}

// SendAck sends an ACK frame.
func (s *Session) SendAck(fileSeq, packetSeq uint32) error {
	return s.send(frame.Ack, frame.EncodeAckHeader(fileSeq, packetSeq))
}

// Close tears the session down. If notifyPeer is true, a best-effort
// PEER_CLOSE frame is sent first (§4.5: "Local explicit close with
// notify"); no connection-close event is emitted for a local explicit
// close.
func (s *Session) Close(notifyPeer bool) {
	s.mu.Lock()
	already := s.state == StateClosed
	s.state = StateClosed
	s.mu.Unlock()
	if already {
		return
	}
	if notifyPeer {
		_ = s.send(frame.PeerClose, nil)
	}
	_ = s.tr.Close()
	s.Halt()
	s.liveness.stop()
}

func (s *Session) handlePeerClose(_ []byte) {
	s.emitClose(1000, "closed cleanly")
	s.Close(false)
}

func (s *Session) emitClose(code int, reason string) {
	s.publish(Event{ConnectionClose: &ConnectionCloseEvent{Code: code, Reason: reason}})
}

func (s *Session) emitError(source, message string) {
	s.publish(Event{ConnectionError: &ConnectionErrorEvent{Source: source, Message: message}})
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	case <-time.After(time.Second):
		s.log.Warn("dropped lifecycle event, subscriber not draining", "event", ev)
	}
}
