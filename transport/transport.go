// Package transport defines the uniform interface session.Session drives
// regardless of which concrete wire carries frames: transport/rtcchannel
// (a WebRTC data channel) or transport/wsrelay (a relayed WebSocket byte
// stream). Per design note §9 "Dual transports", the union is never
// exposed above this interface — differences in chunking and the
// enable_ack default are resolved once, at adapter construction.
package transport

import "context"

// Kind distinguishes the two transport variants named in §3's Session.transport_kind.
type Kind int

const (
	Datachannel Kind = iota
	Socket
)

func (k Kind) String() string {
	if k == Socket {
		return "socket"
	}
	return "datachannel"
}

// CloseReason classifies why a Transport's Done channel closed, so
// session.Session can pick the right connection-close code (§4.5).
type CloseReason int

const (
	// CloseUnspecified means Close was never called and Done has not
	// closed; callers should not observe this value.
	CloseUnspecified CloseReason = iota
	// CloseLocal means the local side called Close.
	CloseLocal
	// CloseUnexpected means the underlying transport ended without a
	// local Close call and without a relay abnormal-close signal —
	// "channel closed unexpectedly" (code 1007).
	CloseUnexpected
	// CloseRelayAbnormal means the socket transport's relay sent
	// PROXY_CONNECTION_CLOSE — "abnormal closure" (code 1005).
	CloseRelayAbnormal
)

// Transport is the capability set session.Session requires: send one frame,
// receive frames in arrival order, apply send-side backpressure, and learn
// when the channel opens or closes. Frame bytes passed to Send and
// delivered on Frames are already flag+payload encoded (see package frame);
// the transport treats them as opaque messages.
type Transport interface {
	// Kind reports which variant this is. The default enable_ack policy
	// (§4.6 step 6) comes from DefaultEnableAck, not from Kind.
	Kind() Kind

	// MaxPayload is the largest DATA/ACK payload (AckHeader included)
	// this transport can carry in one frame, discovered during
	// handshake (§4.3) and fixed thereafter (§3 invariant).
	MaxPayload() int

	// DefaultEnableAck is this transport's historical default for
	// per-packet ACKs (§9 Open Questions): true for the unreliable
	// datachannel, false for the already-reliable socket relay.
	DefaultEnableAck() bool

	// Send enqueues one frame for transmission. It returns once the
	// frame is queued, not once it is on the wire; use AwaitDrain for
	// backpressure.
	Send(raw []byte) error

	// Frames yields inbound frames in arrival order. The channel is not
	// closed when the transport closes; watch Done for that.
	Frames() <-chan []byte

	// AwaitDrain blocks until the transport's outbound buffer is below
	// its backpressure threshold, polling at a fixed interval (16ms
	// default, §5). It returns early if ctx is canceled or the
	// transport closes.
	AwaitDrain(ctx context.Context) error

	// Ready closes once the transport reaches its "open" state: a
	// WebRTC data channel's open event, or the relay's
	// PROXY_CONNECTION_ESTABLISHED. This is what triggers the
	// handshake in §4.3.
	Ready() <-chan struct{}

	// Done closes when the transport has closed, for any reason.
	Done() <-chan struct{}

	// CloseReason is valid after Done has closed.
	CloseReason() CloseReason

	// Close tears the transport down locally. Safe to call more than
	// once.
	Close() error
}
