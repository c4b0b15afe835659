package session

// Event is published on Session.Events(). Exactly one of the pointer
// fields is non-nil per event, mirroring the flat optional-field shape
// the teacher's plugin event bus uses rather than a sum type, since the
// consumer side (UI, CLI) usually only cares about one field at a time.
type Event struct {
	ConnectionReady *ConnectionReadyEvent
	ConnectionClose *ConnectionCloseEvent
	ConnectionError *ConnectionErrorEvent
	RTTUpdated      *RTTUpdatedEvent
}

// ConnectionReadyEvent fires once, when the SHAKEHAND handshake completes.
type ConnectionReadyEvent struct {
	MaxPayload int
}

// ConnectionCloseEvent fires when an established session ends for any
// reason other than a local explicit Close, with or without notify (§4.5).
type ConnectionCloseEvent struct {
	Code   int
	Reason string
}

// ConnectionErrorEvent reports a protocol anomaly (a malformed control
// frame, a SHAKEHAND request_id mismatch, and the like) or, with Source
// "transport", an unexpected transport close, in which case a
// connection-close with code 1007 follows. It does not by itself end the
// session.
type ConnectionErrorEvent struct {
	Source  string
	Message string
}

// RTTUpdatedEvent fires whenever the smoothed RTT estimate changes
// (§4.4), including the one-time seed value computed from the
// initiator's three serial pings.
type RTTUpdatedEvent struct {
	RTTMs int
}
