package session

import (
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"

	"github.com/parcelwire/parcel/frame"
	"github.com/parcelwire/parcel/transport"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

func newTestPair(t *testing.T) (*Session, *Session, func()) {
	t.Helper()
	requestID, err := uuid.NewV4()
	require.NoError(t, err)

	a, b := transport.NewPipePair(transport.PipeOptions{Kind: transport.Socket, MaxPayload: 4096})

	senderID, _ := uuid.NewV4()
	receiverID, _ := uuid.NewV4()

	sender := New(requestID, senderID, RoleSender, *a, testLogger(), nil)
	receiver := New(requestID, receiverID, RoleReceiver, *b, testLogger(), nil)

	sender.Start()
	receiver.Start()

	return sender, receiver, func() {
		sender.Close(false)
		receiver.Close(false)
	}
}

func markReady(t *testing.T, tr transport.Transport) {
	t.Helper()
	p, ok := tr.(*transport.Pipe)
	require.True(t, ok)
	p.MarkReady()
}

func TestHandshakeEstablishesAndEmitsConnectionReady(t *testing.T) {
	sender, receiver, cleanup := newTestPair(t)
	defer cleanup()

	markReady(t, sender.tr)
	markReady(t, receiver.tr)

	requireConnectionReady(t, sender)
	requireConnectionReady(t, receiver)

	require.True(t, sender.Established())
	require.True(t, receiver.Established())
}

func requireConnectionReady(t *testing.T, s *Session) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.ConnectionReady != nil {
				return
			}
		case <-deadline:
			t.Fatalf("%s: connection-ready never arrived", s.Role)
		}
	}
}

func TestDuplicateShakehandIgnored(t *testing.T) {
	sender, receiver, cleanup := newTestPair(t)
	defer cleanup()

	markReady(t, sender.tr)
	markReady(t, receiver.tr)
	requireConnectionReady(t, sender)
	requireConnectionReady(t, receiver)

	// A second SHAKEHAND from the peer must not re-establish or emit
	// another connection-ready.
	require.NoError(t, sender.resendShakehandForTest())

	select {
	case ev := <-receiver.Events():
		t.Fatalf("unexpected event after duplicate SHAKEHAND: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

// resendShakehandForTest re-sends this session's SHAKEHAND frame,
// simulating a duplicate delivery.
func (s *Session) resendShakehandForTest() error {
	return s.tr.Send(frame.Encode(frame.Shakehand, frame.EncodeShakehand(s.RequestID, nowMs())))
}

func TestPeerCloseEmitsCleanCloseAndHalts(t *testing.T) {
	sender, receiver, cleanup := newTestPair(t)
	defer cleanup()

	markReady(t, sender.tr)
	markReady(t, receiver.tr)
	requireConnectionReady(t, sender)
	requireConnectionReady(t, receiver)

	sender.Close(true)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-receiver.Events():
			if ev.ConnectionClose != nil {
				require.Equal(t, 1000, ev.ConnectionClose.Code)
				require.Eventually(t, receiver.IsHalted, time.Second, 10*time.Millisecond)
				require.Equal(t, StateClosed, receiver.State())
				return
			}
		case <-deadline:
			t.Fatal("receiver never observed connection-close after PEER_CLOSE")
		}
	}
}

func TestRTTNeverNegative(t *testing.T) {
	sender, receiver, cleanup := newTestPair(t)
	defer cleanup()

	markReady(t, sender.tr)
	markReady(t, receiver.tr)
	requireConnectionReady(t, sender)
	requireConnectionReady(t, receiver)

	require.GreaterOrEqual(t, sender.RTTMs(), 0)
	require.GreaterOrEqual(t, receiver.RTTMs(), 0)
}

func TestUnexpectedTransportCloseEmitsErrorThenClose(t *testing.T) {
	sender, receiver, cleanup := newTestPair(t)
	defer cleanup()

	markReady(t, sender.tr)
	markReady(t, receiver.tr)
	requireConnectionReady(t, sender)
	requireConnectionReady(t, receiver)

	p, ok := sender.tr.(*transport.Pipe)
	require.True(t, ok)
	p.CloseUnexpectedly()

	var sawError, sawClose bool
	deadline := time.After(2 * time.Second)
	for !sawClose {
		select {
		case ev := <-sender.Events():
			if ev.ConnectionError != nil {
				require.False(t, sawClose, "connection-error arrived after connection-close")
				sawError = true
			}
			if ev.ConnectionClose != nil {
				require.Equal(t, 1007, ev.ConnectionClose.Code)
				sawClose = true
			}
		case <-deadline:
			t.Fatal("unexpected transport close never produced connection-close")
		}
	}
	require.True(t, sawError, "unexpected transport close should emit connection-error before connection-close")
}

func TestOnSubscriptionUnregisterStopsDelivery(t *testing.T) {
	sender, receiver, cleanup := newTestPair(t)
	defer cleanup()

	markReady(t, sender.tr)
	markReady(t, receiver.tr)
	requireConnectionReady(t, sender)
	requireConnectionReady(t, receiver)

	calls := make(chan []byte, 4)
	sub := receiver.On(frame.Meta, func(payload []byte) { calls <- payload })
	sub.Unregister()

	require.NoError(t, sender.SendMeta([]byte("hello")))

	select {
	case <-calls:
		t.Fatal("handler ran after Unregister")
	case <-time.After(200 * time.Millisecond):
	}
}
