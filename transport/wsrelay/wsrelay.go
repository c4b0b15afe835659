// Package wsrelay implements the "socket" transport variant (§4.2): a
// reliable, ordered, full-duplex byte stream relayed by a server. The
// client opens a WebSocket to the relay, sends PROXY_WHO, and waits for
// PROXY_CONNECTION_ESTABLISHED before the session layer starts its
// handshake. gorilla/websocket carries the bytes; every message on the
// wire is already a parcel/frame-encoded frame (flag byte + payload),
// including the 0xF0-0xFF relay control frames this package consumes
// itself so they never reach session.Session.
package wsrelay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
	"github.com/gorilla/websocket"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/parcelwire/parcel/config"
	"github.com/parcelwire/parcel/frame"
	"github.com/parcelwire/parcel/transport"
	"github.com/parcelwire/parcel/worker"
)

// Transport is a transport.Transport backed by a WebSocket relay
// connection.
type Transport struct {
	worker.Worker

	conn *websocket.Conn
	log  *log.Logger
	cfg  *config.Engine

	requestID, localID uuid.UUID

	out *channels.InfiniteChannel
	in  chan []byte

	readyCh   chan struct{}
	readyOnce sync.Once

	doneCh      chan struct{}
	doneOnce    sync.Once
	closeReason transport.CloseReason
	reasonMu    sync.Mutex
}

var _ transport.Transport = (*Transport)(nil)

// Dial opens a WebSocket connection to the relay at url, announces
// (requestID, localID) via PROXY_WHO, and returns a Transport whose Ready
// channel closes once the relay reports PROXY_CONNECTION_ESTABLISHED. cfg
// supplies the default max_payload and drain tuning (§3, §5); a nil cfg
// falls back to config.Defaults().
func Dial(ctx context.Context, url string, requestID, localID uuid.UUID, logger *log.Logger, cfg *config.Engine) (*Transport, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("wsrelay: dial %s: %w", url, err)
	}
	return newTransport(conn, requestID, localID, logger, cfg)
}

func newTransport(conn *websocket.Conn, requestID, localID uuid.UUID, logger *log.Logger, cfg *config.Engine) (*Transport, error) {
	t := &Transport{
		conn:      conn,
		log:       logger.WithPrefix("wsrelay"),
		cfg:       cfg,
		requestID: requestID,
		localID:   localID,
		out:       channels.NewInfiniteChannel(),
		in:        make(chan []byte, 256),
		readyCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	who := frame.Encode(frame.ProxyWho, frame.EncodeProxyWho(requestID, localID))
	if err := conn.WriteMessage(websocket.BinaryMessage, who); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wsrelay: send PROXY_WHO: %w", err)
	}

	t.Go(t.readPump)
	t.Go(t.writePump)
	return t, nil
}

func (t *Transport) Kind() transport.Kind    { return transport.Socket }
func (t *Transport) MaxPayload() int         { return t.cfg.DefaultMaxPayload }
func (t *Transport) DefaultEnableAck() bool  { return false }
func (t *Transport) Frames() <-chan []byte   { return t.in }
func (t *Transport) Ready() <-chan struct{}  { return t.readyCh }
func (t *Transport) Done() <-chan struct{}   { return t.doneCh }

func (t *Transport) CloseReason() transport.CloseReason {
	t.reasonMu.Lock()
	defer t.reasonMu.Unlock()
	return t.closeReason
}

func (t *Transport) Send(raw []byte) error {
	select {
	case <-t.doneCh:
		return fmt.Errorf("wsrelay: send on closed transport")
	default:
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	t.out.In() <- cp
	return nil
}

func (t *Transport) AwaitDrain(ctx context.Context) error {
	for {
		if t.out.Len() < t.cfg.DrainThreshold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.doneCh:
			return nil
		case <-time.After(t.cfg.DrainPollInterval()):
		}
	}
}

func (t *Transport) Close() error {
	t.setReason(transport.CloseLocal)
	t.shutdown()
	return nil
}

func (t *Transport) setReason(r transport.CloseReason) {
	t.reasonMu.Lock()
	if t.closeReason == transport.CloseUnspecified {
		t.closeReason = r
	}
	t.reasonMu.Unlock()
}

func (t *Transport) shutdown() {
	t.doneOnce.Do(func() {
		close(t.doneCh)
		t.Halt()
		t.out.Close()
		t.conn.Close()
	})
}

func (t *Transport) readPump() {
	defer t.shutdown()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.HaltCh():
			default:
				t.setReason(transport.CloseUnexpected)
				t.log.Warn("relay connection read error", "error", err)
			}
			return
		}
		if len(data) < 1 {
			continue
		}
		fl := frame.Flag(data[0])
		switch fl {
		case frame.ProxyConnectionEstablished:
			t.readyOnce.Do(func() { close(t.readyCh) })
		case frame.ProxyConnectionClose:
			t.setReason(transport.CloseRelayAbnormal)
			return
		case frame.ProxyHeartbeat:
			// liveness of the relay link itself; nothing to do.
		case frame.ProxyError:
			t.log.Warn("relay reported an error", "payload", data[1:])
		default:
			select {
			case t.in <- data:
			case <-t.HaltCh():
				return
			}
		}
	}
}

func (t *Transport) writePump() {
	for {
		select {
		case <-t.HaltCh():
			return
		case v, ok := <-t.out.Out():
			if !ok {
				return
			}
			if err := t.conn.WriteMessage(websocket.BinaryMessage, v.([]byte)); err != nil {
				t.setReason(transport.CloseUnexpected)
				t.log.Warn("relay connection write error", "error", err)
				t.shutdown()
				return
			}
		}
	}
}
