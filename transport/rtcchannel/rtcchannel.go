// Package rtcchannel implements the "datachannel" transport variant
// (§4.2): an unreliable, unordered, message-oriented WebRTC data channel.
// ICE/SDP negotiation happens out-of-band through the signaling client
// before a Transport exists; this package only wraps the data channel
// itself once the PeerConnection has been assembled, following the shape
// of the sender/receiver data channel wrappers retrieved from the pack
// (e.g. a WebRTC file-transfer sender's OnOpen/OnMessage/OnClose
// handlers around a *webrtc.DataChannel).
package rtcchannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pion/webrtc/v4"
	channels "gopkg.in/eapache/channels.v1"

	"github.com/parcelwire/parcel/config"
	"github.com/parcelwire/parcel/transport"
	"github.com/parcelwire/parcel/worker"
)

// reservedOverhead reserves room for the flag byte plus the 8-byte
// AckHeader on DATA frames, per §4.2: "max_payload = max_message_size - 16".
// This is wire-format overhead, not a deployment tunable, so it stays a
// constant rather than moving into config.Engine.
const reservedOverhead = 16

// Transport is a transport.Transport backed by a WebRTC data channel.
type Transport struct {
	worker.Worker

	pc  *webrtc.PeerConnection
	dc  *webrtc.DataChannel
	log *log.Logger
	cfg *config.Engine

	maxPayload int

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

// New wraps an already-created, unordered, no-retransmit data channel
// (ordered=false, maxRetransmits=0, matching §4.2's "Unreliable,
// unordered, message-oriented") on pc. The caller is responsible for the
// ICE/SDP exchange via the signaling client; New only wires the data
// channel's lifecycle to a Transport. cfg supplies the SCTP-fallback max
// payload and drain tuning (§3, §5); a nil cfg falls back to
// config.Defaults().
func New(pc *webrtc.PeerConnection, dc *webrtc.DataChannel, logger *log.Logger, cfg *config.Engine) *Transport {
	if cfg == nil {
		cfg = config.Defaults()
	}
	t := &Transport{
		pc:      pc,
		dc:      dc,
		log:     logger.WithPrefix("rtcchannel"),
		cfg:     cfg,
		out:     channels.NewInfiniteChannel(),
		in:      make(chan []byte, 256),
		readyCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	dc.OnOpen(func() {
		t.maxPayload = t.discoverMaxPayload()
		t.readyOnce.Do(func() { close(t.readyCh) })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case t.in <- msg.Data:
		case <-t.HaltCh():
		}
	})
	dc.OnClose(func() {
		t.setReason(transport.CloseUnexpected)
		t.shutdown()
	})
	dc.OnError(func(err error) {
		t.log.Warn("data channel error", "error", err)
	})

	t.Go(t.writePump)
	return t
}

// CreateDataChannel creates the unreliable/unordered data channel this
// transport requires on pc, labeled "parcel".
func CreateDataChannel(pc *webrtc.PeerConnection) (*webrtc.DataChannel, error) {
	ordered := false
	maxRetransmits := uint16(0)
	return pc.CreateDataChannel("parcel", &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
}

func (t *Transport) discoverMaxPayload() int {
	if sctp := t.pc.SCTP(); sctp != nil {
		if mms := sctp.MaxMessageSize(); mms > reservedOverhead {
			return int(mms) - reservedOverhead
		}
	}
	return t.cfg.DefaultMaxPayload - reservedOverhead
}

func (t *Transport) Kind() transport.Kind { return transport.Datachannel }

func (t *Transport) MaxPayload() int {
	if t.maxPayload <= 0 {
		return t.cfg.DefaultMaxPayload - reservedOverhead
	}
	return t.maxPayload
}

func (t *Transport) DefaultEnableAck() bool { return true }
func (t *Transport) Frames() <-chan []byte  { return t.in }
func (t *Transport) Ready() <-chan struct{} { return t.readyCh }
func (t *Transport) Done() <-chan struct{}  { return t.doneCh }

func (t *Transport) CloseReason() transport.CloseReason {
	t.reasonMu.Lock()
	defer t.reasonMu.Unlock()
	return t.closeReason
}

func (t *Transport) Send(raw []byte) error {
	select {
	case <-t.doneCh:
		return fmt.Errorf("rtcchannel: send on closed transport")
	default:
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	t.out.In() <- cp
	return nil
}

func (t *Transport) AwaitDrain(ctx context.Context) error {
	for {
		if t.dc.BufferedAmount() < uint64(t.cfg.DrainThreshold)*uint64(t.MaxPayload()) || t.out.Len() == 0 {
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
		t.dc.Close()
	})
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
			if err := t.dc.Send(v.([]byte)); err != nil {
				t.log.Warn("data channel send failed", "error", err)
			}
		}
	}
}
