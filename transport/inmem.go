package transport

import (
	"context"
	"sync"
	"time"

	channels "gopkg.in/eapache/channels.v1"

	"github.com/parcelwire/parcel/worker"
)

// Pipe is an in-process Transport used by tests and by any caller that
// wants to run the full session/transfer stack without a real WebRTC or
// WebSocket endpoint. Two Pipes are always created as a connected pair via
// NewPipePair. Outbound frames are queued on an unbounded deque
// (gopkg.in/eapache/channels.v1, the same dependency the socket and
// datachannel adapters use for their own outbound queues) so Send never
// blocks; AwaitDrain reports the queue length against a configurable
// threshold to exercise backpressure in tests.
type Pipe struct {
	worker.Worker

	kind       Kind
	maxPayload int
	enableAck  bool

	out *channels.InfiniteChannel // local frames waiting to cross to the peer
	in  chan []byte               // frames delivered from the peer

	drainThreshold int

	readyCh chan struct{}
	readyOnce sync.Once

	doneCh      chan struct{}
	doneOnce    sync.Once
	closeReason CloseReason
	reasonMu    sync.Mutex

	// peer is set by NewPipePair so Send can hand frames directly to
	// the other side's inbound channel, simulating network delivery.
	peer *Pipe

	reorder bool // copied from PipeOptions.Reorder; pump does not read it and always delivers frames in send order
}

// PipeOptions configures a Pipe pair.
type PipeOptions struct {
	Kind           Kind
	MaxPayload     int
	EnableAck      bool
	DrainThreshold int
	Reorder        bool
}

// NewPipePair builds two Transports, each the other's peer.
func NewPipePair(opts PipeOptions) (a, b *Transport) {
	if opts.MaxPayload == 0 {
		opts.MaxPayload = 16 * 1024
	}
	if opts.DrainThreshold == 0 {
		opts.DrainThreshold = 64
	}
	pa := newPipe(opts)
	pb := newPipe(opts)
	pa.peer = pb
	pb.peer = pa

	pa.Go(pa.pump)
	pb.Go(pb.pump)

	var ta, tb Transport = pa, pb
	return &ta, &tb
}

func newPipe(opts PipeOptions) *Pipe {
	return &Pipe{
		kind:           opts.Kind,
		maxPayload:     opts.MaxPayload,
		enableAck:      opts.EnableAck,
		drainThreshold: opts.DrainThreshold,
		out:            channels.NewInfiniteChannel(),
		in:             make(chan []byte, 256),
		readyCh:        make(chan struct{}),
		doneCh:         make(chan struct{}),
		reorder:        opts.Reorder,
	}
}

func (p *Pipe) Kind() Kind             { return p.kind }
func (p *Pipe) MaxPayload() int        { return p.maxPayload }
func (p *Pipe) DefaultEnableAck() bool { return p.enableAck }

func (p *Pipe) Send(raw []byte) error {
	select {
	case <-p.doneCh:
		return errClosed
	default:
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	p.out.In() <- cp
	return nil
}

func (p *Pipe) Frames() <-chan []byte { return p.in }

func (p *Pipe) AwaitDrain(ctx context.Context) error {
	for {
		if p.out.Len() < p.drainThreshold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.doneCh:
			return nil
		case <-time.After(16 * time.Millisecond):
		}
	}
}

func (p *Pipe) Ready() <-chan struct{} { return p.readyCh }
func (p *Pipe) Done() <-chan struct{}  { return p.doneCh }

func (p *Pipe) CloseReason() CloseReason {
	p.reasonMu.Lock()
	defer p.reasonMu.Unlock()
	return p.closeReason
}

func (p *Pipe) Close() error {
	p.setReason(CloseLocal)
	p.shutdown()
	return nil
}

// CloseUnexpectedly simulates the underlying transport dying without a
// local Close call; tests use this to exercise the CloseUnexpected path.
func (p *Pipe) CloseUnexpectedly() {
	p.setReason(CloseUnexpected)
	p.shutdown()
}

func (p *Pipe) setReason(r CloseReason) {
	p.reasonMu.Lock()
	if p.closeReason == CloseUnspecified {
		p.closeReason = r
	}
	p.reasonMu.Unlock()
}

func (p *Pipe) shutdown() {
	p.doneOnce.Do(func() {
		close(p.doneCh)
		p.Halt()
		p.out.Close()
	})
}

// MarkReady opens the Pipe's Ready channel, simulating the data channel
// "open" event or the relay's PROXY_CONNECTION_ESTABLISHED.
func (p *Pipe) MarkReady() {
	p.readyOnce.Do(func() {
		close(p.readyCh)
	})
}

// pump drains p.out and hands each frame to the peer's inbound channel,
// standing in for the network/relay hop.
func (p *Pipe) pump() {
	for {
		select {
		case <-p.HaltCh():
			return
		case v, ok := <-p.out.Out():
			if !ok {
				return
			}
			raw := v.([]byte)
			peer := p.peer
			if peer == nil {
				continue
			}
			select {
			case peer.in <- raw:
			case <-p.HaltCh():
				return
			case <-peer.doneCh:
			}
		}
	}
}

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "transport: send on closed pipe" }
