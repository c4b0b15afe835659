package transfer

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parcelwire/parcel/config"
	"github.com/parcelwire/parcel/frame"
	"github.com/parcelwire/parcel/progress"
	"github.com/parcelwire/parcel/session"
)

// Sink receives one file's bytes in order, then is closed. A Sink whose
// Write returns an error aborts the file the same as a protocol error
// would (§4.7 edge cases speak of "sink error").
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// SinkFactory opens a Sink for an incoming file. The caller typically
// returns an *os.File, an in-memory buffer wrapper, or similar.
type SinkFactory func(meta FileMetadata) (Sink, error)

type fileState struct {
	meta       FileMetadata
	sink       Sink
	nextSeq    uint32 // next_expected_packet, starts at 1
	received   uint64
	outOfOrder map[uint32][]byte
	tracker    *progress.Tracker
	aborted    bool
}

// Receiver drives the per-file receiver pipeline (§4.7) over a single
// session.Session, demultiplexing concurrently interleaved files by
// file_seq (§5 "Ordering guarantees").
type Receiver struct {
	sess *session.Session
	log  *log.Logger
	cfg  *config.Engine

	newSink    SinkFactory
	onProgress func(progress.Snapshot)
	collector  *progress.Collector

	mu    sync.Mutex
	files map[uint32]*fileState

	metaSub *session.Subscription
	dataSub *session.Subscription
}

// NewReceiver constructs a Receiver bound to sess. newSink is called once
// per incoming file, when its META frame arrives. cfg supplies the
// out-of-order buffer capacity (§4.7 step 2, §5); a nil cfg falls back to
// config.Defaults().
func NewReceiver(sess *session.Session, logger *log.Logger, newSink SinkFactory, onProgress func(progress.Snapshot), collector *progress.Collector, cfg *config.Engine) *Receiver {
	if cfg == nil {
		cfg = config.Defaults()
	}
	r := &Receiver{
		sess:       sess,
		log:        logger.WithPrefix("receiver"),
		cfg:        cfg,
		newSink:    newSink,
		onProgress: onProgress,
		collector:  collector,
		files:      make(map[uint32]*fileState),
	}
	r.metaSub = sess.On(frame.Meta, r.handleMeta)
	r.dataSub = sess.On(frame.Data, r.handleData)
	return r
}

// Close stops listening for META/DATA frames.
func (r *Receiver) Close() {
	r.metaSub.Unregister()
	r.dataSub.Unregister()
}

func (r *Receiver) handleMeta(payload []byte) {
	meta, err := decodeMetadata(payload)
	if err != nil {
		r.log.Warn("malformed META payload", "error", err)
		return
	}

	sink, err := r.newSink(meta)
	if err != nil {
		r.log.Warn("sink open failed, file will be dropped", "file_seq", meta.Seq, "error", err)
		return
	}

	tracker := progress.NewTracker(meta.Seq, meta.Name, "receiver", meta.Size, time.UnixMilli(meta.OriginTS), r.onProgress, r.collector)

	fs := &fileState{
		meta:       meta,
		sink:       sink,
		nextSeq:    1,
		outOfOrder: make(map[uint32][]byte),
		tracker:    tracker,
	}

	r.mu.Lock()
	r.files[meta.Seq] = fs
	r.mu.Unlock()

	if err := r.sess.SendAck(meta.Seq, 0); err != nil {
		r.log.Warn("failed to send META-ACK", "file_seq", meta.Seq, "error", err)
	}
}

func (r *Receiver) handleData(payload []byte) {
	fileSeq, packetSeq, body, err := frame.SplitAckHeader(payload)
	if err != nil {
		return
	}

	r.mu.Lock()
	fs, ok := r.files[fileSeq]
	r.mu.Unlock()
	if !ok || fs.aborted {
		return // §4.7 step 1: unknown or already-aborted file_seq, ignored
	}

	bodyCopy := make([]byte, len(body))
	copy(bodyCopy, body)

	r.deliver(fs, packetSeq, bodyCopy)
}

// deliver implements §4.7 steps 2-4: buffer out-of-order packets, then
// drain the buffer forward from next_expected_packet.
func (r *Receiver) deliver(fs *fileState, packetSeq uint32, body []byte) {
	if packetSeq != fs.nextSeq {
		if packetSeq < fs.nextSeq {
			return // duplicate/stale, already delivered
		}
		if len(fs.outOfOrder) >= r.cfg.ReorderBufferCapacity {
			r.abort(fs, "lack of buffer space")
			return
		}
		fs.outOfOrder[packetSeq] = body
		return
	}

	r.deliverOne(fs, packetSeq, body)
	for {
		next, ok := fs.outOfOrder[fs.nextSeq]
		if !ok {
			break
		}
		delete(fs.outOfOrder, fs.nextSeq)
		r.deliverOne(fs, fs.nextSeq, next)
	}

	if fs.received >= fs.meta.Size {
		r.finalize(fs)
	}
}

func (r *Receiver) deliverOne(fs *fileState, packetSeq uint32, body []byte) {
	if len(body) > 0 {
		if _, err := fs.sink.Write(body); err != nil {
			r.abort(fs, "sink write error")
			return
		}
	}
	fs.received += uint64(len(body))
	fs.tracker.Advance(uint64(len(body)))
	fs.nextSeq = packetSeq + 1

	if r.sess.EnableAck {
		if err := r.sess.SendAck(fs.meta.Seq, packetSeq); err != nil {
			r.log.Warn("failed to send DATA-ACK", "file_seq", fs.meta.Seq, "packet_seq", packetSeq, "error", err)
		}
	}
}

func (r *Receiver) finalize(fs *fileState) {
	fs.sink.Close()
	fs.tracker.Finalize()
	r.mu.Lock()
	delete(r.files, fs.meta.Seq)
	r.mu.Unlock()
}

func (r *Receiver) abort(fs *fileState, reason string) {
	if fs.aborted {
		return
	}
	fs.aborted = true
	fs.sink.Close()
	fs.tracker.Abort(reason)
	r.mu.Lock()
	delete(r.files, fs.meta.Seq)
	r.mu.Unlock()
	r.log.Warn("file aborted", "file_seq", fs.meta.Seq, "reason", reason)
}

// checkStreamEnd is called by the owner of a Receiver when the
// underlying session closes, aborting any file left incomplete (§4.7
// step 5: "stream terminated abnormally").
func (r *Receiver) checkStreamEnd() {
	r.mu.Lock()
	remaining := make([]*fileState, 0, len(r.files))
	for _, fs := range r.files {
		remaining = append(remaining, fs)
	}
	r.mu.Unlock()

	for _, fs := range remaining {
		r.abort(fs, "stream terminated abnormally")
	}
}

// OnSessionClosed should be wired to the owning session's Events() loop
// (a connection-close event) so incomplete files are aborted promptly
// instead of leaking an open sink.
func (r *Receiver) OnSessionClosed() { r.checkStreamEnd() }
