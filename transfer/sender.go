package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/parcelwire/parcel/config"
	"github.com/parcelwire/parcel/frame"
	"github.com/parcelwire/parcel/progress"
	"github.com/parcelwire/parcel/session"
	"github.com/parcelwire/parcel/timerqueue"
)

// ErrAborted is returned by SendFile when the file could not be
// completed; the session itself remains open (§4.6 edge cases).
type ErrAborted struct{ Reason string }

func (e *ErrAborted) Error() string { return fmt.Sprintf("transfer: file aborted: %s", e.Reason) }

// FileRequest describes one file handed to Sender.SendFile.
type FileRequest struct {
	Name   string
	MIME   string
	Size   uint64
	MTime  time.Time
	Source io.Reader
}

// Sender drives the per-file sender pipeline (§4.6) over a single
// session.Session. One Sender may send many files, sequentially or
// concurrently; file_seq is assigned monotonically across all of them.
type Sender struct {
	sess *session.Session
	log  *log.Logger
	cfg  *config.Engine

	collector *progress.Collector
	onProgress func(progress.Snapshot)

	nextFileSeq uint32

	tq *timerqueue.TimerQueue

	ackMu      sync.Mutex
	ackWaiters map[ackKey]*ackWaiter
	ackSub     *session.Subscription
}

type ackKey struct {
	fileSeq, packetSeq uint32
}

// ackWaiter is one pending awaitAck call's bookkeeping: ch closes when the
// matching ACK arrives, timeoutCh closes when tq's deadline for elem
// fires first. elem is canceled via tq.Remove as soon as either happens,
// mirroring the teacher's arq.go pattern of Push-ing one retransmission
// timer per in-flight packet and Pop-ing it once the ACK lands.
type ackWaiter struct {
	ch        chan struct{}
	timeoutCh chan struct{}
	elem      *timerqueue.Element
}

// NewSender constructs a Sender bound to sess. onProgress (optional) is
// called with throttled progress snapshots (§4.6 step 7); collector
// (optional) additionally exports every in-flight file via prometheus.
// cfg supplies the ACK timeouts and retry count (§4.6 step 6); a nil cfg
// falls back to config.Defaults().
func NewSender(sess *session.Session, logger *log.Logger, onProgress func(progress.Snapshot), collector *progress.Collector, cfg *config.Engine) *Sender {
	if cfg == nil {
		cfg = config.Defaults()
	}
	s := &Sender{
		sess:       sess,
		log:        logger.WithPrefix("sender"),
		cfg:        cfg,
		collector:  collector,
		onProgress: onProgress,
		ackWaiters: make(map[ackKey]*ackWaiter),
	}
	s.tq = timerqueue.NewTimerQueue(s.onAckTimeout)
	s.tq.Start()
	s.ackSub = sess.On(frame.Ack, s.handleAck)
	return s
}

// Close stops listening for ACK frames and stops the retransmission
// timer queue. Call it once the Sender is no longer needed, typically
// alongside closing the underlying session.
func (s *Sender) Close() {
	s.ackSub.Unregister()
	s.tq.Stop()
}

func (s *Sender) handleAck(payload []byte) {
	fileSeq, packetSeq, err := frame.DecodeAckHeader(payload)
	if err != nil {
		return
	}
	key := ackKey{fileSeq, packetSeq}
	s.ackMu.Lock()
	w, ok := s.ackWaiters[key]
	if ok {
		delete(s.ackWaiters, key)
	}
	s.ackMu.Unlock()
	if ok {
		s.tq.Remove(w.elem)
		close(w.ch)
	}
}

// onAckTimeout is the timerqueue callback shared by every awaitAck call;
// v is the ackKey pushed alongside the deadline.
func (s *Sender) onAckTimeout(v interface{}) {
	key := v.(ackKey)
	s.ackMu.Lock()
	w, ok := s.ackWaiters[key]
	if ok {
		delete(s.ackWaiters, key)
	}
	s.ackMu.Unlock()
	if ok {
		close(w.timeoutCh)
	}
}

func (s *Sender) cancelAckWait(key ackKey) {
	s.ackMu.Lock()
	w, ok := s.ackWaiters[key]
	if ok {
		delete(s.ackWaiters, key)
	}
	s.ackMu.Unlock()
	if ok {
		s.tq.Remove(w.elem)
	}
}

func (s *Sender) awaitAck(ctx context.Context, fileSeq, packetSeq uint32, timeout time.Duration) error {
	key := ackKey{fileSeq, packetSeq}
	w := &ackWaiter{ch: make(chan struct{}), timeoutCh: make(chan struct{})}
	s.ackMu.Lock()
	s.ackWaiters[key] = w
	s.ackMu.Unlock()
	w.elem = s.tq.Push(uint64(time.Now().Add(timeout).UnixNano()), key)

	select {
	case <-w.ch:
		return nil
	case <-w.timeoutCh:
		return context.DeadlineExceeded
	case <-ctx.Done():
		s.cancelAckWait(key)
		return ctx.Err()
	}
}

// SendFile runs the full per-file sender pipeline described in §4.6 to
// completion, returning nil on success or an *ErrAborted otherwise,
// including when ctx is canceled. The session is never torn down by a file
// failure.
func (s *Sender) SendFile(ctx context.Context, req FileRequest) error {
	fileSeq := atomic.AddUint32(&s.nextFileSeq, 1) - 1
	originTS := time.Now()

	tracker := progress.NewTracker(fileSeq, req.Name, "sender", req.Size, originTS, s.onProgress, s.collector)

	meta := FileMetadata{
		Seq:      fileSeq,
		Name:     req.Name,
		MIME:     req.MIME,
		Size:     req.Size,
		MTime:    req.MTime.UnixMilli(),
		OriginTS: originTS.UnixMilli(),
	}
	payload, err := encodeMetadata(meta)
	if err != nil {
		return &ErrAborted{Reason: "could not encode metadata"}
	}
	if err := s.sess.SendMeta(payload); err != nil {
		return &ErrAborted{Reason: "session send failed"}
	}

	if err := s.awaitAck(ctx, fileSeq, 0, s.cfg.MetaAckTimeout()); err != nil {
		tracker.Abort("META-ACK timeout")
		return &ErrAborted{Reason: "META-ACK timeout"}
	}

	enableAck := s.sess.EnableAck
	maxPayload := s.sess.MaxPayload()
	chunkSize := maxPayload - frame.AckHeaderSize
	if chunkSize <= 0 {
		chunkSize = 1
	}

	br := bufio.NewReaderSize(req.Source, chunkSize)
	buf := make([]byte, chunkSize)
	var packetSeq uint32
	var sent uint64

	for {
		n, rerr := io.ReadFull(br, buf)
		if n > 0 {
			packetSeq++
			out := make([]byte, frame.AckHeaderSize+n)
			copy(out, frame.EncodeAckHeader(fileSeq, packetSeq))
			copy(out[frame.AckHeaderSize:], buf[:n])

			if err := s.sess.AwaitDrain(ctx); err != nil {
				tracker.Abort("backpressure wait canceled")
				return &ErrAborted{Reason: "backpressure wait canceled"}
			}
			if err := s.sess.SendData(out); err != nil {
				tracker.Abort("session send failed")
				return &ErrAborted{Reason: "session send failed"}
			}

			if enableAck {
				if err := s.awaitAckWithRetries(ctx, fileSeq, packetSeq, out); err != nil {
					tracker.Abort("DATA-ACK timeout")
					return &ErrAborted{Reason: "DATA-ACK timeout"}
				}
			}

			sent += uint64(n)
			tracker.Advance(uint64(n))
		}

		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			tracker.Abort("source read error")
			return &ErrAborted{Reason: "source read error"}
		}
	}

	tracker.Finalize()
	return nil
}

// awaitAckWithRetries implements §4.6 step 6: up to 3 retries (4 attempts
// total), resending the identical DATA frame each time.
func (s *Sender) awaitAckWithRetries(ctx context.Context, fileSeq, packetSeq uint32, frameBytes []byte) error {
	err := s.awaitAck(ctx, fileSeq, packetSeq, s.cfg.DataAckTimeout())
	for attempt := 0; err != nil && attempt < s.cfg.DataAckRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sendErr := s.sess.SendData(frameBytes); sendErr != nil {
			return sendErr
		}
		err = s.awaitAck(ctx, fileSeq, packetSeq, s.cfg.DataAckTimeout())
	}
	return err
}
