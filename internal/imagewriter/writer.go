// Package imagewriter implements the per-view image writer: it subscribes
// to one outpost's JPEG publisher and persists frames for an active event
// to the shared image store, activated and deactivated by the ingest
// dispatcher as events start and end.
package imagewriter

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// ImageFrame is one published JPEG frame.
type ImageFrame struct {
	View      string    `msgpack:"view"`
	Timestamp time.Time `msgpack:"timestamp"`
	JPEG      []byte    `msgpack:"jpeg"`
}

// Writer is one outpost view's image writer. A Writer is idle (dropping
// every frame it sees) until Start activates it for an event.
type Writer struct {
	store       *camstore.Store
	log         *logger.Logger
	sampleEvery int

	receive func(timeout time.Duration) (ImageFrame, error)
	closeFn func() error

	mu          sync.Mutex
	active      bool
	date        string
	eventID     string
	frameCount  int
	wrote       bool
	pendingStop bool
}

// FrameSource abstracts the bus subscription a Writer reads from, so tests
// can feed frames without a real socket.
type FrameSource interface {
	Receive(timeout time.Duration) (ImageFrame, error)
	Close() error
}

// New constructs a Writer over src. sampleEvery throttles persisted frames
// to one in every N; the first frame of each activation is always written
// regardless of phase, so an event is never recorded with zero frames.
// sampleEvery <= 0 means every frame.
func New(store *camstore.Store, log *logger.Logger, src FrameSource, sampleEvery int) *Writer {
	if sampleEvery <= 0 {
		sampleEvery = 1
	}
	return &Writer{
		store: store, log: log, sampleEvery: sampleEvery,
		receive: src.Receive, closeFn: src.Close,
	}
}

// Start activates the writer for (date, eventID), resetting its sample
// phase so the very next frame received is always persisted.
func (w *Writer) Start(date, eventID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = true
	w.date = date
	w.eventID = eventID
	w.frameCount = 0
	w.wrote = false
	w.pendingStop = false
}

// Stop deactivates the writer; subsequent frames are dropped until the
// next Start. Events start and end on tracking-message arrival, not on
// frame-publish cadence, so a Stop can land before the activation's first
// frame has even been received — in that case deactivation is deferred
// until one frame has been persisted, keeping every activation at one
// frame minimum.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active && !w.wrote {
		w.pendingStop = true
		return
	}
	w.active = false
	w.pendingStop = false
}

// pollTimeout bounds each blocking receive so Run notices ctx cancellation
// promptly even though FrameSource.Receive itself takes no context.
const pollTimeout = 200 * time.Millisecond

// Run drains the frame source until ctx is canceled.
func (w *Writer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := w.receive(pollTimeout)
		if err != nil {
			continue // read timeout or transient error: keep polling
		}
		w.handleFrame(frame)
	}
}

func (w *Writer) handleFrame(frame ImageFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return
	}
	write := w.frameCount%w.sampleEvery == 0
	w.frameCount++
	if !write {
		return
	}

	if err := os.MkdirAll(w.store.ImageDateDir(w.date), 0o755); err != nil {
		w.log.Error("imagewriter: create image dir failed", "error", err)
		return
	}
	path := w.store.ImageFilePath(w.date, w.eventID, frame.Timestamp)
	if err := os.WriteFile(path, frame.JPEG, 0o644); err != nil {
		w.log.Error("imagewriter: write frame failed", "path", path, "error", err)
		return
	}
	w.wrote = true
	if w.pendingStop {
		w.active = false
		w.pendingStop = false
	}
}

// Close releases the underlying frame source.
func (w *Writer) Close() error { return w.closeFn() }

// busFrameSource adapts a bus.Subscriber to FrameSource using msgpack
// decoding, the production path Run is fed from.
type busFrameSource struct {
	receive func(timeout time.Duration) (payload []byte, err error)
	closeFn func() error
}

func (s busFrameSource) Receive(timeout time.Duration) (ImageFrame, error) {
	payload, err := s.receive(timeout)
	if err != nil {
		return ImageFrame{}, err
	}
	var frame ImageFrame
	if err := wire.Unpack(payload, &frame); err != nil {
		return ImageFrame{}, err
	}
	return frame, nil
}

func (s busFrameSource) Close() error { return s.closeFn() }

// NewFromSub constructs a Writer reading from a live bus.Subscriber, the
// production wiring the ingest dispatcher uses for each outpost view.
func NewFromSub(store *camstore.Store, log *logger.Logger, sub *bus.Subscriber, sampleEvery int) *Writer {
	src := busFrameSource{
		receive: func(timeout time.Duration) ([]byte, error) {
			msg, err := sub.Receive(timeout)
			if err != nil {
				return nil, err
			}
			return msg.Payload, nil
		},
		closeFn: sub.Close,
	}
	return New(store, log, src, sampleEvery)
}
