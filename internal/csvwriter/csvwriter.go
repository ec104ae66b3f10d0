// Package csvwriter implements the single-writer tracking-CSV serializer
// shared by every active view and by the analytics subscriber.
package csvwriter

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/model"
)

// Ref identifies one open tracking-set file: the (node, view, event, type)
// tuple the writer's queue is keyed by.
type Ref struct {
	Node    string
	View    string
	EventID string
	TypeTag string
}

// StartRecord opens a tracking-set file, and — when New is set — also
// appends the corresponding date-index row. New is false when a new
// analytic type tag is being appended to an event whose index row already
// exists from its primary "trk" start.
type StartRecord struct {
	Ref       Ref
	Date      string
	Timestamp time.Time
	CamSize   model.CamSize
	New       bool
}

// TrkRecord appends one detection line to an already-open tracking file.
type TrkRecord struct {
	Ref    Ref
	Date   string
	Record model.TrackingRecord
}

// EndRecord flushes and closes a tracking file.
type EndRecord struct {
	Ref Ref
}

// Record is the tagged variant flowing through the writer's queue. Exactly
// one field is non-nil.
type Record struct {
	Start *StartRecord
	Trk   *TrkRecord
	End   *EndRecord
}

// Writer is the single goroutine serializing all tracking-CSV I/O. All
// writes for all views and all analytic passes go through one Writer so
// that file handles are never touched from more than one goroutine,
// mirroring the source's single daemon thread.
type Writer struct {
	store *camstore.Store
	log   *logger.Logger

	queue chan Record
	open  map[Ref]*os.File
}

// New creates a Writer. queueLen bounds the number of pending records; the
// caller decides what to do when Enqueue's context is canceled while the
// queue is full (the dispatcher logs and drops the record).
func New(store *camstore.Store, log *logger.Logger, queueLen int) *Writer {
	return &Writer{
		store: store,
		log:   log,
		queue: make(chan Record, queueLen),
		open:  make(map[Ref]*os.File),
	}
}

// Enqueue submits a record for serialization, blocking only until either
// the queue accepts it or ctx is done.
func (w *Writer) Enqueue(ctx context.Context, rec Record) error {
	select {
	case w.queue <- rec:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is canceled, closing any still-open files
// on the way out.
func (w *Writer) Run(ctx context.Context) error {
	defer w.closeAll()

	for {
		select {
		case rec := <-w.queue:
			w.handle(rec)
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Writer) handle(rec Record) {
	switch {
	case rec.Start != nil:
		w.handleStart(rec.Start)
	case rec.Trk != nil:
		w.handleTrk(rec.Trk)
	case rec.End != nil:
		w.handleEnd(rec.End)
	}
}

func (w *Writer) handleStart(r *StartRecord) {
	if r.New {
		err := w.store.AppendIndexRow(r.Date, model.DateIndexRow{
			Node: r.Ref.Node, ViewName: r.Ref.View, Timestamp: r.Timestamp,
			EventID: r.Ref.EventID, Width: r.CamSize.Width, Height: r.CamSize.Height,
			Type: r.Ref.TypeTag,
		})
		if err != nil {
			w.log.Error("csvwriter: index append failed", "event", r.Ref.EventID, "error", err)
			return
		}
	}

	path := w.store.TrackingSetPath(r.Date, r.Ref.EventID, r.Ref.TypeTag)
	if err := os.MkdirAll(w.store.DateDir(r.Date), 0o755); err != nil {
		w.log.Error("csvwriter: create date dir failed", "error", err)
		return
	}

	f, err := os.Create(path)
	if err != nil {
		w.log.Error("csvwriter: create tracking file failed", "path", path, "error", err)
		return
	}
	if _, err := f.WriteString(camstore.TrackingCSVHeader + "\n"); err != nil {
		w.log.Error("csvwriter: write header failed", "path", path, "error", err)
		f.Close()
		return
	}

	w.open[r.Ref] = f
}

func (w *Writer) handleTrk(r *TrkRecord) {
	f, ok := w.open[r.Ref]
	if !ok {
		w.log.Warn("csvwriter: trk record for unopened ref", "event", r.Ref.EventID, "type", r.Ref.TypeTag)
		return
	}

	rec := r.Record
	line := fmt.Sprintf("%s,%s,%s,%d,%d,%d,%d\n",
		rec.Timestamp.Format(time.RFC3339Nano), rec.ObjectID, rec.ClassName,
		rec.Rect.X1, rec.Rect.Y1, rec.Rect.X2, rec.Rect.Y2)
	if _, err := f.WriteString(line); err != nil {
		w.log.Error("csvwriter: append failed", "event", r.Ref.EventID, "error", err)
	}
}

func (w *Writer) handleEnd(r *EndRecord) {
	f, ok := w.open[r.Ref]
	if !ok {
		return // closing is idempotent
	}
	if err := f.Close(); err != nil {
		w.log.Error("csvwriter: close failed", "event", r.Ref.EventID, "error", err)
	}
	delete(w.open, r.Ref)
}

func (w *Writer) closeAll() {
	for ref, f := range w.open {
		f.Close()
		delete(w.open, ref)
	}
}
