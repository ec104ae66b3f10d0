// Package analytics implements the analytics subscriber: a component that
// runs inside the ingest service, consumes the scheduler's aggregated
// result feed, and turns per-frame STATUS envelopes into tracking-CSV rows
// for whichever task ran against an event.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/csvwriter"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/ringbuffer"
	"github.com/sentinelcam/sentinelcam/internal/taskengine"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

const receiveTimeout = 500 * time.Millisecond

// jobTracker is one job's accumulated context: its submission metadata plus,
// once the first STATUS result arrives, the resolved (node, view, refkey)
// and the frame timeline offsets are mapped against.
type jobTracker struct {
	task, date, event, node string

	ref       csvwriter.Ref
	opened    bool
	frameList []time.Time
	startAt   time.Time
	startIdx  int
}

// Subscriber drains the scheduler's result feed and enqueues tracking-CSV
// records onto a shared csvwriter.Writer — the same Writer the ingest
// dispatcher feeds, so a single goroutine still serializes every file.
type Subscriber struct {
	log   *logger.Logger
	store *camstore.Store
	csv   *csvwriter.Writer

	sub *bus.Subscriber

	jobs map[string]*jobTracker
}

// New builds a Subscriber. Dial must be called before Run.
func New(log *logger.Logger, store *camstore.Store, csv *csvwriter.Writer) *Subscriber {
	return &Subscriber{
		log:   log,
		store: store,
		csv:   csv,
		jobs:  make(map[string]*jobTracker),
	}
}

// Dial connects to the scheduler's aggregated result publisher at addr,
// subscribing to every topic.
func (s *Subscriber) Dial(ctx context.Context, addr string) error {
	sub, err := bus.DialSub(ctx, addr, "")
	if err != nil {
		return fmt.Errorf("analytics: dial result feed %s: %w", addr, err)
	}
	s.sub = sub
	return nil
}

// Run drains the result feed until ctx is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.sub == nil {
		return fmt.Errorf("analytics: Run called before Dial")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := s.sub.Receive(receiveTimeout)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}

		var env taskengine.Envelope
		if err := wire.Unpack(msg.Payload, &env); err != nil {
			s.log.Warn("analytics: malformed result envelope", "error", err)
			continue
		}
		s.handle(ctx, env)
	}
}

func (s *Subscriber) handle(ctx context.Context, env taskengine.Envelope) {
	switch env.Tag {
	case taskengine.TagSubmit:
		s.handleSubmit(env)
	case taskengine.TagStatus:
		s.handleStatus(ctx, env)
	case taskengine.TagDone, taskengine.TagFail, taskengine.TagCanceled:
		s.handleStop(ctx, env)
	}
}

func (s *Subscriber) handleSubmit(env taskengine.Envelope) {
	if env.Context == nil {
		return
	}
	s.jobs[env.JobID] = &jobTracker{
		task: env.Context.Task, date: env.Context.Date,
		event: env.Context.Event, node: env.Context.Node,
	}
}

func (s *Subscriber) handleStop(ctx context.Context, env taskengine.Envelope) {
	j, ok := s.jobs[env.JobID]
	if !ok {
		return
	}
	delete(s.jobs, env.JobID)
	if !j.opened {
		return
	}
	if err := s.csv.Enqueue(ctx, csvwriter.Record{End: &csvwriter.EndRecord{Ref: j.ref}}); err != nil {
		s.log.Warn("analytics: enqueue end record dropped", "job", env.JobID, "error", err)
	}
}

func (s *Subscriber) handleStatus(ctx context.Context, env taskengine.Envelope) {
	if env.Status == nil {
		return
	}
	j, ok := s.jobs[env.JobID]
	if !ok {
		s.log.Warn("analytics: status result for unknown job", "job", env.JobID)
		return
	}
	st := env.Status

	if !j.opened {
		if err := s.openJob(ctx, j, st); err != nil {
			s.log.Error("analytics: opening job failed", "job", env.JobID, "error", err)
			return
		}
		j.opened = true
	}

	if len(j.frameList) == 0 {
		return
	}

	if !st.Start.Equal(j.startAt) {
		j.startAt = st.Start
		j.startIdx = firstIndexAtOrAfter(j.frameList, st.Start)
	}

	frameIdx := clamp(j.startIdx+st.Offset, 0, len(j.frameList)-1)
	ts := j.frameList[frameIdx]

	rec := csvwriter.TrkRecord{
		Ref:  j.ref,
		Date: j.date,
		Record: model.TrackingRecord{
			Timestamp: ts,
			ClassName: st.Clas,
			Rect:      st.Rect,
		},
	}
	if err := s.csv.Enqueue(ctx, csvwriter.Record{Trk: &rec}); err != nil {
		s.log.Warn("analytics: enqueue trk record dropped", "job", env.JobID, "error", err)
	}
}

// openJob resolves (node, view, camsize) from the date index and opens the
// analytic's tracking-CSV file, the first time a job's results arrive.
func (s *Subscriber) openJob(ctx context.Context, j *jobTracker, st *taskengine.StatusPayload) error {
	row, err := s.store.GetEventStart(j.date, j.event)
	if err != nil {
		return fmt.Errorf("resolve event %s/%s: %w", j.date, j.event, err)
	}

	frameList, err := s.buildFrameList(j.date, j.event, st.RingCtrl)
	if err != nil {
		return fmt.Errorf("build frame list: %w", err)
	}
	j.frameList = frameList

	isNew := true
	if types, err := s.store.GetEventTypes(j.date, j.event); err == nil {
		for _, t := range types {
			if t == st.RefKey {
				isNew = false
				break
			}
		}
	}

	j.ref = csvwriter.Ref{Node: row.Node, View: row.ViewName, EventID: j.event, TypeTag: st.RefKey}

	rec := csvwriter.StartRecord{
		Ref:       j.ref,
		Date:      j.date,
		Timestamp: frameList[0],
		CamSize:   model.CamSize{Width: row.Width, Height: row.Height},
		New:       isNew,
	}
	return s.csv.Enqueue(ctx, csvwriter.Record{Start: &rec})
}

// buildFrameList resolves an event's frame timeline for ringctrl: every
// captured JPEG for "full", or one tracking set's timestamps otherwise —
// the same mapping the job manager's frame-feeding loop uses.
func (s *Subscriber) buildFrameList(date, event, ringctrl string) ([]time.Time, error) {
	if ringctrl == ringbuffer.FullFrames {
		return s.store.GetEventImages(date, event)
	}
	records, err := s.store.GetTrackingSet(date, event, ringctrl)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(records))
	for i, r := range records {
		out[i] = r.Timestamp
	}
	return out, nil
}

// firstIndexAtOrAfter returns the smallest index of frameList whose
// timestamp is >= start, or the last index if start is past the end.
func firstIndexAtOrAfter(frameList []time.Time, start time.Time) int {
	idx := sort.Search(len(frameList), func(i int) bool {
		return !frameList[i].Before(start)
	})
	if idx >= len(frameList) {
		idx = len(frameList) - 1
	}
	return idx
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Close disconnects from the result feed.
func (s *Subscriber) Close() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Close()
}
