// Package ingest implements the camwatcher dispatcher: it registers
// outpost edge nodes, subscribes to each one's tracking log and
// (indirectly, through imagewriter) image feed, and serializes everything
// into the on-disk camera store via csvwriter.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/csvwriter"
	"github.com/sentinelcam/sentinelcam/internal/imagewriter"
	"github.com/sentinelcam/sentinelcam/internal/jobmanager"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// logSubTimeout bounds each poll of an outpost's tracking log subscription
// so a node's goroutine notices dispatcher shutdown promptly.
const logSubTimeout = 500 * time.Millisecond

// eventState is what the dispatcher remembers about one currently open
// event, keyed by (node, eventID), so a later trk/end message can be
// routed without re-deriving the event's date or dimensions.
type eventState struct {
	date    string
	view    string
	camSize model.CamSize
}

// Dispatcher is the camwatcher daemon's event loop: one goroutine per
// registered outpost, feeding a single csvwriter.Writer and a per-view
// imagewriter.Writer.
type Dispatcher struct {
	cfg   config.IngestConfig
	log   *logger.Logger
	store *camstore.Store
	csv   *csvwriter.Writer
	reg   *registry
	agent *bus.ReqRepClient

	ctrl *bus.ReqRepServer

	mu      sync.Mutex
	writers map[string]*imagewriter.Writer // keyed by node
	started map[string]bool                // keyed by node
	events  map[string]eventState          // keyed by node+"/"+eventID
}

// New builds a Dispatcher. store backs both the CSV and image writers.
func New(cfg config.IngestConfig, log *logger.Logger, store *camstore.Store) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		log:     log,
		store:   store,
		csv:     csvwriter.New(store, log, 256),
		reg:     newRegistry(),
		writers: make(map[string]*imagewriter.Writer),
		started: make(map[string]bool),
		events:  make(map[string]eventState),
	}
	if cfg.Agent != nil && cfg.Agent.Endpoint != "" {
		d.agent = bus.NewReqRepClient(cfg.Agent.Endpoint, 5*time.Second)
	}
	for node, op := range cfg.Outposts {
		d.reg.upsert(outpostInfo{Node: node, View: op.View, ImagePublisher: op.ImagePublisher, Logger: op.Logger})
	}
	return d
}

// Run starts the CSV writer, the control socket, and a subscriber
// goroutine per currently registered outpost, returning once ctx is
// canceled and every goroutine has unwound.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if d.cfg.ControlPort != 0 {
		ctrl, err := listenControl(fmt.Sprintf(":%d", d.cfg.ControlPort), func(info outpostInfo) {
			d.registerOutpost(ctx, &wg, info)
		})
		if err != nil {
			return fmt.Errorf("ingest: control listen failed: %w", err)
		}
		d.ctrl = ctrl
		defer ctrl.Close()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.csv.Run(ctx)
	}()

	for _, info := range d.reg.list() {
		d.startOutpost(ctx, &wg, info)
	}

	<-ctx.Done()
	if d.agent != nil {
		d.agent.Close()
	}
	wg.Wait()
	return nil
}

// registerOutpost is the CameraUp handler: it idempotently records the
// node's endpoints and, the first time a node is seen, starts its
// subscriber goroutines against the dispatcher's running context.
func (d *Dispatcher) registerOutpost(ctx context.Context, wg *sync.WaitGroup, info outpostInfo) {
	d.reg.upsert(info)
	d.log.Info("ingest: outpost registered", "node", info.Node, "view", info.View)
	d.startOutpost(ctx, wg, info)
}

// startOutpost launches the tracking-log subscriber and the per-view
// image writer for one outpost, marking it started so a later CameraUp
// re-announcement does not spawn duplicate goroutines.
func (d *Dispatcher) startOutpost(ctx context.Context, wg *sync.WaitGroup, info outpostInfo) {
	d.mu.Lock()
	if d.started[info.Node] {
		d.mu.Unlock()
		return
	}
	d.started[info.Node] = true
	d.mu.Unlock()

	if info.ImagePublisher != "" {
		sub, err := bus.DialSub(ctx, info.ImagePublisher, "")
		if err != nil {
			d.log.Error("ingest: image subscribe failed", "node", info.Node, "error", err)
		} else {
			w := imagewriter.NewFromSub(d.store, d.log, sub, 1)
			d.mu.Lock()
			d.writers[info.Node] = w
			d.mu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}
	}

	if info.Logger == "" {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.watchLog(ctx, info)
	}()
}

// watchLog subscribes to one outpost's tracking log and routes every
// parsed message until ctx is canceled.
func (d *Dispatcher) watchLog(ctx context.Context, info outpostInfo) {
	log := d.log.With("node", info.Node)

	sub, err := bus.DialSub(ctx, info.Logger, "")
	if err != nil {
		log.Error("ingest: log subscribe failed", "error", err)
		return
	}
	defer sub.Close()

	for ctx.Err() == nil {
		msg, err := sub.Receive(logSubTimeout)
		if err != nil {
			continue
		}
		raw, err := wire.UnpackMap(msg.Payload)
		if err != nil {
			log.Warn("ingest: malformed tracking message", "error", err)
			continue
		}
		tm, err := model.ParseTrackingMessage(raw)
		if err != nil {
			log.Warn("ingest: unparseable tracking message", "error", err)
			continue
		}
		d.handle(ctx, info, tm)
	}
}

func (d *Dispatcher) handle(ctx context.Context, info outpostInfo, tm model.TrackingMessage) {
	switch {
	case tm.Start != nil:
		d.handleStart(ctx, info, tm.Start)
	case tm.Trk != nil:
		d.handleTrk(ctx, info, tm.Trk)
	case tm.End != nil:
		d.handleEnd(ctx, info, tm.End)
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, info outpostInfo, m *model.StartMsg) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	date := ts.Format("2006-01-02")

	d.mu.Lock()
	d.events[info.Node+"/"+m.EventID] = eventState{date: date, view: m.View, camSize: m.CamSize}
	w := d.writers[info.Node]
	d.mu.Unlock()

	if w != nil {
		w.Start(date, m.EventID)
	}

	ref := csvwriter.Ref{Node: info.Node, View: m.View, EventID: m.EventID, TypeTag: model.TypeTrk}
	rec := csvwriter.Record{Start: &csvwriter.StartRecord{
		Ref: ref, Date: date, Timestamp: ts, CamSize: m.CamSize, New: true,
	}}
	if err := d.csv.Enqueue(ctx, rec); err != nil {
		d.log.Error("ingest: start record dropped", "event", m.EventID, "error", err)
	}
}

func (d *Dispatcher) handleTrk(ctx context.Context, info outpostInfo, m *model.TrkMsg) {
	d.mu.Lock()
	st, ok := d.events[info.Node+"/"+m.EventID]
	d.mu.Unlock()
	if !ok {
		d.log.Warn("ingest: trk for unknown event", "node", info.Node, "event", m.EventID)
		return
	}

	ref := csvwriter.Ref{Node: info.Node, View: m.View, EventID: m.EventID, TypeTag: model.TypeTrk}
	rec := csvwriter.Record{Trk: &csvwriter.TrkRecord{
		Ref: ref, Date: st.date,
		Record: model.TrackingRecord{Timestamp: m.Timestamp, ObjectID: m.ObjectID, ClassName: m.ClassName, Rect: m.Rect},
	}}
	if err := d.csv.Enqueue(ctx, rec); err != nil {
		d.log.Error("ingest: trk record dropped", "event", m.EventID, "error", err)
	}
}

func (d *Dispatcher) handleEnd(ctx context.Context, info outpostInfo, m *model.EndMsg) {
	d.mu.Lock()
	st, ok := d.events[info.Node+"/"+m.EventID]
	delete(d.events, info.Node+"/"+m.EventID)
	w := d.writers[info.Node]
	d.mu.Unlock()

	if w != nil {
		w.Stop()
	}

	ref := csvwriter.Ref{Node: info.Node, View: m.View, EventID: m.EventID, TypeTag: model.TypeTrk}
	if err := d.csv.Enqueue(ctx, csvwriter.Record{End: &csvwriter.EndRecord{Ref: ref}}); err != nil {
		d.log.Error("ingest: end record dropped", "event", m.EventID, "error", err)
	}

	if !ok || d.agent == nil {
		return
	}
	d.submitAnalytics(ctx, info.Node, st.date, m.EventID)
}

// submitAnalytics forwards a closed event to the analytics scheduler's
// control socket as an optional post-event analytics submission.
func (d *Dispatcher) submitAnalytics(ctx context.Context, node, date, eventID string) {
	req := jobmanager.ControlRequest{
		Task: d.cfg.Agent.DefaultTask, Date: date, Event: eventID, Node: node, Sink: node,
	}
	payload, err := wire.Pack(req)
	if err != nil {
		d.log.Error("ingest: analytics submit pack failed", "event", eventID, "error", err)
		return
	}
	respBytes, err := d.agent.Request(ctx, payload)
	if err != nil {
		d.log.Error("ingest: analytics submit failed", "event", eventID, "error", err)
		return
	}
	var rep jobmanager.ControlReply
	if err := wire.Unpack(respBytes, &rep); err != nil {
		d.log.Error("ingest: analytics submit reply malformed", "event", eventID, "error", err)
		return
	}
	if rep.Error != "" {
		d.log.Warn("ingest: analytics submit rejected", "event", eventID, "reason", rep.Error)
	}
}
