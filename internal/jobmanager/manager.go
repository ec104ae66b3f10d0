package jobmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/datapump"
	"github.com/sentinelcam/sentinelcam/internal/jobstate"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/ringbuffer"
	"github.com/sentinelcam/sentinelcam/internal/taskengine"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// SubmitRequest is the caller-facing shape of a new job, independent of
// the wire encoding control.go decodes it from.
type SubmitRequest struct {
	Task  string
	Date  string
	Event string
	Sink  string
	Node  string
	Pump  string
}

// Manager is the analytics scheduler's job dispatcher: it owns every task
// engine, queues submitted jobs by class with a single on-deck slot each,
// and aggregates every engine's result feed onto one scheduler-wide
// publisher.
type Manager struct {
	cfg    config.SchedulerConfig
	log    *logger.Logger
	pump   *datapump.Client
	store  *jobstate.Store
	result *bus.Publisher

	ringBaseDir string
	configPath  string

	mu      sync.Mutex
	engines map[string]*engineHandle
	queues  map[string][]Job
	onDeck  map[string]*Job

	wake chan struct{}
	done chan struct{}
}

// New builds a Manager and spawns every catalog engine. ringBaseDir holds
// each engine's file-backed ring-buffer set; configPath is passed through
// to spawned engine subprocesses so they can load the same configuration.
func New(cfg config.SchedulerConfig, log *logger.Logger, resultAddr, ringBaseDir, configPath string) (*Manager, error) {
	store, err := jobstate.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	result, err := bus.ListenPub(resultAddr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("jobmanager: listen result pub: %w", err)
	}

	m := &Manager{
		cfg:         cfg,
		log:         log,
		pump:        datapump.NewClient(cfg.DataFeed, 15*time.Second),
		store:       store,
		result:      result,
		ringBaseDir: ringBaseDir,
		configPath:  configPath,
		engines:     make(map[string]*engineHandle),
		queues:      make(map[string][]Job),
		onDeck:      make(map[string]*Job),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}

	for name, item := range cfg.Engines {
		if err := m.startEngine(name, item); err != nil {
			m.Close()
			return nil, err
		}
	}

	go m.dispatchLoop()
	return m, nil
}

func (m *Manager) startEngine(name string, item config.EngineCatalogItem) error {
	ringModel := m.cfg.RingModels[item.RingBuffers]
	ringDir := filepath.Join(m.ringBaseDir, name)
	if err := os.MkdirAll(ringDir, 0o755); err != nil {
		return fmt.Errorf("jobmanager: create ring dir %s: %w", ringDir, err)
	}
	ringSet, err := ringbuffer.CreateSet(ringDir, ringModel)
	if err != nil {
		return fmt.Errorf("jobmanager: allocate ring set for %s: %w", name, err)
	}

	h := &engineHandle{
		name:    name,
		classes: classSet(item.Classes),
		item:    item,
		mgr:     m,
		ringDir: ringDir,
		ringSet: ringSet,
		push:    taskengine.NewPushClient(item.IntakeAddr),
		log:     m.log,
		state:   stateDown,
	}

	ringServer, err := ringbuffer.ListenServer("127.0.0.1:0", h)
	if err != nil {
		ringSet.Close()
		return fmt.Errorf("jobmanager: listen ring wire for %s: %w", name, err)
	}
	h.ringServer = ringServer

	if err := h.spawn(m.configPath); err != nil {
		ringServer.Close()
		ringSet.Close()
		return err
	}

	m.engines[name] = h
	go m.consumeResults(h)
	return nil
}

// consumeResults subscribes to one engine's local result publisher and
// republishes every envelope onto the scheduler-wide feed, the single
// aggregated result stream external consumers subscribe to. It also
// updates the job ledger and frees the engine for dispatch once a job's
// lifecycle ends.
func (m *Manager) consumeResults(h *engineHandle) {
	var sub *bus.Subscriber
	for {
		var err error
		sub, err = bus.DialSub(context.Background(), h.item.PubAddr, "")
		if err == nil {
			break
		}
		select {
		case <-m.done:
			return
		case <-time.After(time.Second):
		}
	}
	defer sub.Close()

	for {
		msg, err := sub.Receive(0)
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			continue
		}

		m.result.Publish(msg.Topic, msg.Payload)

		var env taskengine.Envelope
		if err := wire.Unpack(msg.Payload, &env); err != nil {
			continue
		}

		switch env.Tag {
		case taskengine.TagStarted:
			_ = m.store.MarkStarted(env.JobID, h.name)
		case taskengine.TagDone:
			imageCnt, _ := strconv.Atoi(env.Text)
			_ = m.store.MarkDone(env.JobID, imageCnt)
			m.freeEngine(h)
		case taskengine.TagFail:
			_ = m.store.MarkFailed(env.JobID, 0, fmt.Errorf("%s", env.Text))
			m.freeEngine(h)
		case taskengine.TagCanceled:
			_ = m.store.MarkCanceled(env.JobID)
			m.freeEngine(h)
		case taskengine.TagBomb:
			h.mu.Lock()
			h.state = stateDown
			h.current = nil
			h.mu.Unlock()
			m.log.Error("jobmanager: engine bombed out", "engine", h.name, "detail", env.Text)
		}
	}
}

func (m *Manager) freeEngine(h *engineHandle) {
	h.mu.Lock()
	if h.state != stateDown {
		h.state = stateIdle
	}
	h.current = nil
	h.cursor = nil
	h.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues a new job, claiming a class's on-deck slot if free or
// appending to its backlog otherwise.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	item, ok := m.cfg.Tasks[req.Task]
	if !ok {
		return "", fmt.Errorf("jobmanager: unknown task %q", req.Task)
	}

	job := Job{
		JobID: uuid.NewString(), Task: req.Task, Class: item.Class,
		Date: req.Date, Event: req.Event, Sink: req.Sink, Node: req.Node, Pump: req.Pump,
		TrkType: item.TrkType, RingCtrl: item.RingCtrl,
	}

	if err := m.store.Submit(jobstate.Job{
		JobID: job.JobID, Task: job.Task, Class: job.Class,
		Date: job.Date, Event: job.Event, Sink: job.Sink, Node: job.Node, Pump: job.Pump,
	}); err != nil {
		return "", err
	}

	m.mu.Lock()
	if existing, ok := m.onDeck[job.Class]; !ok || existing == nil {
		m.onDeck[job.Class] = &job
	} else {
		m.queues[job.Class] = append(m.queues[job.Class], job)
	}
	m.mu.Unlock()

	m.publishSubmit(job)

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return job.JobID, nil
}

// publishSubmit announces a newly queued job on the aggregated result
// feed, carrying the only copy of its source node and event the analytics
// subscriber ever sees — a task engine's own envelopes never repeat them.
func (m *Manager) publishSubmit(job Job) {
	env := taskengine.Envelope{
		Tag:   taskengine.TagSubmit,
		JobID: job.JobID,
		Context: &taskengine.JobContext{
			Task: job.Task, Date: job.Date, Event: job.Event, Node: job.Node, Sink: job.Sink,
		},
	}
	payload, err := wire.Pack(env)
	if err != nil {
		m.log.Error("jobmanager: encode submit envelope failed", "job", job.JobID, "error", err)
		return
	}
	m.result.Publish("Sentinel.INFO", payload)
}

func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
			m.tryDispatch(context.Background())
		}
	}
}

// tryDispatch assigns any engine that is idle and has an on-deck job for
// one of its classes.
func (m *Manager) tryDispatch(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.engines {
		if !h.isIdle() {
			continue
		}
		for class := range h.classes {
			job := m.onDeck[class]
			if job == nil {
				continue
			}

			camsize, err := m.resolveCamSize(ctx, job.Date, job.Event)
			if err != nil {
				m.log.Error("jobmanager: camsize resolution failed", "job", job.JobID, "error", err)
				_ = m.store.MarkFailed(job.JobID, 0, err)
				delete(m.onDeck, class)
				m.promoteLocked(class)
				continue
			}
			job.CamSize = camsize

			if err := h.dispatch(ctx, *job); err != nil {
				m.log.Error("jobmanager: dispatch failed", "job", job.JobID, "engine", h.name, "error", err)
				_ = m.store.MarkFailed(job.JobID, 0, err)
				delete(m.onDeck, class)
				m.promoteLocked(class)
				continue
			}

			delete(m.onDeck, class)
			m.promoteLocked(class)
			break
		}
	}
}

func (m *Manager) promoteLocked(class string) {
	q := m.queues[class]
	if len(q) == 0 {
		return
	}
	next := q[0]
	m.queues[class] = q[1:]
	m.onDeck[class] = &next
}

// resolveCamSize looks up an event's frame dimensions from the date index.
// A pure analytic job (no event) needs no camsize.
func (m *Manager) resolveCamSize(ctx context.Context, date, event string) (model.CamSize, error) {
	if event == "" {
		return model.CamSize{}, nil
	}
	rows, err := m.pump.Index(ctx, date)
	if err != nil {
		return model.CamSize{}, err
	}
	for _, r := range rows {
		if r.EventID == event {
			return model.CamSize{Width: r.Width, Height: r.Height}, nil
		}
	}
	return model.CamSize{}, fmt.Errorf("jobmanager: no camsize found for event %s on %s", event, date)
}

// frameList resolves an event's frame timeline for ringctrl: either its
// full image list, or one tracking set's timestamps.
func (m *Manager) frameList(ctx context.Context, date, event, ringctrl string) ([]time.Time, error) {
	if ringctrl == ringbuffer.FullFrames {
		return m.pump.ImageList(ctx, date, event)
	}
	records, err := m.pump.TrackingSet(ctx, date, event, ringctrl)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(records))
	for i, r := range records {
		out[i] = r.Timestamp
	}
	return out, nil
}

func (m *Manager) taskConfigPath(task string) string {
	return m.cfg.Tasks[task].ConfigPath
}

// ResultAddr returns the scheduler-wide result publisher's bound address.
func (m *Manager) ResultAddr() string { return m.result.Addr().String() }

// EngineRingAddr returns the ring-wire server address a named engine
// serves frames over, the same address passed via -ring-wire when
// spawning its subprocess.
func (m *Manager) EngineRingAddr(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.engines[name]
	if !ok {
		return "", false
	}
	return h.ringServer.Addr(), true
}

// Close tears down every engine, the result publisher, and the job ledger.
func (m *Manager) Close() error {
	close(m.done)
	for _, h := range m.engines {
		if h.ringServer != nil {
			h.ringServer.Close()
		}
		if h.ringSet != nil {
			h.ringSet.Close()
		}
		if h.push != nil {
			h.push.Close()
		}
		if h.cmd != nil && h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
	}
	_ = m.result.Close()
	return m.store.Close()
}
