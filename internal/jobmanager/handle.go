package jobmanager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/ringbuffer"
	"github.com/sentinelcam/sentinelcam/internal/taskengine"
)

// engineHandle owns one task-engine subprocess: its ring-buffer set, the
// ring-wire server feeding it frames, the push client handing it jobs, and
// the subscriber draining its result feed. It also implements
// ringbuffer.FrameSource so the job manager is the frame producer for its
// engine's ring-wire requests.
type engineHandle struct {
	name    string
	classes map[string]bool
	item    config.EngineCatalogItem
	mgr     *Manager

	ringDir    string
	ringSet    *ringbuffer.Set
	ringServer *ringbuffer.Server
	push       *taskengine.PushClient
	cmd        *exec.Cmd
	log        *logger.Logger

	mu      sync.Mutex
	state   engineState
	current *Job
	cursor  *frameCursor
}

type engineState string

const (
	stateIdle    engineState = "idle"
	stateRunning engineState = "running"
	stateDown    engineState = "down"
)

// frameCursor tracks one active job's position through its frame timeline.
type frameCursor struct {
	frames []time.Time
	idx    int
	buf    *ringbuffer.Buffer
}

func classSet(classes []string) map[string]bool {
	out := make(map[string]bool, len(classes))
	for _, c := range classes {
		out[c] = true
	}
	return out
}

// isIdle reports whether the engine can accept a new job.
func (h *engineHandle) isIdle() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateIdle
}

// dispatch hands job to the engine's intake queue and marks it running.
// The caller (Manager.tryDispatch) holds the class-queue lock; dispatch
// only touches this engine's own state.
func (h *engineHandle) dispatch(ctx context.Context, job Job) error {
	h.mu.Lock()
	h.current = &job
	h.state = stateRunning
	h.mu.Unlock()

	req := taskengine.JobRequest{
		JobID:      job.JobID,
		Task:       job.Task,
		Class:      job.Class,
		ConfigPath: h.mgr.taskConfigPath(job.Task),
		Date:       job.Date,
		EventID:    job.Event,
		TrkType:    job.TrkType,
		RingCtrl:   job.RingCtrl,
		CamSize:    job.CamSize,
	}
	if err := h.push.Push(ctx, req); err != nil {
		h.mu.Lock()
		h.state = stateIdle
		h.current = nil
		h.mu.Unlock()
		return fmt.Errorf("jobmanager: push job %s to engine %s: %w", job.JobID, h.name, err)
	}
	return nil
}

// watchProcess blocks on the subprocess's exit and marks the engine down
// so it stops receiving dispatch.
func (h *engineHandle) watchProcess() {
	if h.cmd == nil {
		return
	}
	err := h.cmd.Wait()
	h.mu.Lock()
	h.state = stateDown
	h.mu.Unlock()
	if err != nil {
		h.log.Error("jobmanager: engine process exited", "engine", h.name, "error", err)
	} else {
		h.log.Info("jobmanager: engine process exited", "engine", h.name)
	}
}

// Start implements ringbuffer.FrameSource: it resolves the active job's
// buffer and frame timeline, seeks to the first frame at or after frameTS,
// and feeds it.
func (h *engineHandle) Start(ctx context.Context, frameTS time.Time, newEvent bool, ringctrl ringbuffer.RingCtrl) (int, error) {
	h.mu.Lock()
	job := h.current
	h.mu.Unlock()
	if job == nil {
		return ringbuffer.EOF, fmt.Errorf("jobmanager: engine %s has no active job", h.name)
	}

	buf, err := h.ringSet.ForSize(job.CamSize.Width, job.CamSize.Height)
	if err != nil {
		return ringbuffer.EOF, err
	}

	frames, err := h.mgr.frameList(ctx, job.Date, job.Event, ringctrl)
	if err != nil {
		return ringbuffer.EOF, err
	}

	idx := 0
	for idx < len(frames) && frames[idx].Before(frameTS) {
		idx++
	}

	h.mu.Lock()
	h.cursor = &frameCursor{frames: frames, idx: idx, buf: buf}
	h.mu.Unlock()

	return h.feedNext(ctx)
}

// Next implements ringbuffer.FrameSource: release the previous slot and
// feed the next frame.
func (h *engineHandle) Next(ctx context.Context) (int, error) {
	h.mu.Lock()
	cur := h.cursor
	h.mu.Unlock()
	if cur == nil {
		return ringbuffer.EOF, fmt.Errorf("jobmanager: engine %s ring cursor not started", h.name)
	}
	cur.buf.Advance()
	return h.feedNext(ctx)
}

func (h *engineHandle) feedNext(ctx context.Context) (int, error) {
	h.mu.Lock()
	cur := h.cursor
	job := h.current
	h.mu.Unlock()

	if cur == nil || job == nil || cur.idx >= len(cur.frames) {
		return ringbuffer.EOF, nil
	}

	ts := cur.frames[cur.idx]
	jpegBytes, err := h.mgr.pump.Picture(ctx, job.Date, job.Event, ts)
	if err != nil {
		return ringbuffer.EOF, fmt.Errorf("jobmanager: fetch frame %s: %w", ts, err)
	}
	raw, err := decodeBGR24(jpegBytes, cur.buf.Width, cur.buf.Height)
	if err != nil {
		return ringbuffer.EOF, err
	}
	bucket, err := cur.buf.Put(raw)
	if err != nil {
		return ringbuffer.EOF, err
	}
	cur.idx++
	return bucket, nil
}

// spawn starts the engine's subprocess, passing the addresses and ring
// directory it needs to wire itself up. Exec is skipped (and the engine
// left in-process-only) when item.Exec is empty, the configuration this
// package's own tests use.
func (h *engineHandle) spawn(configPath string) error {
	if h.item.Exec == "" {
		h.state = stateIdle
		return nil
	}
	cmd := exec.Command(h.item.Exec,
		"-name", h.name,
		"-config", configPath,
		"-ring-wire", h.ringServer.Addr(),
		"-ring-dir", h.ringDir,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("jobmanager: spawn engine %s (%s): %w", h.name, h.item.Exec, err)
	}
	h.cmd = cmd
	h.state = stateIdle
	go h.watchProcess()
	return nil
}
