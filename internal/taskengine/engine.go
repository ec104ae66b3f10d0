package taskengine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/datapump"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/ringbuffer"
	"github.com/sentinelcam/sentinelcam/internal/tasklib"
	"github.com/sentinelcam/sentinelcam/internal/wire"
	"gopkg.in/yaml.v3"
)

// defaultFailLimit bounds consecutive TaskInternal failures: after this
// many in a row, the engine publishes BOMB and exits.
const defaultFailLimit = 3

// Engine drives one engine subprocess's job loop.
type Engine struct {
	Name      string
	RingAddr  string // the job manager's ring-wire server for this engine
	FailLimit int

	intake *Intake
	pub    *bus.Publisher
	pump   *datapump.Client
	ring   *ringbuffer.Set
	log    *logger.Logger

	failCount int
}

// New constructs an Engine. ringSet holds the buffers this engine was
// spawned with (re-attached by AttachSet from the job manager's
// allocation); pumpAddr is the scheduler's default data-feed endpoint.
func New(name, ringWireAddr, intakeAddr, pubAddr, pumpAddr string, ringSet *ringbuffer.Set, log *logger.Logger) (*Engine, error) {
	intake, err := ListenIntake(intakeAddr, 64)
	if err != nil {
		return nil, fmt.Errorf("taskengine: listen intake: %w", err)
	}
	pub, err := bus.ListenPub(pubAddr)
	if err != nil {
		intake.Close()
		return nil, fmt.Errorf("taskengine: listen result pub: %w", err)
	}

	return &Engine{
		Name:      name,
		RingAddr:  ringWireAddr,
		FailLimit: defaultFailLimit,
		intake:    intake,
		pub:       pub,
		pump:      datapump.NewClient(pumpAddr, 15*time.Second),
		ring:      ringSet,
		log:       log,
	}, nil
}

// Close tears down the engine's sockets.
func (e *Engine) Close() error {
	e.intake.Close()
	e.pub.Close()
	return e.pump.Close()
}

// IntakeAddr is the address the job manager pushes jobs to.
func (e *Engine) IntakeAddr() string { return e.intake.Addr() }

// PubAddr is the address the job manager subscribes to for this engine's
// result feed.
func (e *Engine) PubAddr() string { return e.pub.Addr().String() }

// Run drains the job queue until ctx is canceled, running one job fully
// before accepting the next: the engine blocks on its input queue when
// idle, and DONE for job N always precedes any envelope for job N+1.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case job := <-e.intake.Jobs():
			e.runJob(ctx, job)
			if e.failCount >= e.FailLimit {
				e.publish(Envelope{Tag: TagBomb, Engine: e.Name, Text: fmt.Sprintf("engine %s exceeded failure limit", e.Name)})
				return fmt.Errorf("taskengine: %s exceeded failure limit", e.Name)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (e *Engine) publish(env Envelope) {
	payload, err := wire.Pack(env)
	if err != nil {
		e.log.Error("taskengine: encode envelope failed", "error", err)
		return
	}
	e.pub.Publish("Sentinel.INFO", payload)
}

func (e *Engine) runJob(ctx context.Context, job JobRequest) {
	e.publish(Envelope{Tag: TagStarted, JobID: job.JobID})

	task, err := e.buildTask(job)
	if err != nil {
		e.fail(job, err)
		return
	}

	var imageCnt int
	if job.EventID != "" {
		imageCnt, err = e.runImagePipeline(ctx, job, task)
	} else {
		_, _, err = task.Pipeline(nil)
	}
	if err != nil {
		_ = task.Finalize()
		e.fail(job, err)
		return
	}

	if err := task.Finalize(); err != nil {
		e.fail(job, err)
		return
	}

	e.failCount = 0
	e.publish(Envelope{Tag: TagDone, JobID: job.JobID, Text: fmt.Sprintf("%d", imageCnt)})
}

func (e *Engine) runImagePipeline(ctx context.Context, job JobRequest, task tasklib.Task) (int, error) {
	buf, err := e.ring.ForSize(job.CamSize.Width, job.CamSize.Height)
	if err != nil {
		return 0, err
	}

	ringctrl := job.RingCtrl
	if ringctrl == "" {
		ringctrl = job.TrkType
	}
	if ringctrl == "" {
		ringctrl = model.TypeTrk
	}

	firstTS, err := e.firstFrameTimestamp(ctx, job, ringctrl)
	if err != nil {
		return 0, err
	}

	client := ringbuffer.NewClient(e.RingAddr, 15*time.Second)
	defer client.Close()

	bucket, err := client.Start(ctx, firstTS, true, ringctrl)
	if err != nil {
		return 0, err
	}

	frames := 0
	offset := 0
	for bucket != ringbuffer.EOF {
		frame := &tasklib.Frame{
			Data:   buf.Slot(bucket),
			Width:  buf.Width,
			Height: buf.Height,
			Offset: offset,
		}
		results, cont, err := task.Pipeline(frame)
		if err != nil {
			return frames, err
		}
		for _, r := range results {
			e.publish(Envelope{Tag: TagStatus, JobID: job.JobID, Status: &StatusPayload{
				JobID: job.JobID, RefKey: r.RefKey, RingCtrl: ringctrl,
				Start: firstTS, Offset: r.Offset, Clas: r.Class, Rect: r.Rect,
			}})
		}
		frames++
		offset++
		if !cont {
			break
		}

		bucket, err = client.Next(ctx)
		if err != nil {
			return frames, err
		}
	}
	return frames, nil
}

// firstFrameTimestamp derives the event's first frame timestamp from
// either its tracking set or its full image list, per ringctrl.
func (e *Engine) firstFrameTimestamp(ctx context.Context, job JobRequest, ringctrl string) (time.Time, error) {
	if ringctrl == ringbuffer.FullFrames {
		times, err := e.pump.ImageList(ctx, job.Date, job.EventID)
		if err != nil {
			return time.Time{}, err
		}
		if len(times) == 0 {
			return time.Time{}, fmt.Errorf("taskengine: event %s has no images", job.EventID)
		}
		return times[0], nil
	}

	records, err := e.pump.TrackingSet(ctx, job.Date, job.EventID, ringctrl)
	if err != nil {
		return time.Time{}, err
	}
	if len(records) == 0 {
		return time.Time{}, fmt.Errorf("taskengine: event %s has no %s records", job.EventID, ringctrl)
	}
	return records[0].Timestamp, nil
}

func (e *Engine) buildTask(job JobRequest) (tasklib.Task, error) {
	cfg := tasklib.Config{}
	if job.ConfigPath != "" {
		data, err := os.ReadFile(job.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("taskengine: read task config %s: %w", job.ConfigPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("taskengine: parse task config %s: %w", job.ConfigPath, err)
		}
	}
	return tasklib.Build(job.Task, cfg)
}

func (e *Engine) fail(job JobRequest, cause error) {
	e.failCount++
	e.log.Error("taskengine: job failed", "job", job.JobID, "task", job.Task, "error", cause)
	e.publish(Envelope{Tag: TagFail, JobID: job.JobID, Text: cause.Error()})
}
