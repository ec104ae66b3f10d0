package taskengine

import (
	"context"
	"fmt"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/model"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// JobRequest is one job pushed onto an engine's input queue by the job
// manager. EventID is empty for a pure analytic task with no image
// stream.
type JobRequest struct {
	JobID      string `msgpack:"jobid"`
	Task       string `msgpack:"task"`
	Class      string `msgpack:"class"`
	ConfigPath string `msgpack:"config_path"`
	Date       string `msgpack:"date,omitempty"`
	EventID    string `msgpack:"event,omitempty"`
	TrkType    string `msgpack:"trk_type,omitempty"`
	RingCtrl   string `msgpack:"ringctrl,omitempty"`
	// CamSize is resolved by the job manager from the date index before
	// the job is pushed (or re-pushed on an event change). It arrives on
	// the job-input queue ahead of the ring-wire START reply, so the
	// engine learns frame dimensions on a separate channel from the frame
	// data itself.
	CamSize model.CamSize `msgpack:"camsize,omitempty"`
}

// Intake is the engine-side job-input queue: a REP server the job manager
// dials to hand off one job at a time. Accepting the push (replying OK)
// is distinct from running it — Engine.Run drains the internal channel
// one job at a time, a multi-producer/single-consumer queue design.
type Intake struct {
	rep   *bus.ReqRepServer
	queue chan JobRequest
}

// ListenIntake starts an Intake bound to addr, buffering up to queueLen
// pushed jobs.
func ListenIntake(addr string, queueLen int) (*Intake, error) {
	queue := make(chan JobRequest, queueLen)
	rep, err := bus.ListenReqRep(addr, func(ctx context.Context, raw []byte) []byte {
		var job JobRequest
		if err := wire.Unpack(raw, &job); err != nil {
			reply, _ := wire.Pack(map[string]string{"status": "Error"})
			return reply
		}
		select {
		case queue <- job:
			reply, _ := wire.Pack(map[string]string{"status": "OK"})
			return reply
		default:
			reply, _ := wire.Pack(map[string]string{"status": "Error"})
			return reply
		}
	})
	if err != nil {
		return nil, err
	}
	return &Intake{rep: rep, queue: queue}, nil
}

// Addr returns the bound local address.
func (i *Intake) Addr() string { return i.rep.Addr().String() }

// Jobs returns the channel Engine.Run consumes.
func (i *Intake) Jobs() <-chan JobRequest { return i.queue }

// Close stops accepting job pushes.
func (i *Intake) Close() error { return i.rep.Close() }

// PushClient is the job-manager side of Intake: a client that hands one
// job at a time to an engine's Intake.
type PushClient struct {
	rr *bus.ReqRepClient
}

// NewPushClient creates a PushClient targeting an Intake's address.
func NewPushClient(addr string) *PushClient {
	return &PushClient{rr: bus.NewReqRepClient(addr, 0)}
}

// Push hands job to the engine, blocking until it's accepted (queued) or
// ctx is done. A full intake queue refuses the push.
func (c *PushClient) Push(ctx context.Context, job JobRequest) error {
	payload, err := wire.Pack(job)
	if err != nil {
		return err
	}
	raw, err := c.rr.Request(ctx, payload)
	if err != nil {
		return err
	}
	var reply map[string]string
	if err := wire.Unpack(raw, &reply); err != nil {
		return fmt.Errorf("taskengine: decode push reply: %w", err)
	}
	if reply["status"] != "OK" {
		return fmt.Errorf("taskengine: engine refused job %s", job.JobID)
	}
	return nil
}

// Close releases the client's connection.
func (c *PushClient) Close() error { return c.rr.Close() }
