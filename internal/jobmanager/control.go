package jobmanager

import (
	"context"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/jobstate"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// ControlCmd distinguishes a job submission from a STATUS/HISTORY
// introspection meta-task.
type ControlCmd string

const (
	ControlSubmit  ControlCmd = ""
	ControlStatus  ControlCmd = "STATUS"
	ControlHistory ControlCmd = "HISTORY"
)

// ControlRequest is the scheduler's external control-socket request:
// {task, date, event, sink, node, pump}, extended with Cmd for the
// meta-tasks.
type ControlRequest struct {
	Cmd   ControlCmd `msgpack:"cmd,omitempty"`
	Task  string     `msgpack:"task,omitempty"`
	Date  string     `msgpack:"date,omitempty"`
	Event string     `msgpack:"event,omitempty"`
	Sink  string     `msgpack:"sink,omitempty"`
	Node  string     `msgpack:"node,omitempty"`
	Pump  string     `msgpack:"pump,omitempty"`
}

// ControlReply answers a ControlRequest.
type ControlReply struct {
	JobID   string                 `msgpack:"jobid,omitempty"`
	Error   string                 `msgpack:"error,omitempty"`
	Classes []jobstate.ClassCounts `msgpack:"classes,omitempty"`
	History []jobstate.Job         `msgpack:"history,omitempty"`
}

// ListenControl starts the scheduler's external control REP server.
func ListenControl(addr string, m *Manager) (*bus.ReqRepServer, error) {
	return bus.ListenReqRep(addr, func(ctx context.Context, raw []byte) []byte {
		var req ControlRequest
		if err := wire.Unpack(raw, &req); err != nil {
			reply, _ := wire.Pack(ControlReply{Error: err.Error()})
			return reply
		}

		var rep ControlReply
		switch req.Cmd {
		case ControlStatus:
			classes, err := m.store.Status()
			if err != nil {
				rep.Error = err.Error()
			} else {
				rep.Classes = classes
			}
		case ControlHistory:
			history, err := m.store.History()
			if err != nil {
				rep.Error = err.Error()
			} else {
				rep.History = history
			}
		default:
			jobID, err := m.Submit(ctx, SubmitRequest{
				Task: req.Task, Date: req.Date, Event: req.Event,
				Sink: req.Sink, Node: req.Node, Pump: req.Pump,
			})
			if err != nil {
				rep.Error = err.Error()
			} else {
				rep.JobID = jobID
			}
		}

		payload, _ := wire.Pack(rep)
		return payload
	})
}
