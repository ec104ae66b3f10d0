// Package taskengine implements the task-engine subprocess: it consumes
// one job at a time from its local job-intake socket, streams frames from
// a ring buffer fed by the job manager, drives a tasklib.Task's pipeline,
// and publishes lifecycle and per-frame result envelopes to its local
// result publisher.
package taskengine

import (
	"time"

	"github.com/sentinelcam/sentinelcam/internal/model"
)

// Tag names an envelope kind on the engine's result publisher.
type Tag string

const (
	TagSubmit   Tag = "SUBMIT"
	TagStatus   Tag = "STATUS"
	TagStarted  Tag = "STARTED"
	TagDone     Tag = "DONE"
	TagFail     Tag = "FAIL"
	TagCanceled Tag = "CANCELED"
	TagBomb     Tag = "BOMB"
)

// JobContext carries a job's submission metadata on its SUBMIT envelope —
// the only point in a job's lifecycle where its source node and sink are
// published, since the engine's own JobRequest never carries them.
type JobContext struct {
	Task  string `msgpack:"task"`
	Date  string `msgpack:"date,omitempty"`
	Event string `msgpack:"event,omitempty"`
	Node  string `msgpack:"node,omitempty"`
	Sink  string `msgpack:"sink,omitempty"`
}

// StatusPayload is a per-frame analytic finding, the engine's STATUS
// envelope payload shape.
type StatusPayload struct {
	JobID    string     `msgpack:"jobid"`
	RefKey   string     `msgpack:"refkey"`
	RingCtrl string     `msgpack:"ringctrl"`
	Start    time.Time  `msgpack:"start"`
	Offset   int        `msgpack:"offset"`
	Clas     string     `msgpack:"clas"`
	Rect     model.Rect `msgpack:"rect"`
}

// Envelope is one published result: a (tag, payload) pair. Exactly one of
// Text, Status, or JobID-only lifecycle data applies, depending on Tag.
type Envelope struct {
	Tag     Tag            `msgpack:"tag"`
	JobID   string         `msgpack:"jobid,omitempty"`
	Engine  string         `msgpack:"engine,omitempty"`
	Text    string         `msgpack:"text,omitempty"`
	Status  *StatusPayload `msgpack:"status,omitempty"`
	Context *JobContext    `msgpack:"context,omitempty"`
}
