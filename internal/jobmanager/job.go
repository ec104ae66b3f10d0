// Package jobmanager implements the analytics scheduler's job queueing and
// dispatch core: it owns every task engine, queues jobs by class, claims
// on-deck slots, and feeds each running engine's ring buffer from the
// data-access service.
package jobmanager

import "github.com/sentinelcam/sentinelcam/internal/model"

// Job is one submitted analytics task, built from a scheduler control
// request's {task, date, event, sink, node, pump} fields.
type Job struct {
	JobID string
	Task  string
	Class string
	Date  string
	Event string
	Sink  string
	Node  string
	Pump  string

	// CamSize is resolved from the date index once the job is dispatched;
	// zero until then.
	CamSize model.CamSize
	// TrkType and RingCtrl come from the job's task-catalog entry.
	TrkType  string
	RingCtrl string
}
