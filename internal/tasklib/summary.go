package tasklib

// summaryTask is a pure analytic: it has no image stream (event_id unset)
// and runs its Pipeline exactly once with a nil Frame, producing no
// per-frame CSV rows. It stands in for a
// whole-event summary pass (e.g. "did this event cross a scheduling
// threshold") that only needs the job's metadata, not its frames.
type summaryTask struct {
	ran bool
}

func newSummaryTask(cfg Config) (Task, error) {
	return &summaryTask{}, nil
}

func (t *summaryTask) Pipeline(frame *Frame) ([]Result, bool, error) {
	t.ran = true
	return nil, false, nil
}

func (t *summaryTask) Finalize() error { return nil }
