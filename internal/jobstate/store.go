// Package jobstate mirrors the scheduler's in-memory job ledger into a
// sqlite database so that STATUS/HISTORY introspection survives a process
// restart instead of only ever reflecting the in-memory job list.
package jobstate

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver registration
)

// Status is a job's lifecycle stage: QUEUED at submission, then one per
// STARTED/DONE/FAIL/CANCELED envelope tag a task engine publishes. BOMB
// has no job status of its own.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusStarted  Status = "STARTED"
	StatusDone     Status = "DONE"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

// Job is one row of the ledger: a submitted task and its current lifecycle
// state.
type Job struct {
	JobID     string
	Task      string
	Class     string
	Date      string
	Event     string
	Sink      string
	Node      string
	Pump      string
	Status    Status
	Engine    string
	ImageCnt  int
	Error     string
	Submitted time.Time
	Updated   time.Time
}

// Store is the sqlite-backed ledger. All methods are safe for concurrent
// use; sqlite's own single-writer discipline serializes mutations.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the ledger database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("jobstate: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer, avoids sqlite's concurrent-write contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("jobstate: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id     TEXT PRIMARY KEY,
	task       TEXT NOT NULL,
	class      TEXT NOT NULL,
	date       TEXT,
	event      TEXT,
	sink       TEXT,
	node       TEXT,
	pump       TEXT,
	status     TEXT NOT NULL,
	engine     TEXT,
	image_cnt  INTEGER NOT NULL DEFAULT 0,
	error      TEXT,
	submitted  TIMESTAMP NOT NULL,
	updated    TIMESTAMP NOT NULL
);
`

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Submit records a newly submitted job as QUEUED.
func (s *Store) Submit(j Job) error {
	j.Status = StatusQueued
	j.Submitted, j.Updated = now(), now()
	_, err := s.db.Exec(`
		INSERT INTO jobs (job_id, task, class, date, event, sink, node, pump, status, image_cnt, submitted, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		j.JobID, j.Task, j.Class, j.Date, j.Event, j.Sink, j.Node, j.Pump, j.Status, j.Submitted, j.Updated)
	if err != nil {
		return fmt.Errorf("jobstate: submit %s: %w", j.JobID, err)
	}
	return nil
}

// MarkStarted records which engine picked up a queued job.
func (s *Store) MarkStarted(jobID, engine string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status=?, engine=?, updated=? WHERE job_id=?`,
		StatusStarted, engine, now(), jobID)
	return err
}

// MarkDone records a successful completion and its frame count.
func (s *Store) MarkDone(jobID string, imageCnt int) error {
	_, err := s.db.Exec(`UPDATE jobs SET status=?, image_cnt=?, updated=? WHERE job_id=?`,
		StatusDone, imageCnt, now(), jobID)
	return err
}

// MarkFailed records a failed job and its error message.
func (s *Store) MarkFailed(jobID string, imageCnt int, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.Exec(`UPDATE jobs SET status=?, image_cnt=?, error=?, updated=? WHERE job_id=?`,
		StatusFailed, imageCnt, msg, now(), jobID)
	return err
}

// MarkCanceled records a canceled job.
func (s *Store) MarkCanceled(jobID string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status=?, updated=? WHERE job_id=?`, StatusCanceled, now(), jobID)
	return err
}

// ClassCounts is a STATUS response's per-class breakdown.
type ClassCounts struct {
	Class   string
	Queued  int
	Running int
	Failed  int
}

// Status returns live queued/running/failed counts per job class, backing
// the scheduler's STATUS meta-task.
func (s *Store) Status() ([]ClassCounts, error) {
	rows, err := s.db.Query(`
		SELECT class,
		       SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status=? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status=? THEN 1 ELSE 0 END)
		FROM jobs GROUP BY class`, StatusQueued, StatusStarted, StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("jobstate: status query: %w", err)
	}
	defer rows.Close()

	var out []ClassCounts
	for rows.Next() {
		var c ClassCounts
		if err := rows.Scan(&c.Class, &c.Queued, &c.Running, &c.Failed); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// History returns the full job ledger, newest first, backing the
// scheduler's HISTORY meta-task.
func (s *Store) History() ([]Job, error) {
	rows, err := s.db.Query(`
		SELECT job_id, task, class, date, event, sink, node, pump, status, engine, image_cnt, error, submitted, updated
		FROM jobs ORDER BY submitted DESC`)
	if err != nil {
		return nil, fmt.Errorf("jobstate: history query: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		var engine, errMsg sql.NullString
		if err := rows.Scan(&j.JobID, &j.Task, &j.Class, &j.Date, &j.Event, &j.Sink, &j.Node, &j.Pump,
			&j.Status, &engine, &j.ImageCnt, &errMsg, &j.Submitted, &j.Updated); err != nil {
			return nil, err
		}
		j.Engine = engine.String
		j.Error = errMsg.String
		out = append(out, j)
	}
	return out, rows.Err()
}

// now is a seam so tests can't be tripped up by monotonic-clock reads
// crossing process boundaries; sqlite stores civil time regardless.
func now() time.Time { return time.Now().UTC() }
