package jobstate

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobstate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitAndLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Submit(Job{JobID: "j1", Task: "MobileNetSSD_allFrames", Class: "vision", Date: "2026-07-31", Event: "E1"}))
	require.NoError(t, s.MarkStarted("j1", "engine-a"))
	require.NoError(t, s.MarkDone("j1", 42))

	hist, err := s.History()
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusDone, hist[0].Status)
	assert.Equal(t, 42, hist[0].ImageCnt)
	assert.Equal(t, "engine-a", hist[0].Engine)
}

func TestMarkFailedRecordsCause(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Submit(Job{JobID: "j2", Task: "t", Class: "vision"}))
	require.NoError(t, s.MarkFailed("j2", 0, errors.New("RingBuffer definition (999,999) not supported")))

	hist, err := s.History()
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, StatusFailed, hist[0].Status)
	assert.Contains(t, hist[0].Error, "not supported")
}

func TestStatusCounts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Submit(Job{JobID: "j1", Task: "t", Class: "vision"}))
	require.NoError(t, s.Submit(Job{JobID: "j2", Task: "t", Class: "vision"}))
	require.NoError(t, s.MarkStarted("j2", "engine-a"))

	counts, err := s.Status()
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "vision", counts[0].Class)
	assert.Equal(t, 1, counts[0].Queued)
	assert.Equal(t, 1, counts[0].Running)
}
