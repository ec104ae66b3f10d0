package camstore

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), t.TempDir())
}

func TestAppendAndReadIndex(t *testing.T) {
	s := newTestStore(t)
	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendIndexRow("2026-07-31", model.DateIndexRow{
		Node: "porch", ViewName: "front", Timestamp: start,
		EventID: "E1", Width: 640, Height: 360, Type: model.TypeTrk,
	}))
	require.NoError(t, s.AppendIndexRow("2026-07-31", model.DateIndexRow{
		Node: "porch", ViewName: "front", Timestamp: start,
		EventID: "E1", Width: 640, Height: 360, Type: model.TypeObj,
	}))

	rows, err := s.GetIndex("2026-07-31")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "E1", rows[0].EventID)
	assert.Equal(t, model.TypeObj, rows[1].Type)

	types, err := s.GetEventTypes("2026-07-31", "E1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{model.TypeTrk, model.TypeObj}, types)
}

func TestGetIndexSkipsMalformedTrailingLine(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AppendIndexRow("2026-07-31", model.DateIndexRow{
		Node: "porch", ViewName: "front", Timestamp: time.Now(),
		EventID: "E1", Width: 640, Height: 360, Type: model.TypeTrk,
	}))

	f, err := os.OpenFile(s.IndexPath("2026-07-31"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("truncated,garbage")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := s.GetIndex("2026-07-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestGetIndexEmptyDate(t *testing.T) {
	s := newTestStore(t)
	rows, err := s.GetIndex("2026-01-01")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeleteEventIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	date := "2026-07-31"
	start := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendIndexRow(date, model.DateIndexRow{
		EventID: "E3", Type: model.TypeTrk, Timestamp: start, Width: 640, Height: 360,
	}))

	require.NoError(t, s.DeleteEvent(date, "E3"))
	require.NoError(t, s.DeleteEvent(date, "E3")) // second delete: no-op, not an error

	rows, err := s.GetIndex(date)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestImageFileNameRoundTrip(t *testing.T) {
	ts := time.Date(2026, 7, 31, 10, 30, 15, 123456000, time.UTC)
	name := ImageFileName("E1", ts)
	assert.Equal(t, "E1_2026-07-31_10.30.15.123456.jpg", name)
}
