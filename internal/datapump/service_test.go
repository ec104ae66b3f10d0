package datapump

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/model"
)

func newTestService(t *testing.T) (*Service, *Client, *camstore.Store) {
	t.Helper()
	store := camstore.New(t.TempDir(), t.TempDir())
	svc := NewService(store, logger.NewNopLogger())
	require.NoError(t, svc.Listen("127.0.0.1:0"))
	t.Cleanup(func() { svc.Close() })

	client := NewClient(svc.Addr(), 5*time.Second)
	t.Cleanup(func() { client.Close() })
	return svc, client, store
}

func TestHealthCheck(t *testing.T) {
	_, client, _ := newTestService(t)
	require.NoError(t, client.HealthCheck(context.Background()))
}

func TestIndexRoundTrip(t *testing.T) {
	_, client, store := newTestService(t)
	start := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendIndexRow("2026-07-31", model.DateIndexRow{
		Node: "porch", ViewName: "front", Timestamp: start,
		EventID: "E1", Width: 640, Height: 360, Type: model.TypeTrk,
	}))

	rows, err := client.Index(context.Background(), "2026-07-31")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "E1", rows[0].EventID)
	assert.True(t, start.Equal(rows[0].Timestamp))
}

func TestIndexEmptyDateReturnsZeroRows(t *testing.T) {
	_, client, _ := newTestService(t)
	rows, err := client.Index(context.Background(), "2020-01-01")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMissingPictureReturnsSentinel(t *testing.T) {
	_, client, _ := newTestService(t)
	data, err := client.Picture(context.Background(), "2026-07-31", "E1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, camstore.SentinelJPEG, data)
}

func TestDeleteThenQueryReflectsPurge(t *testing.T) {
	_, client, store := newTestService(t)
	date := "2026-07-31"
	start := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendIndexRow(date, model.DateIndexRow{
		EventID: "E3", Type: model.TypeTrk, Timestamp: start, Width: 640, Height: 360,
	}))

	require.NoError(t, client.Delete(context.Background(), date, "E3"))
	require.NoError(t, client.Delete(context.Background(), date, "E3")) // idempotent

	// Background purge runs on its own goroutine; poll briefly.
	require.Eventually(t, func() bool {
		rows, err := client.Index(context.Background(), date)
		return err == nil && len(rows) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMissingTrackingSetIsNotFound(t *testing.T) {
	_, client, _ := newTestService(t)
	_, err := client.TrackingSet(context.Background(), "2026-07-31", "no-such-event", "trk")
	require.ErrorIs(t, err, camstore.ErrNotFound)
}

func TestEmptyTrackingSetIsDistinctFromNotFound(t *testing.T) {
	_, client, store := newTestService(t)
	date := "2026-07-31"
	require.NoError(t, store.AppendIndexRow(date, model.DateIndexRow{
		EventID: "E5", Type: model.TypeTrk, Timestamp: time.Now().UTC(), Width: 640, Height: 360,
	}))
	// header-only file: present but zero rows
	path := store.TrackingSetPath(date, "E5", model.TypeTrk)
	require.NoError(t, os.WriteFile(path, []byte(camstore.TrackingCSVHeader+"\n"), 0o644))

	records, err := client.TrackingSet(context.Background(), date, "E5", "trk")
	require.NoError(t, err)
	require.NotNil(t, records)
	assert.Empty(t, records)
}

func TestMissingImageSetIsNotFound(t *testing.T) {
	_, client, _ := newTestService(t)
	_, err := client.ImageList(context.Background(), "2026-07-31", "no-such-event")
	require.ErrorIs(t, err, camstore.ErrNotFound)
}

func TestDatesNewestFirst(t *testing.T) {
	_, client, store := newTestService(t)
	require.NoError(t, store.AppendIndexRow("2026-07-29", model.DateIndexRow{EventID: "A", Type: model.TypeTrk}))
	require.NoError(t, store.AppendIndexRow("2026-07-31", model.DateIndexRow{EventID: "B", Type: model.TypeTrk}))

	dates, err := client.Dates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"2026-07-31", "2026-07-29"}, dates)
}
