package imagewriter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/logger"
)

// fakeSource feeds a fixed sequence of frames, then blocks until closed.
type fakeSource struct {
	frames chan ImageFrame
	closed chan struct{}
}

func newFakeSource(frames ...ImageFrame) *fakeSource {
	ch := make(chan ImageFrame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	return &fakeSource{frames: ch, closed: make(chan struct{})}
}

func (s *fakeSource) Receive(timeout time.Duration) (ImageFrame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return ImageFrame{}, context.Canceled
	case <-time.After(timeout):
		return ImageFrame{}, context.DeadlineExceeded
	}
}

func (s *fakeSource) Close() error {
	close(s.closed)
	return nil
}

func TestWriterPersistsFramesWhileActive(t *testing.T) {
	store := camstore.New(t.TempDir(), t.TempDir())
	ts := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	src := newFakeSource(
		ImageFrame{View: "front", Timestamp: ts, JPEG: camstore.SentinelJPEG},
		ImageFrame{View: "front", Timestamp: ts.Add(time.Second), JPEG: camstore.SentinelJPEG},
	)
	w := New(store, logger.NewNopLogger(), src, 1)
	defer w.Close()

	w.Start("2026-07-31", "E1")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go w.Run(ctx)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(store.ImageFilePath("2026-07-31", "E1", ts))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestWriterDropsFramesBeforeStart(t *testing.T) {
	store := camstore.New(t.TempDir(), t.TempDir())
	ts := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	src := newFakeSource(ImageFrame{View: "front", Timestamp: ts, JPEG: camstore.SentinelJPEG})
	w := New(store, logger.NewNopLogger(), src, 1)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	_, err := os.Stat(store.ImageFilePath("2026-07-31", "E1", ts))
	require.Error(t, err)
}

func TestWriterStopBeforeFirstFrameStillWritesOne(t *testing.T) {
	store := camstore.New(t.TempDir(), t.TempDir())
	ts := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	src := newFakeSource(
		ImageFrame{View: "front", Timestamp: ts, JPEG: camstore.SentinelJPEG},
		ImageFrame{View: "front", Timestamp: ts.Add(time.Second), JPEG: camstore.SentinelJPEG},
	)
	w := New(store, logger.NewNopLogger(), src, 1)
	defer w.Close()

	// Stop arrives before Run has received a single frame — the ordinary
	// case for a short event on a slow-publishing view. The activation
	// must still persist exactly one frame.
	w.Start("2026-07-31", "E1")
	w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	_, err := os.Stat(store.ImageFilePath("2026-07-31", "E1", ts))
	assert.NoError(t, err, "first frame of the activation survives an immediate stop")
	_, err = os.Stat(store.ImageFilePath("2026-07-31", "E1", ts.Add(time.Second)))
	assert.Error(t, err, "writer deactivates once the deferred stop is satisfied")
}

func TestWriterSamplesAndAlwaysWritesFirstFrame(t *testing.T) {
	store := camstore.New(t.TempDir(), t.TempDir())
	base := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	frames := make([]ImageFrame, 4)
	for i := range frames {
		frames[i] = ImageFrame{View: "front", Timestamp: base.Add(time.Duration(i) * time.Second), JPEG: camstore.SentinelJPEG}
	}
	src := newFakeSource(frames...)
	w := New(store, logger.NewNopLogger(), src, 2) // every other frame
	defer w.Close()
	w.Start("2026-07-31", "E1")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	_, err := os.Stat(store.ImageFilePath("2026-07-31", "E1", frames[0].Timestamp))
	assert.NoError(t, err, "first frame of an activation is always written")
	_, err = os.Stat(store.ImageFilePath("2026-07-31", "E1", frames[1].Timestamp))
	assert.Error(t, err, "second frame is skipped by sampling")
	_, err = os.Stat(store.ImageFilePath("2026-07-31", "E1", frames[2].Timestamp))
	assert.NoError(t, err, "third frame lands back on the sample phase")
}
