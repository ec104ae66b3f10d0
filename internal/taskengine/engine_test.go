package taskengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/datapump"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/ringbuffer"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

func newTestEngine(t *testing.T) (*Engine, func()) {
	t.Helper()
	store := camstore.New(t.TempDir(), t.TempDir())
	pump := datapump.NewService(store, logger.NewNopLogger())
	require.NoError(t, pump.Listen("127.0.0.1:0"))

	ringSet, err := ringbuffer.NewSet(nil)
	require.NoError(t, err)

	e, err := New("engine-a", "127.0.0.1:1", "127.0.0.1:0", "127.0.0.1:0", pump.Addr(), ringSet, logger.NewNopLogger())
	require.NoError(t, err)

	cleanup := func() {
		e.Close()
		pump.Close()
		ringSet.Close()
	}
	return e, cleanup
}

func drainEnvelope(t *testing.T, sub *bus.Subscriber) Envelope {
	t.Helper()
	msg, err := sub.Receive(5 * time.Second)
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, wire.Unpack(msg.Payload, &env))
	return env
}

func TestPureAnalyticJobPublishesLifecycle(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()

	sub, err := bus.DialSub(context.Background(), e.pub.Addr().String(), "")
	require.NoError(t, err)
	defer sub.Close()

	go func() { _ = e.Run(context.Background()) }()

	client := NewPushClient(e.IntakeAddr())
	defer client.Close()
	require.NoError(t, client.Push(context.Background(), JobRequest{JobID: "j1", Task: "MotionSummary"}))

	started := drainEnvelope(t, sub)
	assert.Equal(t, TagStarted, started.Tag)
	done := drainEnvelope(t, sub)
	assert.Equal(t, TagDone, done.Tag)
}

func TestUnknownTaskPublishesFail(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()

	sub, err := bus.DialSub(context.Background(), e.pub.Addr().String(), "")
	require.NoError(t, err)
	defer sub.Close()

	go func() { _ = e.Run(context.Background()) }()

	client := NewPushClient(e.IntakeAddr())
	defer client.Close()
	require.NoError(t, client.Push(context.Background(), JobRequest{JobID: "j2", Task: "NoSuchTask"}))

	_ = drainEnvelope(t, sub) // STARTED
	fail := drainEnvelope(t, sub)
	assert.Equal(t, TagFail, fail.Tag)
}

func TestFailLimitPublishesBombAndStopsEngine(t *testing.T) {
	e, cleanup := newTestEngine(t)
	defer cleanup()
	e.FailLimit = 2

	sub, err := bus.DialSub(context.Background(), e.pub.Addr().String(), "")
	require.NoError(t, err)
	defer sub.Close()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	client := NewPushClient(e.IntakeAddr())
	defer client.Close()
	for i := 0; i < 2; i++ {
		require.NoError(t, client.Push(context.Background(), JobRequest{JobID: "bad", Task: "NoSuchTask"}))
		_ = drainEnvelope(t, sub) // STARTED
		_ = drainEnvelope(t, sub) // FAIL
	}
	bomb := drainEnvelope(t, sub)
	assert.Equal(t, TagBomb, bomb.Tag)
	assert.Equal(t, "engine-a", bomb.Engine)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not exit after BOMB")
	}
}
