package imagewriter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

func TestListenControlDrivesStartStop(t *testing.T) {
	store := camstore.New(t.TempDir(), t.TempDir())
	src := newFakeSource()
	w := New(store, logger.NewNopLogger(), src, 1)

	ctrl, err := ListenControl("127.0.0.1:0", w)
	require.NoError(t, err)
	defer ctrl.Close()

	client := bus.NewReqRepClient(ctrl.Addr().String(), time.Second)
	defer client.Close()

	payload, err := wire.Pack(ControlRequest{Cmd: "start", Date: "2026-07-31", EventID: "evt-1"})
	require.NoError(t, err)
	respBytes, err := client.Request(context.Background(), payload)
	require.NoError(t, err)

	var reply ControlReply
	require.NoError(t, wire.Unpack(respBytes, &reply))
	assert.Equal(t, "OK", reply.Status)

	w.mu.Lock()
	assert.True(t, w.active)
	assert.Equal(t, "evt-1", w.eventID)
	w.mu.Unlock()

	payload, err = wire.Pack(ControlRequest{Cmd: "stop"})
	require.NoError(t, err)
	respBytes, err = client.Request(context.Background(), payload)
	require.NoError(t, err)
	require.NoError(t, wire.Unpack(respBytes, &reply))
	assert.Equal(t, "OK", reply.Status)

	// No frame has been written yet, so the stop is deferred: the writer
	// stays active until its first frame lands.
	w.mu.Lock()
	assert.True(t, w.pendingStop)
	w.mu.Unlock()
}
