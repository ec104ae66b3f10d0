package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/camstore"
	"github.com/sentinelcam/sentinelcam/internal/config"
	"github.com/sentinelcam/sentinelcam/internal/logger"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

func TestDispatcherRecordsStartTrkEnd(t *testing.T) {
	logPub, err := bus.ListenPub(":0")
	require.NoError(t, err)
	defer logPub.Close()
	imgPub, err := bus.ListenPub(":0")
	require.NoError(t, err)
	defer imgPub.Close()

	store := camstore.New(t.TempDir(), t.TempDir())
	cfg := config.IngestConfig{
		Outposts: map[string]config.Outpost{
			"front-door": {View: "front", Logger: logPub.Addr().String(), ImagePublisher: imgPub.Addr().String()},
		},
	}
	d := New(cfg, logger.NewNopLogger(), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Give the dispatcher's subscriber goroutines time to dial in before
	// publishing, since Publish drops to subscribers that aren't yet
	// connected.
	time.Sleep(150 * time.Millisecond)

	ts := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	startPayload, err := wire.Pack(map[string]interface{}{
		"evt": "start", "id": "E1", "view": "front", "fps": 15.0,
		"camsize": []interface{}{640, 480}, "timestamp": ts,
	})
	require.NoError(t, err)
	logPub.Publish("", startPayload)

	trkPayload, err := wire.Pack(map[string]interface{}{
		"evt": "trk", "id": "E1", "view": "front", "obj": "1", "clas": "person",
		"rect": []interface{}{1, 2, 3, 4}, "timestamp": ts.Add(time.Second),
	})
	require.NoError(t, err)
	logPub.Publish("", trkPayload)

	endPayload, err := wire.Pack(map[string]interface{}{"evt": "end", "id": "E1", "view": "front"})
	require.NoError(t, err)
	logPub.Publish("", endPayload)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(store.TrackingSetPath("2026-07-31", "E1", "trk"))
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not shut down")
	}

	index, err := store.GetIndex("2026-07-31")
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, "front-door", index[0].Node)
	assert.Equal(t, "E1", index[0].EventID)
}

func TestCameraUpRegistersNewOutpost(t *testing.T) {
	store := camstore.New(t.TempDir(), t.TempDir())
	port := freeControlPort(t)
	cfg := config.IngestConfig{ControlPort: port}
	d := New(cfg, logger.NewNopLogger(), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	client := bus.NewReqRepClient(fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	defer client.Close()

	req, err := wire.Pack(cameraUpRequest{Cmd: "CameraUp", Node: "side-gate", View: "side", Logger: "127.0.0.1:1", ImagePublisher: "127.0.0.1:1"})
	require.NoError(t, err)
	resp, err := client.Request(ctx, req)
	require.NoError(t, err)

	var rep cameraUpReply
	require.NoError(t, wire.Unpack(resp, &rep))
	assert.Equal(t, "OK", rep.Status)

	info, ok := d.reg.get("side-gate")
	require.True(t, ok)
	assert.Equal(t, "side", info.View)

	cancel()
	<-done
}

// freeControlPort binds an ephemeral TCP port and releases it immediately
// so the dispatcher's own listener can reuse it, avoiding a hardcoded port
// across test runs.
func freeControlPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}
