package ringbuffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource is a FrameSource that hands back fixed start/next buckets
// (EOF included), just enough to exercise the ring-wire Server/Client
// round trip.
type stubSource struct {
	startBucket int
	nextBucket  int
	nextCalls   int
}

func (s *stubSource) Start(ctx context.Context, frameTS time.Time, newEvent bool, ringctrl RingCtrl) (int, error) {
	return s.startBucket, nil
}

func (s *stubSource) Next(ctx context.Context) (int, error) {
	s.nextCalls++
	return s.nextBucket, nil
}

func TestRingWireStartThenNext(t *testing.T) {
	src := &stubSource{startBucket: 0, nextBucket: 1}
	srv, err := ListenServer("127.0.0.1:0", src)
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr(), time.Second)
	defer client.Close()

	bucket, err := client.Start(context.Background(), time.Now(), false, FullFrames)
	require.NoError(t, err)
	assert.Equal(t, 0, bucket)

	bucket, err = client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, bucket)
	assert.Equal(t, 1, src.nextCalls)
}

func TestRingWireEOF(t *testing.T) {
	src := &stubSource{startBucket: EOF, nextBucket: EOF}
	srv, err := ListenServer("127.0.0.1:0", src)
	require.NoError(t, err)
	defer srv.Close()

	client := NewClient(srv.Addr(), time.Second)
	defer client.Close()

	bucket, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EOF, bucket)
}
