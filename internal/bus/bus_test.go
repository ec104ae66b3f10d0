package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReqRepRoundTrip(t *testing.T) {
	srv, err := ListenReqRep("127.0.0.1:0", func(ctx context.Context, req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	require.NoError(t, err)
	defer srv.Close()

	client := NewReqRepClient(srv.Addr().String(), 2*time.Second)
	defer client.Close()

	resp, err := client.Request(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(resp))

	// second request reuses the connection
	resp, err = client.Request(context.Background(), []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "echo:again", string(resp))
}

func TestPubSubFanout(t *testing.T) {
	pub, err := ListenPub("127.0.0.1:0")
	require.NoError(t, err)
	defer pub.Close()

	sub, err := DialSub(context.Background(), pub.Addr().String(), "front.")
	require.NoError(t, err)
	defer sub.Close()

	// give the publisher's accept loop a moment to register the subscriber
	time.Sleep(50 * time.Millisecond)

	pub.Publish("rear.ote", []byte("ignored"))
	pub.Publish("front.ote", []byte("payload"))

	msg, err := sub.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "front.ote", msg.Topic)
	assert.Equal(t, "payload", string(msg.Payload))
}
