package ringbuffer

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// RingCtrl selects the timeline of frame timestamps a ring buffer is fed
// from.
type RingCtrl = string

// FullFrames enumerates every captured JPEG for an event; any other value
// names a tracking-set type tag and enumerates only frames referenced by
// that tracking set.
const FullFrames RingCtrl = "full"

// Cmd names a ring-wire request kind.
type Cmd string

const (
	// CmdStart changes the active (date, event) and requests the first
	// frame at or after FrameTS. The first get() on a freshly started
	// buffer is NOT preceded by a frame_complete.
	CmdStart Cmd = "START"
	// CmdNext requests the next frame; it MUST be preceded by the prior
	// frame's completion.
	CmdNext Cmd = "NEXT"
)

// EOF is the bucket index the producer replies with when the cursor is
// exhausted.
const EOF = -1

// Request is one consumer->producer ring-wire message.
type Request struct {
	Cmd Cmd `msgpack:"cmd"`
	// FrameTS is the requested first frame timestamp, for CmdStart only.
	FrameTS time.Time `msgpack:"frame_ts,omitempty"`
	// NewEvent is set when CmdStart also changes the active event.
	NewEvent bool `msgpack:"new_event,omitempty"`
	// RingCtrl selects the frame timeline, for CmdStart only.
	RingCtrl RingCtrl `msgpack:"ringctrl,omitempty"`
}

// Reply is one producer->consumer ring-wire message.
type Reply struct {
	// Bucket is a slot index (>=0) or EOF (-1).
	Bucket int `msgpack:"bucket"`
	// Error carries a producer-side failure (e.g. RingSizeUnsupported);
	// empty on success.
	Error string `msgpack:"error,omitempty"`
}

// FrameSource is implemented by the job manager: it answers ring-wire
// requests by driving its frame-feeding loop.
type FrameSource interface {
	Start(ctx context.Context, frameTS time.Time, newEvent bool, ringctrl RingCtrl) (bucket int, err error)
	Next(ctx context.Context) (bucket int, err error)
}

// Server answers ring-wire requests from one task engine's consumer side,
// delegating to a FrameSource.
type Server struct {
	rep *bus.ReqRepServer
}

// ListenServer starts a ring-wire Server bound to addr.
func ListenServer(addr string, source FrameSource) (*Server, error) {
	rep, err := bus.ListenReqRep(addr, func(ctx context.Context, raw []byte) []byte {
		var req Request
		if err := wire.Unpack(raw, &req); err != nil {
			reply, _ := wire.Pack(Reply{Bucket: EOF, Error: fmt.Sprintf("malformed ring request: %v", err)})
			return reply
		}

		var bucket int
		var srcErr error
		switch req.Cmd {
		case CmdStart:
			bucket, srcErr = source.Start(ctx, req.FrameTS, req.NewEvent, req.RingCtrl)
		case CmdNext:
			bucket, srcErr = source.Next(ctx)
		default:
			srcErr = fmt.Errorf("unknown ring command %q", req.Cmd)
		}

		rep := Reply{Bucket: bucket}
		if srcErr != nil {
			rep.Bucket = EOF
			rep.Error = srcErr.Error()
		}
		encoded, _ := wire.Pack(rep)
		return encoded
	})
	if err != nil {
		return nil, err
	}
	return &Server{rep: rep}, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() string { return s.rep.Addr().String() }

// Close stops the server.
func (s *Server) Close() error { return s.rep.Close() }

// Client is the task engine's consumer-side ring-wire client.
type Client struct {
	req *bus.ReqRepClient
}

// NewClient creates a Client targeting a Server's address.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{req: bus.NewReqRepClient(addr, timeout)}
}

// Start requests the producer begin feeding frames at frameTS. newEvent
// signals a change of active (date, event); ringctrl selects the frame
// timeline.
func (c *Client) Start(ctx context.Context, frameTS time.Time, newEvent bool, ringctrl RingCtrl) (bucket int, err error) {
	return c.roundTrip(ctx, Request{Cmd: CmdStart, FrameTS: frameTS, NewEvent: newEvent, RingCtrl: ringctrl})
}

// Next acknowledges the previous frame complete and requests the next one.
func (c *Client) Next(ctx context.Context) (bucket int, err error) {
	return c.roundTrip(ctx, Request{Cmd: CmdNext})
}

func (c *Client) roundTrip(ctx context.Context, req Request) (int, error) {
	payload, err := wire.Pack(req)
	if err != nil {
		return EOF, fmt.Errorf("ringbuffer: encode request: %w", err)
	}

	raw, err := c.req.Request(ctx, payload)
	if err != nil {
		return EOF, fmt.Errorf("ringbuffer: ring wire request: %w", err)
	}

	var reply Reply
	if err := wire.Unpack(raw, &reply); err != nil {
		return EOF, fmt.Errorf("ringbuffer: decode reply: %w", err)
	}
	if reply.Error != "" {
		return EOF, fmt.Errorf("ringbuffer: %s", reply.Error)
	}
	return reply.Bucket, nil
}

// Close releases the client's connection.
func (c *Client) Close() error { return c.req.Close() }
