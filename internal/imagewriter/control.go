package imagewriter

import (
	"context"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// ControlRequest is a remote start/stop command for a standalone image
// writer process — the out-of-process counterpart to the ingest
// dispatcher calling Start/Stop directly when it runs a Writer in-process.
type ControlRequest struct {
	Cmd     string `msgpack:"cmd"` // "start" or "stop"
	Date    string `msgpack:"date,omitempty"`
	EventID string `msgpack:"event,omitempty"`
}

// ControlReply answers a ControlRequest.
type ControlReply struct {
	Status string `msgpack:"status"`
}

// ListenControl starts a request/reply control socket driving w's
// Start/Stop, for a Writer running as its own OS process rather than as a
// goroutine inside the ingest dispatcher.
func ListenControl(addr string, w *Writer) (*bus.ReqRepServer, error) {
	return bus.ListenReqRep(addr, func(ctx context.Context, raw []byte) []byte {
		var req ControlRequest
		if err := wire.Unpack(raw, &req); err != nil {
			reply, _ := wire.Pack(ControlReply{Status: "Error"})
			return reply
		}

		switch req.Cmd {
		case "start":
			w.Start(req.Date, req.EventID)
		case "stop":
			w.Stop()
		}

		reply, _ := wire.Pack(ControlReply{Status: "OK"})
		return reply
	})
}
