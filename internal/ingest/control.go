package ingest

import (
	"context"

	"github.com/sentinelcam/sentinelcam/internal/bus"
	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// cameraUpRequest is the outpost's registration handshake: an edge node
// announces itself (or re-announces after a restart) with its current
// publishing endpoints.
type cameraUpRequest struct {
	Cmd            string `msgpack:"cmd"`
	Node           string `msgpack:"node"`
	View           string `msgpack:"view"`
	ImagePublisher string `msgpack:"image_publisher"`
	Logger         string `msgpack:"logger"`
}

type cameraUpReply struct {
	Status string `msgpack:"status"`
}

// listenControl starts the ingest dispatcher's external control socket,
// currently just the CameraUp handshake. Registration is idempotent: a
// node can re-announce at any time (e.g. after restarting); register is
// called with the freshly parsed info, which updates the registry entry.
// Subscriber goroutines start only on a node's first registration; a
// re-announcement does not restart them or re-dial changed endpoints.
func listenControl(addr string, register func(outpostInfo)) (*bus.ReqRepServer, error) {
	return bus.ListenReqRep(addr, func(ctx context.Context, raw []byte) []byte {
		var req cameraUpRequest
		if err := wire.Unpack(raw, &req); err != nil {
			reply, _ := wire.Pack(cameraUpReply{Status: "Error"})
			return reply
		}

		if req.Cmd == "CameraUp" {
			register(outpostInfo{
				Node: req.Node, View: req.View,
				ImagePublisher: req.ImagePublisher, Logger: req.Logger,
			})
		}

		reply, _ := wire.Pack(cameraUpReply{Status: "OK"})
		return reply
	})
}
