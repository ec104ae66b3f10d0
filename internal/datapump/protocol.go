// Package datapump implements the data-access service: a request/reply
// service serving date indexes, per-event tracking frames, image lists,
// and individual JPEGs from the on-disk layout in internal/camstore, plus
// asynchronous background deletion.
package datapump

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/sentinelcam/sentinelcam/internal/wire"
)

// Cmd names a data-access request kind.
type Cmd string

const (
	CmdDates     Cmd = "dat"
	CmdIndex     Cmd = "idx"
	CmdEvent     Cmd = "evt"
	CmdImages    Cmd = "img"
	CmdPicture   Cmd = "pic"
	CmdDelete    Cmd = "del"
	CmdHealth    Cmd = "HC"
)

// Request is the packed-map request a data-access client sends.
type Request struct {
	Cmd       Cmd    `msgpack:"cmd"`
	Date      string `msgpack:"date,omitempty"`
	Evt       string `msgpack:"evt,omitempty"`
	Trk       string `msgpack:"trk,omitempty"`
	FrameTime string `msgpack:"frametime,omitempty"`
}

// MsgCode is the small JSON metadata header's "msg" field in the
// two-part response framing.
type MsgCode string

const (
	MsgOK               MsgCode = "OK"
	MsgError            MsgCode = "Error"
	MsgNotFound         MsgCode = "NotFound"
	MsgTrackingSetEmpty MsgCode = "TrackingSetEmpty"
	MsgImageSetEmpty    MsgCode = "ImageSetEmpty"
)

// responseHeader is the small JSON metadata header preceding every
// response payload.
type responseHeader struct {
	Msg MsgCode `json:"msg"`
}

// encodeResponse frames a response as [4-byte header length][JSON
// header][payload] — a small JSON metadata header followed by the
// payload — carried as the single reply frame the underlying req/rep
// transport exchanges.
func encodeResponse(msg MsgCode, payload []byte) []byte {
	hdr, _ := json.Marshal(responseHeader{Msg: msg})
	out := make([]byte, 4+len(hdr)+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(hdr)))
	copy(out[4:], hdr)
	copy(out[4+len(hdr):], payload)
	return out
}

func decodeResponse(raw []byte) (MsgCode, []byte, error) {
	if len(raw) < 4 {
		return "", nil, fmt.Errorf("datapump: response too short")
	}
	n := binary.BigEndian.Uint32(raw[:4])
	if uint32(len(raw)) < 4+n {
		return "", nil, fmt.Errorf("datapump: truncated response header")
	}
	var hdr responseHeader
	if err := json.Unmarshal(raw[4:4+n], &hdr); err != nil {
		return "", nil, fmt.Errorf("datapump: decode header: %w", err)
	}
	return hdr.Msg, raw[4+n:], nil
}

// encodeRequest/decodeRequest wrap the msgpack Request encoding so both
// Service and Client share one definition of the wire shape.
func encodeRequest(r Request) ([]byte, error) { return wire.Pack(r) }

func decodeRequest(raw []byte) (Request, error) {
	var r Request
	err := wire.Unpack(raw, &r)
	return r, err
}
