// Package wire implements the on-the-wire encodings used by the SentinelCam
// message bus: packed-map control messages (msgpack) and a columnar table
// encoding for tabular payloads (date indexes, tracking sets), compressed
// with zstd.
package wire

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Pack encodes v (typically a map[string]interface{} or a struct with
// msgpack tags) into a packed-map byte string, the format every control
// message on the bus uses.
func Pack(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unpack decodes a packed-map payload into v.
func Unpack(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// UnpackMap decodes a packed-map payload into a generic
// map[string]interface{}, for ingress parsing where the schema isn't known
// statically (outpost tracking messages).
func UnpackMap(data []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
