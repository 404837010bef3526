package codec

import "github.com/vmihailenco/msgpack/v5"

// MsgPack is a binary codec backed by github.com/vmihailenco/msgpack/v5.
// Float64 slices are stored without loss, which makes it the default for
// model weights.
type MsgPack struct{}

// Marshal encodes the value to MessagePack.
func (MsgPack) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

// Unmarshal decodes MessagePack data into v.
func (MsgPack) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// Name returns "msgpack".
func (MsgPack) Name() string { return "msgpack" }
