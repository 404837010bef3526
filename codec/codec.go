// Package codec centralizes encoding of checkpoint payloads and tracking
// records.
//
// Checkpoints record the codec name in their header and are decoded with the
// codec of that name, so a change of Default only affects newly written
// files. Names are therefore stable and never reused.
package codec

import (
	"maps"
	"slices"
)

// Codec encodes and decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Default is the codec used for new checkpoints.
var Default Codec = MsgPack{}

var builtin = map[string]Codec{
	JSON{}.Name():    JSON{},
	GoJSON{}.Name():  GoJSON{},
	MsgPack{}.Name(): MsgPack{},
}

// ByName returns the built-in codec registered under name.
func ByName(name string) (Codec, bool) {
	c, ok := builtin[name]
	return c, ok
}

// Names lists the built-in codec names in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(builtin))
}
