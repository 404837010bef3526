// Package checkpoint persists trained embedding models.
//
// A checkpoint is a self-describing binary artifact:
//
//	offset  size  field
//	0       4     magic "RIDC"
//	4       2     format version (little endian)
//	6       1     compression (0 none, 1 lz4, 2 zstd)
//	7       1     codec name length n
//	8       n     codec name ("msgpack", "go-json", "json")
//	8+n     8     uncompressed payload length
//	16+n    8     stored payload length m
//	24+n    m     payload
//	24+n+m  4     CRC32C of all preceding bytes
//
// The payload is a [Checkpoint] encoded with the named codec: the model
// architecture, training metadata and every named tensor of the model state.
// A checkpoint loads into a model.Net of identical architecture.
package checkpoint
