package hash

import (
	"encoding/binary"
	"hash/crc32"
)

// Size is the length of a checksum trailer.
const Size = 4

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// AppendCRC32C appends the little-endian checksum of b to b.
func AppendCRC32C(b []byte) []byte {
	return binary.LittleEndian.AppendUint32(b, CRC32C(b))
}

// SplitCRC32C separates b into body and trailer. It returns the stored and
// the computed checksum; they differ if b is corrupt. b must hold at least
// Size bytes.
func SplitCRC32C(b []byte) (body []byte, stored, computed uint32) {
	body = b[:len(b)-Size]
	return body, binary.LittleEndian.Uint32(b[len(b)-Size:]), CRC32C(body)
}
