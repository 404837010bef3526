// Package hash provides the checksum used by on-disk artifacts.
//
// Checkpoints end in a CRC32-Castagnoli trailer over every preceding byte:
//
//	b = hash.AppendCRC32C(b)
//	...
//	body, ok := hash.SplitCRC32C(b)
package hash
