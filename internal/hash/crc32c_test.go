package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// Check value from RFC 3720, appendix B.4.
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
}

func TestAppendSplit(t *testing.T) {
	b := AppendCRC32C([]byte("checkpoint"))
	assert.Len(t, b, len("checkpoint")+Size)

	body, stored, computed := SplitCRC32C(b)
	assert.Equal(t, "checkpoint", string(body))
	assert.Equal(t, stored, computed)

	b[0] ^= 0xff
	_, stored, computed = SplitCRC32C(b)
	assert.NotEqual(t, stored, computed)
}
