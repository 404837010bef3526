package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UnitVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))

	for _, vec := range v {
		var sum float64
		for _, val := range vec {
			sum += val * val
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestGaussianMatrix(t *testing.T) {
	m := NewRNG(1).GaussianMatrix(3, 4)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	a := rng.IntN(1000)
	b := rng.Float64()

	rng.Reset()
	assert.Equal(t, a, rng.IntN(1000))
	assert.Equal(t, b, rng.Float64())
	assert.Equal(t, uint64(4711), rng.Seed())
}

func TestWriteDataset(t *testing.T) {
	root := WriteDataset(t, t.TempDir(), Identities{"A": 3, "B": 2}, 8)

	a, err := os.ReadDir(filepath.Join(root, "A"))
	require.NoError(t, err)
	assert.Len(t, a, 3)
	assert.Equal(t, "000.png", a[0].Name())

	b, err := os.ReadDir(filepath.Join(root, "B"))
	require.NoError(t, err)
	assert.Len(t, b, 2)
}
