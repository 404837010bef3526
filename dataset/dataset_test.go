package dataset

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/reid/internal/fs"
	"github.com/hupe1980/reid/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	testutil.WriteFile(t, path, []byte("x"))
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	// Created out of order on purpose.
	touch(t, filepath.Join(root, "B", "b2.jpg"))
	touch(t, filepath.Join(root, "A", "a3.JPG"))
	touch(t, filepath.Join(root, "A", "a1.jpg"))
	touch(t, filepath.Join(root, "B", "b1.png"))
	touch(t, filepath.Join(root, "A", "a2.jpeg"))
	touch(t, filepath.Join(root, "A", "notes.txt"))
	touch(t, filepath.Join(root, "A", "nested", "deep.jpg"))
	touch(t, filepath.Join(root, "README.md"))

	idx, err := Build(root)
	require.NoError(t, err)

	assert.Equal(t, root, idx.Root())
	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, []string{"A", "B"}, idx.Identities())
	assert.Equal(t, 2, idx.NumIdentities())

	var names []string
	for _, s := range idx.Samples() {
		names = append(names, filepath.Base(s.Path))
	}
	assert.Equal(t, []string{"a1.jpg", "a2.jpeg", "a3.JPG", "b1.png", "b2.jpg"}, names)

	assert.Equal(t, []int{0, 1, 2}, idx.IndicesOf("A"))
	assert.Equal(t, []int{3, 4}, idx.IndicesOf("B"))
	assert.Nil(t, idx.IndicesOf("C"))
	assert.Equal(t, "B", idx.IdentityOf(3))

	l, ok := idx.Label("B")
	assert.True(t, ok)
	assert.Equal(t, 1, l)
	assert.Equal(t, 0, idx.LabelOf(2))
}

func TestIndexPartition(t *testing.T) {
	samples := []Sample{
		{Path: "x/c/1.jpg", Identity: "c"},
		{Path: "x/a/2.jpg", Identity: "a"},
		{Path: "x/b/1.jpg", Identity: "b"},
		{Path: "x/a/1.jpg", Identity: "a"},
		{Path: "x/c/0.jpg", Identity: "c"},
	}
	idx, err := NewIndex(samples)
	require.NoError(t, err)

	seen := make(map[int]int)
	for _, id := range idx.Identities() {
		indices := idx.IndicesOf(id)
		assert.NotEmpty(t, indices)
		for _, i := range indices {
			seen[i]++
			assert.Equal(t, id, idx.IdentityOf(i))
		}
	}
	assert.Len(t, seen, idx.Len())
	for i, n := range seen {
		assert.Equal(t, 1, n, "sample %d", i)
	}

	// Input is not reordered in place.
	assert.Equal(t, "c", samples[0].Identity)
}

func TestIndexAccessorsReturnCopies(t *testing.T) {
	idx, err := NewIndex([]Sample{{Path: "a/1.jpg", Identity: "a"}, {Path: "b/1.jpg", Identity: "b"}})
	require.NoError(t, err)

	idx.IndicesOf("a")[0] = 99
	idx.Identities()[0] = "z"
	idx.Samples()[0].Identity = "z"

	assert.Equal(t, []int{0}, idx.IndicesOf("a"))
	assert.Equal(t, "a", idx.Identities()[0])
	assert.Equal(t, "a", idx.Sample(0).Identity)
}

func TestStats(t *testing.T) {
	idx, err := NewIndex([]Sample{
		{Path: "a/1.jpg", Identity: "a"},
		{Path: "a/2.jpg", Identity: "a"},
		{Path: "a/3.jpg", Identity: "a"},
		{Path: "b/1.jpg", Identity: "b"},
	})
	require.NoError(t, err)

	s := idx.Stats()
	assert.Equal(t, 4, s.Samples)
	assert.Equal(t, 2, s.Identities)
	assert.Equal(t, 1, s.Min)
	assert.Equal(t, 3, s.Max)
	assert.Equal(t, []string{"b"}, s.Singletons)
	assert.Equal(t, IdentityCount{Identity: "a", Count: 3}, s.Counts[0])
}

func TestBuildErrors(t *testing.T) {
	t.Run("MissingRoot", func(t *testing.T) {
		_, err := Build(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, ErrMissingIdentityDirectory)
		assert.ErrorIs(t, err, os.ErrNotExist)

		var mid *MissingIdentityDirectoryError
		require.True(t, errors.As(err, &mid))
		assert.Contains(t, mid.Root, "nope")
	})

	t.Run("RootIsFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file.jpg")
		touch(t, path)
		_, err := Build(path)
		assert.ErrorIs(t, err, ErrMissingIdentityDirectory)
	})

	t.Run("NoIdentityDirectories", func(t *testing.T) {
		root := t.TempDir()
		touch(t, filepath.Join(root, "loose.jpg"))
		_, err := Build(root)
		assert.ErrorIs(t, err, ErrMissingIdentityDirectory)
	})

	t.Run("Empty", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "A"), 0o755))
		touch(t, filepath.Join(root, "B", "notes.txt"))
		_, err := Build(root)
		assert.ErrorIs(t, err, ErrDatasetEmpty)
	})

	t.Run("NewIndexEmpty", func(t *testing.T) {
		_, err := NewIndex(nil)
		assert.ErrorIs(t, err, ErrDatasetEmpty)
	})
}

func TestBuildOptions(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "A", "1.tif"))
	touch(t, filepath.Join(root, "A", "2.jpg"))

	idx, err := Build(root, WithExtensions(".TIF"), WithFileSystem(fs.NewFaultyFS(nil)))
	require.NoError(t, err)
	require.Equal(t, 1, idx.Len())
	assert.Equal(t, "1.tif", filepath.Base(idx.Sample(0).Path))
}

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestImageDecoder(t *testing.T) {
	d := NewImageDecoder(4)
	assert.Equal(t, 48, d.InputDim())

	t.Run("ResizesAndNormalizes", func(t *testing.T) {
		data := encodePNG(t, 10, 6, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		x, err := d.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		require.Len(t, x, 48)

		plane := 16
		assert.InDelta(t, (1-ImageNetMean[0])/ImageNetStd[0], x[0], 1e-9)
		assert.InDelta(t, (0-ImageNetMean[1])/ImageNetStd[1], x[plane], 1e-9)
		assert.InDelta(t, (128.0/255-ImageNetMean[2])/ImageNetStd[2], x[2*plane+5], 1e-9)
	})

	t.Run("Gray", func(t *testing.T) {
		img := image.NewGray(image.Rect(0, 0, 3, 3))
		x := d.Tensor(img)
		assert.InDelta(t, -ImageNetMean[0]/ImageNetStd[0], x[0], 1e-9)
	})

	t.Run("Corrupt", func(t *testing.T) {
		_, err := d.Decode(bytes.NewReader([]byte("not an image")))
		assert.ErrorIs(t, err, ErrInvalidImage)
	})
}
