package loader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/internal/fs"
	"github.com/hupe1980/reid/resource"
	"github.com/hupe1980/reid/sampler"
	"github.com/hupe1980/reid/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const imgSize = 4

func newIndex(t *testing.T, ids testutil.Identities) *dataset.Index {
	t.Helper()
	root := testutil.WriteDataset(t, t.TempDir(), ids, 6)
	idx, err := dataset.Build(root)
	require.NoError(t, err)
	return idx
}

func newTripletLoader(idx *dataset.Index, opts ...Option) *TripletLoader {
	return NewTriplet(sampler.New(idx), dataset.NewImageDecoder(imgSize), opts...)
}

func collect(t *testing.T, it func(func(*TripletBatch, error) bool)) ([]*TripletBatch, []error) {
	t.Helper()
	var (
		batches []*TripletBatch
		errs    []error
	)
	for b, err := range it {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		batches = append(batches, b)
	}
	return batches, errs
}

func TestPlan(t *testing.T) {
	order := []int{0, 1, 2, 3, 4, 5, 6}

	tests := []struct {
		name     string
		size     int
		dropLast bool
		want     [][]int
	}{
		{"Even", 7, false, [][]int{{0, 1, 2, 3, 4, 5, 6}}},
		{"Partial", 3, false, [][]int{{0, 1, 2}, {3, 4, 5}, {6}}},
		{"DropLast", 3, true, [][]int{{0, 1, 2}, {3, 4, 5}}},
		{"Larger", 10, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, plan(order, tt.size, tt.dropLast))
		})
	}
}

func TestTripletLoader_Epoch(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"cow_a": 3, "cow_b": 4, "cow_c": 2})
	l := newTripletLoader(idx, WithBatchSize(4), WithPrefetch(2))

	assert.Equal(t, 3, l.NumBatches())

	batches, errs := collect(t, l.Epoch(context.Background(), 0))
	require.Empty(t, errs)
	require.Len(t, batches, 3)

	seen := map[int]bool{}
	for i, b := range batches {
		assert.Equal(t, i, b.Index)
		r, c := b.Anchor.Dims()
		assert.Equal(t, b.Len(), r)
		assert.Equal(t, 3*imgSize*imgSize, c)

		for k, tr := range b.Triplets {
			seen[tr.Anchor] = true
			assert.Equal(t, idx.LabelOf(tr.Anchor), b.Labels[k])
			assert.Equal(t, idx.LabelOf(tr.Anchor), idx.LabelOf(tr.Positive))
			assert.NotEqual(t, idx.LabelOf(tr.Anchor), idx.LabelOf(tr.Negative))
			assert.NotEqual(t, tr.Anchor, tr.Positive)
		}
	}
	// Every sample is an anchor exactly once per epoch.
	assert.Len(t, seen, idx.Len())

	st := l.Stats()
	assert.Equal(t, int64(3), st.Batches)
	assert.Zero(t, st.FailedBatches)
}

func TestTripletLoader_Deterministic(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"a": 4, "b": 4, "c": 4})

	run := func(epoch int) [][]sampler.Triplet {
		l := newTripletLoader(idx, WithBatchSize(5), WithSeed(7), WithShuffle(true), WithPrefetch(3))
		batches, errs := collect(t, l.Epoch(context.Background(), epoch))
		require.Empty(t, errs)
		out := make([][]sampler.Triplet, len(batches))
		for i, b := range batches {
			out[i] = b.Triplets
		}
		return out
	}

	first := run(1)
	assert.Equal(t, first, run(1))
	assert.NotEqual(t, first, run(2))
}

func TestTripletLoader_Degenerate(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"solo": 1, "herd": 3})
	l := newTripletLoader(idx, WithBatchSize(4))

	batches, errs := collect(t, l.Epoch(context.Background(), 0))
	require.Empty(t, errs)
	require.Len(t, batches, 1)
	assert.Equal(t, 1, batches[0].Degenerate)
}

func TestTripletLoader_CorruptSample(t *testing.T) {
	root := testutil.WriteDataset(t, t.TempDir(), testutil.Identities{"a": 4, "b": 4}, 6)
	bad := filepath.Join(root, "a", "999.png")
	testutil.WriteFile(t, bad, []byte("not an image"))

	idx, err := dataset.Build(root)
	require.NoError(t, err)

	l := newTripletLoader(idx, WithBatchSize(1))
	batches, errs := collect(t, l.Epoch(context.Background(), 0))

	require.NotEmpty(t, errs)
	for _, err := range errs {
		var be *BatchError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, bad, be.Path)
		assert.ErrorIs(t, err, dataset.ErrInvalidImage)
	}
	assert.Equal(t, l.NumBatches(), len(batches)+len(errs))

	st := l.Stats()
	assert.Equal(t, int64(len(errs)), st.FailedBatches)
	assert.Equal(t, uint64(1), st.FailedSamples)
}

func TestTripletLoader_ReadFault(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"a": 2, "b": 2})
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule(filepath.Join("b", "001.png"), fs.Fault{FailOnRead: true})

	l := newTripletLoader(idx, WithBatchSize(4), WithFileSystem(ffs))
	batches, errs := collect(t, l.Epoch(context.Background(), 0))

	// The single batch draws b/001.png as an anchor, so it fails.
	assert.Empty(t, batches)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], fs.ErrInjected)
}

func TestTripletLoader_Cancel(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"a": 4, "b": 4})
	l := newTripletLoader(idx, WithBatchSize(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		got     int
		lastErr error
	)
	for b, err := range l.Epoch(ctx, 0) {
		if err != nil {
			lastErr = err
			break
		}
		require.NotNil(t, b)
		got++
		cancel()
	}

	assert.Equal(t, 1, got)
	assert.ErrorIs(t, lastErr, context.Canceled)
}

func TestTripletLoader_EarlyBreakReleasesMemory(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"a": 5, "b": 5})
	rc := resource.NewController(resource.Config{MaxWorkers: 2})
	l := newTripletLoader(idx, WithBatchSize(2), WithPrefetch(3), WithController(rc))

	for b, err := range l.Epoch(context.Background(), 0) {
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Positive(t, rc.MemoryUsage())
		break
	}

	assert.Zero(t, rc.MemoryUsage())
	assert.Zero(t, rc.ActiveWorkers())
}

func TestTripletLoader_MemoryLimit(t *testing.T) {
	idx := newIndex(t, testutil.Identities{"a": 4, "b": 4})
	d := int64(3 * imgSize * imgSize)
	// Room for a single batch of two triplets at a time.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 3 * 2 * d * 8})
	l := newTripletLoader(idx, WithBatchSize(2), WithPrefetch(4), WithController(rc))

	batches, errs := collect(t, l.Epoch(context.Background(), 0))
	require.Empty(t, errs)
	assert.Len(t, batches, 4)
	assert.LessOrEqual(t, rc.PeakMemoryUsage(), 3*2*d*8)
	assert.Zero(t, rc.MemoryUsage())
}

func TestSampleLoader(t *testing.T) {
	root := testutil.WriteDataset(t, t.TempDir(), testutil.Identities{"a": 3, "b": 2}, 6)
	testutil.WriteFile(t, filepath.Join(root, "b", "999.png"), []byte("garbage"))

	idx, err := dataset.Build(root)
	require.NoError(t, err)

	l := NewSamples(idx, dataset.NewImageDecoder(imgSize), WithBatchSize(4), WithShuffle(true))

	var (
		indices []int
		failed  []int
	)
	for b, err := range l.All(context.Background()) {
		require.NoError(t, err)
		r, _ := b.X.Dims()
		assert.Equal(t, len(b.Indices), r)
		assert.Len(t, b.Labels, r)
		indices = append(indices, b.Indices...)
		failed = append(failed, b.Failed...)
	}

	bad := idx.IndicesOf("b")[2]
	assert.Equal(t, []int{bad}, failed)
	assert.Len(t, indices, idx.Len()-1)
	assert.IsIncreasing(t, indices)
	assert.True(t, l.FailedSamples().Contains(uint32(bad)))
}

func TestSampleLoader_AllFailed(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, filepath.Join(root, "a", "000.png"), []byte("x"))
	testutil.WriteFile(t, filepath.Join(root, "b", "000.png"), []byte("y"))

	idx, err := dataset.Build(root)
	require.NoError(t, err)

	l := NewSamples(idx, dataset.NewImageDecoder(imgSize))
	for b, err := range l.All(context.Background()) {
		assert.Nil(t, b)
		assert.True(t, errors.Is(err, ErrEmptyBatch))
	}
	assert.Equal(t, int64(1), l.Stats().FailedBatches)
}
