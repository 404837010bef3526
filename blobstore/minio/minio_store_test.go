package minio

import (
	"context"
	"os"
	"testing"

	"github.com/hupe1980/reid/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"reid-best.ridc", "application/vnd.reid.checkpoint"},
		{"runs/reid.jsonl", "application/x-ndjson"},
		{"notes.txt", "application/octet-stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contentType(tt.name))
		})
	}
}

func TestStoreKeys(t *testing.T) {
	s := NewStore(nil, "herd", "/reid/")
	assert.Equal(t, "reid/reid-best.ridc", s.key("reid-best.ridc"))
	assert.Equal(t, "reid-best.ridc", s.name("reid/reid-best.ridc"))

	bare := NewStore(nil, "herd", "")
	assert.Equal(t, "reid-best.ridc", bare.key("reid-best.ridc"))
	assert.Equal(t, "reid-best.ridc", bare.name("reid-best.ridc"))
}

// TestMinioStore_Integration requires a running MinIO instance at
// REID_TEST_MINIO_ENDPOINT.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("REID_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("REID_TEST_MINIO_ENDPOINT not set")
	}
	bucket := "test-reid"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix")

	data := []byte("checkpoint bytes")
	require.NoError(t, store.Put(ctx, "runs/reid-best.ridc", data))

	got, err := blobstore.ReadAll(ctx, store, "runs/reid-best.ridc")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "runs/")
	require.NoError(t, err)
	assert.Contains(t, names, "runs/reid-best.ridc")

	require.NoError(t, store.Delete(ctx, "runs/reid-best.ridc"))
	_, err = store.Open(ctx, "runs/reid-best.ridc")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
