package checkpoint

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/reid/blobstore"
)

// Ext is the file extension of checkpoint blobs.
const Ext = ".ridc"

// Store reads and writes checkpoints on a blobstore.
type Store struct {
	blobs  blobstore.BlobStore
	opts   []Option
	logger *slog.Logger
}

// NewStore creates a Store. opts apply to every Save.
func NewStore(blobs blobstore.BlobStore, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blobs: blobs, opts: opts, logger: logger}
}

// Blobs returns the underlying blobstore.
func (s *Store) Blobs() blobstore.BlobStore { return s.blobs }

// BlobName returns the blob name for a checkpoint name.
func BlobName(name string) string {
	return name + Ext
}

// Encode returns c in the store's format without writing it.
func (s *Store) Encode(c *Checkpoint) ([]byte, error) {
	return Marshal(c, s.opts...)
}

// Save encodes c and writes it atomically under name.
func (s *Store) Save(ctx context.Context, name string, c *Checkpoint) error {
	data, err := s.Encode(c)
	if err != nil {
		return err
	}
	if err := s.blobs.Put(ctx, BlobName(name), data); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}

	s.logger.Debug("checkpoint written",
		"name", name,
		"epoch", c.Epoch,
		"score", c.Score,
		"bytes", len(data),
	)
	return nil
}

// Load reads and verifies the checkpoint stored under name.
func (s *Store) Load(ctx context.Context, name string) (*Checkpoint, error) {
	data, err := blobstore.ReadAll(ctx, s.blobs, BlobName(name))
	if err != nil {
		return nil, err
	}
	c, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", name, err)
	}
	return c, nil
}

// List returns the names of all stored checkpoints with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	blobs, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, b := range blobs {
		if len(b) > len(Ext) && b[len(b)-len(Ext):] == Ext {
			names = append(names, b[:len(b)-len(Ext)])
		}
	}
	return names, nil
}
