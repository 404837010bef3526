// Package dataset indexes an identity-labeled image tree.
//
// The on-disk layout is one subdirectory per identity under a root directory:
//
//	root/
//	  cow-017/
//	    0001.jpg
//	    0002.jpg
//	  cow-042/
//	    0001.png
//
// Samples are ordered by identity label and then by file name, independent of
// the order in which the filesystem lists directory entries.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hupe1980/reid/internal/fs"
)

var (
	// ErrDatasetEmpty is returned when no image samples are found.
	ErrDatasetEmpty = errors.New("dataset is empty")

	// ErrMissingIdentityDirectory is returned when the root is absent, not a
	// directory, or holds no identity subdirectories.
	ErrMissingIdentityDirectory = errors.New("missing identity directory")
)

// MissingIdentityDirectoryError carries the offending root.
//
// errors.Is(err, ErrMissingIdentityDirectory) holds for it, and the underlying
// filesystem error (if any) is reachable through errors.Unwrap.
type MissingIdentityDirectoryError struct {
	Root   string
	Reason string
	cause  error
}

func (e *MissingIdentityDirectoryError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrMissingIdentityDirectory, e.Root, e.Reason)
}

func (e *MissingIdentityDirectoryError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrMissingIdentityDirectory}
	}
	return []error{ErrMissingIdentityDirectory, e.cause}
}

// Sample is one image and its identity label.
type Sample struct {
	Path     string `json:"path"`
	Identity string `json:"identity"`
}

// DefaultExtensions are the image file extensions recognized by Build.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

type options struct {
	fs         fs.FileSystem
	extensions []string
}

// Option configures Build.
type Option func(*options)

// WithFileSystem sets the filesystem used to walk the tree.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys == nil {
			fsys = fs.Default
		}
		o.fs = fsys
	}
}

// WithExtensions overrides the recognized image extensions (case-insensitive).
func WithExtensions(exts ...string) Option {
	return func(o *options) {
		o.extensions = exts
	}
}

// Build walks root and returns the sample index.
func Build(root string, optFns ...Option) (*Index, error) {
	opts := options{
		fs:         fs.Default,
		extensions: DefaultExtensions,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	info, err := opts.fs.Stat(root)
	if err != nil {
		return nil, &MissingIdentityDirectoryError{Root: root, Reason: "cannot stat root", cause: err}
	}
	if !info.IsDir() {
		return nil, &MissingIdentityDirectoryError{Root: root, Reason: "root is not a directory"}
	}

	entries, err := opts.fs.ReadDir(root)
	if err != nil {
		return nil, &MissingIdentityDirectoryError{Root: root, Reason: "cannot list root", cause: err}
	}

	var samples []Sample
	identities := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		identities++

		dir := filepath.Join(root, e.Name())
		files, err := opts.fs.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("list identity %q: %w", e.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !hasExtension(f.Name(), opts.extensions) {
				continue
			}
			samples = append(samples, Sample{
				Path:     filepath.Join(dir, f.Name()),
				Identity: e.Name(),
			})
		}
	}

	if identities == 0 {
		return nil, &MissingIdentityDirectoryError{Root: root, Reason: "no identity subdirectories"}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no images under %s", ErrDatasetEmpty, root)
	}

	idx, err := NewIndex(samples)
	if err != nil {
		return nil, err
	}
	idx.root = root
	return idx, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}
