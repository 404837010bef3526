package tracking

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/reid/codec"
	"github.com/hupe1980/reid/internal/fs"
	"github.com/hupe1980/reid/internal/hash"
)

// JSONLSink appends one JSON object per line.
type JSONLSink struct {
	mu    sync.Mutex
	w     io.Writer
	close func() error
	codec codec.GoJSON
}

type paramsRecord struct {
	Kind   string    `json:"kind"`
	Run    string    `json:"run"`
	Time   time.Time `json:"time"`
	Params Params    `json:"params"`
}

// artifactRecord describes an artifact. The bytes themselves are not
// written to the log.
type artifactRecord struct {
	Kind   string    `json:"kind"`
	Run    string    `json:"run"`
	Name   string    `json:"name"`
	Time   time.Time `json:"time"`
	Size   int       `json:"size"`
	CRC32C uint32    `json:"crc32c"`
}

type epochRecord struct {
	Kind string `json:"kind"`
	Epoch
}

// NewJSONLSink writes to w. Close does not close w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{w: w, close: func() error { return nil }}
}

// OpenJSONLFile appends to the file at path, creating it if needed.
func OpenJSONLFile(fsys fs.FileSystem, path string) (*JSONLSink, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{
		w: f,
		close: func() error {
			if err := f.Sync(); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}, nil
}

func (s *JSONLSink) write(rec any) error {
	line, err := s.codec.AppendLine(nil, rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(line)
	return err
}

func (s *JSONLSink) LogParams(_ context.Context, run string, p Params) error {
	return s.write(paramsRecord{Kind: "params", Run: run, Time: time.Now().UTC(), Params: p})
}

func (s *JSONLSink) LogEpoch(_ context.Context, e Epoch) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return s.write(epochRecord{Kind: "epoch", Epoch: e})
}

func (s *JSONLSink) LogArtifact(_ context.Context, run, name string, data []byte) error {
	return s.write(artifactRecord{
		Kind:   "artifact",
		Run:    run,
		Name:   name,
		Time:   time.Now().UTC(),
		Size:   len(data),
		CRC32C: hash.CRC32C(data),
	})
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}
