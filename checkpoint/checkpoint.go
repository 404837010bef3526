package checkpoint

import (
	"fmt"
	"time"

	"github.com/hupe1980/reid/codec"
	"github.com/hupe1980/reid/model"
	"github.com/hupe1980/reid/nn"
)

// Checkpoint is the persisted form of a trained model.
type Checkpoint struct {
	Architecture model.Architecture `json:"architecture" msgpack:"architecture"`
	// Epoch is the zero-based epoch the state was captured after.
	Epoch int `json:"epoch" msgpack:"epoch"`
	// Score is the validation score at capture time. Lower is better.
	Score     float64           `json:"score" msgpack:"score"`
	CreatedAt time.Time         `json:"created_at" msgpack:"created_at"`
	Labels    map[string]string `json:"labels,omitempty" msgpack:"labels,omitempty"`
	// Identities maps classifier outputs to identity names, if any.
	Identities []string `json:"identities,omitempty" msgpack:"identities,omitempty"`
	State      nn.State `json:"state" msgpack:"state"`
}

// FromNet captures the current state of net.
func FromNet(net *model.Net, epoch int, score float64) *Checkpoint {
	return &Checkpoint{
		Architecture: net.Architecture(),
		Epoch:        epoch,
		Score:        score,
		CreatedAt:    time.Now().UTC(),
		State:        net.State(),
	}
}

// Net rebuilds the model and loads the captured state into it.
func (c *Checkpoint) Net() (*model.Net, error) {
	net, err := model.New(c.Architecture)
	if err != nil {
		return nil, err
	}
	if err := net.LoadState(c.State); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return net, nil
}

type options struct {
	codec       codec.Codec
	compression Compression
}

// Option configures encoding.
type Option func(*options)

// WithCodec sets the payload codec. Default codec.Default.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithCompression sets the payload compression. Default zstd.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

func newOptions(optFns []Option) options {
	opts := options{codec: codec.Default, compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Marshal encodes c into the checkpoint format.
func Marshal(c *Checkpoint, optFns ...Option) ([]byte, error) {
	opts := newOptions(optFns)
	if _, ok := codec.ByName(opts.codec.Name()); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, opts.codec.Name())
	}

	payload, err := opts.codec.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return frame(opts.codec.Name(), opts.compression, payload)
}

// Unmarshal decodes a checkpoint, verifying its checksum.
func Unmarshal(data []byte) (*Checkpoint, error) {
	h, payload, err := unframe(data)
	if err != nil {
		return nil, err
	}

	cd, ok := codec.ByName(h.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, h.Codec)
	}

	var c Checkpoint
	if err := cd.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &c, nil
}
