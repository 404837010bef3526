package model

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/hupe1980/reid/nn"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Architecture fully describes a Net. Two nets with equal architectures can
// exchange state.
type Architecture struct {
	Backbone     BackboneSpec `json:"backbone" msgpack:"backbone"`
	HiddenDim    int          `json:"hidden_dim" msgpack:"hidden_dim"`
	EmbeddingDim int          `json:"embedding_dim" msgpack:"embedding_dim"`
	NumClasses   int          `json:"num_classes" msgpack:"num_classes"`
	Dropout      float64      `json:"dropout" msgpack:"dropout"`
}

// Validate checks layer sizes.
func (a Architecture) Validate() error {
	switch {
	case a.HiddenDim <= 0:
		return fmt.Errorf("%w: hidden dim %d", ErrInvalidArchitecture, a.HiddenDim)
	case a.EmbeddingDim <= 0:
		return fmt.Errorf("%w: embedding dim %d", ErrInvalidArchitecture, a.EmbeddingDim)
	case a.NumClasses < 0:
		return fmt.Errorf("%w: num classes %d", ErrInvalidArchitecture, a.NumClasses)
	case a.Dropout < 0 || a.Dropout >= 1:
		return fmt.Errorf("%w: dropout %v not in [0,1)", ErrInvalidArchitecture, a.Dropout)
	}
	return nil
}

type options struct {
	seed uint64
}

// Option configures New.
type Option func(*options)

// WithSeed sets the seed for weight initialization and dropout masks.
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// Net is the embedding network.
//
// Forward in evaluation mode does not mutate the Net and may be called
// concurrently. Training-mode calls and Backward must come from one goroutine.
type Net struct {
	arch       Architecture
	backbone   Backbone
	head       *nn.Sequential
	norm       nn.L2Normalize
	classifier *nn.Linear
}

// New builds a Net for arch.
func New(arch Architecture, optFns ...Option) (*Net, error) {
	opts := options{seed: 1}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := arch.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	backbone, err := NewBackbone(arch.Backbone, rng)
	if err != nil {
		return nil, err
	}

	f, h, d := backbone.OutputDim(), arch.HiddenDim, arch.EmbeddingDim
	head := nn.NewSequential(
		nn.NewLinear("head.0", f, h, rng),
		nn.NewBatchNorm("head.1", h),
		nn.ReLU{},
		nn.NewDropout(arch.Dropout, rand.New(rand.NewPCG(opts.seed, 0xd1b54a32d192ed03))),
		nn.NewLinear("head.4", h, d, rng),
		nn.NewBatchNorm("head.5", d),
	)

	n := &Net{
		arch:     arch,
		backbone: backbone,
		head:     head,
	}
	if arch.NumClasses > 0 {
		n.classifier = nn.NewLinear("classifier", d, arch.NumClasses, rng)
	}
	return n, nil
}

// Architecture returns the architecture the Net was built with.
func (n *Net) Architecture() Architecture { return n.arch }

// InputDim returns the expected input width.
func (n *Net) InputDim() int { return n.backbone.InputDim() }

// EmbeddingDim returns D.
func (n *Net) EmbeddingDim() int { return n.arch.EmbeddingDim }

// HasClassifier reports whether the Net carries a classifier head.
func (n *Net) HasClassifier() bool { return n.classifier != nil }

// Tape records the intermediate state of one Forward call.
type Tape struct {
	backbone   any
	head       any
	norm       any
	classifier any
	rows       int
}

// Grad holds upstream gradients for Backward.
type Grad struct {
	// Embedding is dL/d(embedding), one row per sample. Required.
	Embedding *mat.Dense
	// Logits is dL/d(logits). Optional; requires a classifier tape.
	Logits *mat.Dense
}

// Forward embeds a batch (one row per sample). In training mode BatchNorm
// uses batch statistics and dropout is active.
func (n *Net) Forward(x *mat.Dense, train bool) (*mat.Dense, *Tape, error) {
	rows, cols := x.Dims()
	if cols != n.backbone.InputDim() {
		return nil, nil, &DimensionMismatchError{Expected: n.backbone.InputDim(), Actual: cols}
	}
	if !nn.IsFinite(x) {
		return nil, nil, ErrNonFiniteInput
	}

	t := &Tape{rows: rows}
	feats, bc := n.backbone.Forward(x, train)
	t.backbone = bc
	h, hc := n.head.Forward(feats, train)
	t.head = hc
	e, nc := n.norm.Forward(h, train)
	t.norm = nc

	if !nn.IsFinite(e) {
		return nil, nil, ErrNumericInstability
	}
	return e, t, nil
}

// ForwardClassifier returns embeddings and identity logits.
func (n *Net) ForwardClassifier(x *mat.Dense, train bool) (*mat.Dense, *mat.Dense, *Tape, error) {
	if n.classifier == nil {
		return nil, nil, nil, ErrNoClassifier
	}
	e, t, err := n.Forward(x, train)
	if err != nil {
		return nil, nil, nil, err
	}
	logits, cc := n.classifier.Forward(e, train)
	t.classifier = cc
	if !nn.IsFinite(logits) {
		return nil, nil, nil, ErrNumericInstability
	}
	return e, logits, t, nil
}

// Backward propagates g through the recorded tape and accumulates parameter
// gradients. Call ZeroGrad before the first Backward of a step.
func (n *Net) Backward(t *Tape, g Grad) error {
	if t == nil || g.Embedding == nil {
		return errors.New("backward: missing tape or embedding gradient")
	}
	if r, c := g.Embedding.Dims(); r != t.rows || c != n.arch.EmbeddingDim {
		return &DimensionMismatchError{Expected: n.arch.EmbeddingDim, Actual: c}
	}

	dEmb := g.Embedding
	if g.Logits != nil {
		if t.classifier == nil {
			return ErrNoClassifier
		}
		dc := n.classifier.Backward(t.classifier, g.Logits)
		var sum mat.Dense
		sum.Add(dEmb, dc)
		dEmb = &sum
	}

	dh := n.norm.Backward(t.norm, dEmb)
	df := n.head.Backward(t.head, dh)
	if n.backbone.Trainable() {
		n.backbone.Backward(t.backbone, df)
	}
	return nil
}

// Embed returns the evaluation-mode embedding of a single input.
func (n *Net) Embed(x []float64) ([]float64, error) {
	e, _, err := n.Forward(mat.NewDense(1, len(x), slices.Clone(x)), false)
	if err != nil {
		return nil, err
	}
	return slices.Clone(e.RawRowView(0)), nil
}

// EmbedBatch returns evaluation-mode embeddings for a batch.
func (n *Net) EmbedBatch(x *mat.Dense) (*mat.Dense, error) {
	e, _, err := n.Forward(x, false)
	return e, err
}

// Params returns the trainable parameters. A frozen backbone contributes none.
func (n *Net) Params() []*nn.Param {
	var ps []*nn.Param
	if n.backbone.Trainable() {
		ps = append(ps, n.backbone.Params()...)
	}
	ps = append(ps, n.head.Params()...)
	if n.classifier != nil {
		ps = append(ps, n.classifier.Params()...)
	}
	return ps
}

// ZeroGrad clears every parameter gradient.
func (n *Net) ZeroGrad() {
	for _, p := range n.Params() {
		p.ZeroGrad()
	}
}

// GradNorm returns the global L2 norm of all parameter gradients.
func (n *Net) GradNorm() float64 {
	var ss float64
	for _, p := range n.Params() {
		d := p.Grad.RawMatrix().Data
		ss += floats.Dot(d, d)
	}
	return math.Sqrt(ss)
}

func (n *Net) stateGroups() [][]*nn.Param {
	groups := [][]*nn.Param{n.backbone.Params(), n.head.Params()}
	if n.classifier != nil {
		groups = append(groups, n.classifier.Params())
	}
	return append(groups, n.head.Buffers())
}

// State snapshots all parameters, frozen ones included, and BatchNorm running
// statistics.
func (n *Net) State() nn.State {
	return nn.Capture(n.stateGroups()...)
}

// LoadState restores a snapshot produced by a Net of the same architecture.
func (n *Net) LoadState(s nn.State) error {
	return s.Apply(n.stateGroups()...)
}
