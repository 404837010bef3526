// Package train runs the metric-learning training loop.
//
// A run moves through Initializing, then per epoch TrainingEpoch,
// ValidatingEpoch and CheckpointDecision, and ends in Terminal. A single
// goroutine drives the state machine; data loading runs on the loader's
// worker pool.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/hupe1980/reid/checkpoint"
	"github.com/hupe1980/reid/config"
	"github.com/hupe1980/reid/dataset"
	"github.com/hupe1980/reid/distance"
	"github.com/hupe1980/reid/loader"
	"github.com/hupe1980/reid/loss"
	"github.com/hupe1980/reid/metric"
	"github.com/hupe1980/reid/model"
	"github.com/hupe1980/reid/optim"
	"github.com/hupe1980/reid/resource"
	"github.com/hupe1980/reid/sampler"
	"github.com/hupe1980/reid/tracking"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooManySkippedBatches is returned when the share of failed batches
	// in an epoch exceeds the configured maximum.
	ErrTooManySkippedBatches = errors.New("too many skipped batches")

	// ErrNoValidationSamples is returned when no validation sample could be
	// embedded.
	ErrNoValidationSamples = errors.New("no validation sample could be loaded")
)

// Name suffixes. The best model goes to the checkpointer; the final model is
// logged to the tracking sink as an artifact.
const (
	BestSuffix  = "-best"
	FinalSuffix = "-final"
)

// EpochResult summarizes one epoch.
type EpochResult struct {
	Epoch     int
	TrainLoss float64
	// ValDistance is the mean of the full pairwise Euclidean distance matrix
	// of the validation embeddings. Lower is better.
	ValDistance float64
	// LearningRate is the rate after the scheduler stepped.
	LearningRate float64
	// Separation holds intra- and inter-identity distances. It never
	// influences checkpoint selection.
	Separation     distance.Separation
	Batches        int
	SkippedBatches int
	Degenerate     int
	Improved       bool
	Checkpointed   bool
	Duration       time.Duration
}

// Result is the outcome of a completed run.
type Result struct {
	Epochs    []EpochResult
	BestScore float64
	// BestEpoch is -1 if no epoch completed.
	BestEpoch int
	// Persisted reports whether the best model was written successfully.
	Persisted          bool
	CheckpointFailures int
	StoppedEarly       bool
	Net                *model.Net
}

// Trainer owns the training state of one run. It is not reusable.
type Trainer struct {
	cfg   config.Config
	train *dataset.Index
	val   *dataset.Index
	opts  options
	phase atomic.Int32
}

// New creates a Trainer. val may be nil, in which case validation runs on
// the training index.
func New(cfg config.Config, train, val *dataset.Index, optFns ...Option) *Trainer {
	opts := options{
		sink:    tracking.Discard,
		metrics: metric.NoopCollector{},
		logger:  slog.Default(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if val == nil {
		val = train
	}
	return &Trainer{cfg: cfg, train: train, val: val, opts: opts}
}

// Phase returns the current state. It is safe to call concurrently with Run.
func (t *Trainer) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Trainer) setPhase(p Phase) {
	t.phase.Store(int32(p))
}

// run is the mutable state of Run.
type run struct {
	net       *model.Net
	opt       optim.Optimizer
	sched     *optim.Scheduler
	triplet   loss.Triplet
	triplets  *loader.TripletLoader
	samples   *loader.SampleLoader
	logger    *slog.Logger
	best      float64
	bestEpoch int
}

// Run trains for the configured number of epochs, or until the stop
// predicate fires. A canceled context ends the run with ctx.Err() and
// nothing further is persisted.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	t.setPhase(PhaseInitializing)
	r, err := t.init(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{BestScore: math.Inf(1), BestEpoch: -1, Net: r.net}
	for epoch := 0; epoch < t.cfg.Train.Epochs; epoch++ {
		er, err := t.epoch(ctx, r, epoch, res)
		if err != nil {
			return nil, err
		}
		res.Epochs = append(res.Epochs, er)

		if t.opts.stop != nil && epoch+1 < t.cfg.Train.Epochs && t.opts.stop(res.Epochs) {
			r.logger.InfoContext(ctx, "stopping early", "epoch", epoch, "best_epoch", r.bestEpoch)
			res.StoppedEarly = true
			break
		}
	}

	t.setPhase(PhaseTerminal)
	res.BestScore, res.BestEpoch = r.best, r.bestEpoch
	t.logFinal(ctx, r, res.Epochs[len(res.Epochs)-1])

	r.logger.InfoContext(ctx, "training finished",
		"epochs", len(res.Epochs),
		"best_epoch", res.BestEpoch,
		"best_score", res.BestScore,
		"checkpoint_failures", res.CheckpointFailures,
	)
	return res, nil
}

func (t *Trainer) init(ctx context.Context) (*run, error) {
	cfg := t.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t.train == nil || t.train.Len() == 0 {
		return nil, dataset.ErrDatasetEmpty
	}
	if t.train.NumIdentities() < 2 {
		return nil, fmt.Errorf("%w: training set has %d", sampler.ErrInsufficientIdentities, t.train.NumIdentities())
	}

	logger := t.opts.logger.With("run", cfg.Tracking.Run)

	net := t.opts.net
	if net == nil {
		var err error
		net, err = model.New(cfg.Architecture(t.train.NumIdentities()), model.WithSeed(cfg.Train.Seed))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfiguration, err)
		}
	}

	dec := t.opts.decoder
	if dec == nil {
		dec = dataset.NewImageDecoder(cfg.Dataset.ImageSize)
	}
	if dec.InputDim() != net.InputDim() {
		return nil, &model.DimensionMismatchError{Expected: net.InputDim(), Actual: dec.InputDim()}
	}

	opt, err := optim.NewOptimizer(cfg.Train.Optimizer, cfg.Train.WeightDecay)
	if err != nil {
		return nil, &config.ConfigError{Field: "train.optimizer", Reason: err.Error()}
	}
	schedule, err := optim.NewSchedule(cfg.Train.Schedule, cfg.Train.LearningRate, cfg.Train.Epochs)
	if err != nil {
		return nil, &config.ConfigError{Field: "train.schedule", Reason: err.Error()}
	}

	rc := t.opts.controller
	if rc == nil {
		rc = resource.NewController(cfg.Resource())
	}
	loaderOpts := []loader.Option{
		loader.WithBatchSize(cfg.Train.BatchSize),
		loader.WithPrefetch(cfg.Loader.Prefetch),
		loader.WithSeed(cfg.Train.Seed),
		loader.WithShuffle(cfg.Train.Shuffle),
		loader.WithController(rc),
		loader.WithFileSystem(t.opts.fs),
		loader.WithLogger(logger),
	}

	r := &run{
		net:       net,
		opt:       opt,
		sched:     optim.NewScheduler(schedule),
		triplet:   loss.NewTriplet(cfg.Train.Margin),
		triplets:  loader.NewTriplet(sampler.New(t.train, sampler.WithLogger(logger)), dec, loaderOpts...),
		samples:   loader.NewSamples(t.val, dec, loaderOpts...),
		logger:    logger,
		best:      math.Inf(1),
		bestEpoch: -1,
	}

	stats := t.train.Stats()
	logger.InfoContext(ctx, "starting training",
		"samples", t.train.Len(),
		"identities", t.train.NumIdentities(),
		"singleton_identities", len(stats.Singletons),
		"validation_samples", t.val.Len(),
		"batches_per_epoch", r.triplets.NumBatches(),
		"optimizer", opt.Name(),
		"schedule", schedule.Name(),
	)

	if err := t.opts.sink.LogParams(ctx, cfg.Tracking.Run, t.params(net, opt, schedule)); err != nil {
		logger.WarnContext(ctx, "tracking sink failed", "error", err)
	}
	return r, nil
}

func (t *Trainer) params(net *model.Net, opt optim.Optimizer, schedule optim.Schedule) tracking.Params {
	cfg := t.cfg
	return tracking.Params{
		"backbone":          cfg.Model.Backbone,
		"embedding_dim":     cfg.Model.EmbeddingDim,
		"hidden_dim":        cfg.Model.HiddenDim,
		"dropout":           cfg.Model.Dropout,
		"num_classes":       net.Architecture().NumClasses,
		"margin":            cfg.Train.Margin,
		"epochs":            cfg.Train.Epochs,
		"batch_size":        cfg.Train.BatchSize,
		"learning_rate":     cfg.Train.LearningRate,
		"weight_decay":      cfg.Train.WeightDecay,
		"optimizer":         opt.Name(),
		"schedule":          schedule.Name(),
		"classifier_weight": cfg.Train.ClassifierWeight,
		"workers":           cfg.Loader.Workers,
		"image_size":        cfg.Dataset.ImageSize,
		"seed":              cfg.Train.Seed,
	}
}

// epoch runs one TrainingEpoch, ValidatingEpoch and CheckpointDecision.
func (t *Trainer) epoch(ctx context.Context, r *run, epoch int, res *Result) (EpochResult, error) {
	start := time.Now()
	er := EpochResult{Epoch: epoch}
	logger := r.logger.With("epoch", epoch)

	t.setPhase(PhaseTrainingEpoch)
	if err := t.trainEpoch(ctx, r, epoch, &er); err != nil {
		return er, err
	}

	t.setPhase(PhaseValidatingEpoch)
	score, sep, err := t.validate(ctx, r)
	if err != nil {
		return er, err
	}
	er.ValDistance, er.Separation = score, sep
	er.LearningRate = r.sched.Step()

	t.setPhase(PhaseCheckpointDecision)
	if improves(score, r.best) {
		r.best, r.bestEpoch = score, epoch
		er.Improved = true
		if err := t.persist(ctx, r, BestSuffix, epoch, score); err != nil {
			res.CheckpointFailures++
		} else {
			er.Checkpointed = t.opts.checkpointer != nil
			res.Persisted = er.Checkpointed
		}
	}
	er.Duration = time.Since(start)

	logger.DebugContext(ctx, "epoch complete",
		"train_loss", er.TrainLoss,
		"val_distance", er.ValDistance,
		"intra_distance", sep.Intra,
		"inter_distance", sep.Inter,
		"learning_rate", er.LearningRate,
		"skipped_batches", er.SkippedBatches,
		"degenerate_positives", er.Degenerate,
		"improved", er.Improved,
		"duration", er.Duration,
	)
	t.opts.metrics.RecordEpoch(epoch, er.TrainLoss, er.ValDistance, er.LearningRate, er.Duration)
	if err := t.opts.sink.LogEpoch(ctx, tracking.Epoch{
		Run:            t.cfg.Tracking.Run,
		Epoch:          epoch,
		TrainLoss:      er.TrainLoss,
		ValDistance:    er.ValDistance,
		LearningRate:   er.LearningRate,
		Time:           time.Now().UTC(),
		IntraDistance:  sep.Intra,
		InterDistance:  sep.Inter,
		SkippedBatches: int64(er.SkippedBatches),
		Degenerate:     int64(er.Degenerate),
		Checkpointed:   er.Checkpointed,
	}); err != nil {
		logger.WarnContext(ctx, "tracking sink failed", "error", err)
	}
	return er, nil
}

func (t *Trainer) trainEpoch(ctx context.Context, r *run, epoch int, er *EpochResult) error {
	lr := r.sched.LR()
	total := r.triplets.NumBatches()
	maxSkipped := t.cfg.Train.MaxSkippedRatio

	var sum float64
	for b, err := range r.triplets.Epoch(ctx, epoch) {
		if err != nil {
			var be *loader.BatchError
			if !errors.As(err, &be) {
				return err
			}
			er.SkippedBatches++
			t.opts.metrics.RecordBatch(0, 0, 0, err)
			r.logger.WarnContext(ctx, "skipping batch", "epoch", epoch, "batch", be.Batch, "error", be.Err)
			if maxSkipped > 0 && float64(er.SkippedBatches)/float64(total) > maxSkipped {
				return fmt.Errorf("%w: %d of %d in epoch %d (max ratio %v)",
					ErrTooManySkippedBatches, er.SkippedBatches, total, epoch, maxSkipped)
			}
			continue
		}

		start := time.Now()
		l, err := t.step(r, b, lr)
		if err != nil {
			return fmt.Errorf("epoch %d batch %d: %w", epoch, b.Index, err)
		}
		t.opts.metrics.RecordBatch(b.Len(), l, time.Since(start), nil)

		sum += l
		er.Batches++
		er.Degenerate += b.Degenerate
	}

	if er.Batches == 0 {
		r.logger.WarnContext(ctx, "no batch trained in epoch", "epoch", epoch, "skipped", er.SkippedBatches)
		return nil
	}
	er.TrainLoss = sum / float64(er.Batches)
	return nil
}

// step runs one optimizer step on a triplet batch and returns its loss.
func (t *Trainer) step(r *run, b *loader.TripletBatch, lr float64) (float64, error) {
	net := r.net
	weight := t.cfg.Train.ClassifierWeight
	withClassifier := weight > 0 && net.HasClassifier()

	net.ZeroGrad()

	var (
		ea, logits *mat.Dense
		ta         *model.Tape
		err        error
	)
	if withClassifier {
		ea, logits, ta, err = net.ForwardClassifier(b.Anchor, true)
	} else {
		ea, ta, err = net.Forward(b.Anchor, true)
	}
	if err != nil {
		return 0, err
	}
	ep, tp, err := net.Forward(b.Positive, true)
	if err != nil {
		return 0, err
	}
	en, tn, err := net.Forward(b.Negative, true)
	if err != nil {
		return 0, err
	}

	l, err := r.triplet.Forward(ea, ep, en)
	if err != nil {
		return 0, err
	}
	da, dp, dn, err := r.triplet.Backward(ea, ep, en)
	if err != nil {
		return 0, err
	}

	ga := model.Grad{Embedding: da}
	if withClassifier {
		ce, dlogits, err := loss.CrossEntropy{}.Forward(logits, b.Labels)
		if err != nil {
			return 0, err
		}
		l += weight * ce
		dlogits.Scale(weight, dlogits)
		ga.Logits = dlogits
	}
	if math.IsNaN(l) || math.IsInf(l, 0) {
		return 0, model.ErrNumericInstability
	}

	if err := net.Backward(ta, ga); err != nil {
		return 0, err
	}
	if err := net.Backward(tp, model.Grad{Embedding: dp}); err != nil {
		return 0, err
	}
	if err := net.Backward(tn, model.Grad{Embedding: dn}); err != nil {
		return 0, err
	}

	if err := checkGradients(net); err != nil {
		return 0, err
	}

	params := net.Params()
	if clip := t.cfg.Train.GradClip; clip > 0 {
		optim.ClipGradNorm(params, clip)
	}
	r.opt.Step(params, lr)
	return l, nil
}

// checkGradients fails when any accumulated gradient is non-finite. A
// forward pass can stay finite while its backward pass does not.
func checkGradients(net *model.Net) error {
	if g := net.GradNorm(); math.IsNaN(g) || math.IsInf(g, 0) {
		return fmt.Errorf("%w: gradient norm %v", model.ErrNumericInstability, g)
	}
	return nil
}

// validate embeds every validation sample once in evaluation mode and
// returns the mean pairwise distance together with the identity separation.
func (t *Trainer) validate(ctx context.Context, r *run) (float64, distance.Separation, error) {
	var (
		embeddings [][]float64
		labels     []int
	)
	for b, err := range r.samples.All(ctx) {
		if err != nil {
			var be *loader.BatchError
			if !errors.As(err, &be) {
				return 0, distance.Separation{}, err
			}
			r.logger.WarnContext(ctx, "skipping validation batch", "batch", be.Batch, "error", be.Err)
			continue
		}

		e, err := r.net.EmbedBatch(b.X)
		if err != nil {
			return 0, distance.Separation{}, err
		}
		for i := range b.Indices {
			embeddings = append(embeddings, mat.Row(nil, i, e))
			labels = append(labels, b.Labels[i])
		}
	}
	if len(embeddings) == 0 {
		return 0, distance.Separation{}, ErrNoValidationSamples
	}

	var (
		score float64
		sep   distance.Separation
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		score, err = distance.PairwiseMean(embeddings, distance.MetricL2)
		return err
	})
	g.Go(func() error {
		var err error
		sep, err = distance.GroupSeparation(embeddings, labels, distance.MetricL2)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, distance.Separation{}, err
	}
	return score, sep, nil
}

// improves reports whether score is strictly below the best so far. Ties
// never persist.
func improves(score, best float64) bool {
	return score < best
}

// encoder is implemented by checkpointers that carry their own codec and
// compression settings.
type encoder interface {
	Encode(c *checkpoint.Checkpoint) ([]byte, error)
}

// logFinal hands the last model state to the tracking sink as an artifact.
// The checkpoint store only ever receives improving models.
func (t *Trainer) logFinal(ctx context.Context, r *run, last EpochResult) {
	if ctx.Err() != nil {
		return
	}

	c := t.snapshot(r, FinalSuffix, last.Epoch, last.ValDistance)
	var (
		data []byte
		err  error
	)
	if enc, ok := t.opts.checkpointer.(encoder); ok {
		data, err = enc.Encode(c)
	} else {
		data, err = checkpoint.Marshal(c)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "encoding final model failed", "error", err)
		return
	}

	name := checkpoint.BlobName(t.cfg.Checkpoint.Name + FinalSuffix)
	if err := t.opts.sink.LogArtifact(ctx, t.cfg.Tracking.Run, name, data); err != nil {
		r.logger.WarnContext(ctx, "tracking sink failed", "artifact", name, "error", err)
	}
}

func (t *Trainer) snapshot(r *run, suffix string, epoch int, score float64) *checkpoint.Checkpoint {
	c := checkpoint.FromNet(r.net, epoch, score)
	c.Labels = map[string]string{
		"run":  t.cfg.Tracking.Run,
		"kind": suffix[1:],
	}
	if r.net.HasClassifier() {
		c.Identities = t.train.Identities()
	}
	return c
}

// persist writes the current model under the configured name plus suffix.
// Failures are logged and returned; they never end the run.
func (t *Trainer) persist(ctx context.Context, r *run, suffix string, epoch int, score float64) error {
	if t.opts.checkpointer == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c := t.snapshot(r, suffix, epoch, score)
	name := t.cfg.Checkpoint.Name + suffix
	start := time.Now()
	err := t.opts.checkpointer.Save(ctx, name, c)
	t.opts.metrics.RecordCheckpoint(time.Since(start), err)
	if err != nil {
		r.logger.ErrorContext(ctx, "checkpoint write failed", "name", name, "epoch", epoch, "error", err)
		return err
	}
	r.logger.InfoContext(ctx, "checkpoint written", "name", name, "epoch", epoch, "score", score)
	return nil
}
