// Package nn provides the small set of differentiable layers the embedding
// network is assembled from.
//
// Layers operate on row-major mini-batches stored in *mat.Dense (one row per
// sample). Forward returns the output together with an opaque cache; Backward
// consumes that cache, accumulates parameter gradients into Param.Grad and
// returns the gradient with respect to the layer input. Keeping the cache
// outside the layer lets the same weights run several forward passes (anchor,
// positive, negative) before a single backward sweep.
//
// # Layers
//
//   - Linear: y = xW + b
//   - BatchNorm: per-feature batch normalization with running statistics
//   - ReLU, Dropout, L2Normalize
//   - Sequential: ordered composition of layers
package nn
