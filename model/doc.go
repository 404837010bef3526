// Package model defines the re-identification embedding network.
//
// A Net is composed of a feature-extraction Backbone, a projection head and a
// final L2 normalization:
//
//	Backbone → Linear(F,H) → BatchNorm(H) → ReLU → Dropout → Linear(H,D) → BatchNorm(D) → L2
//
// An optional classifier head Linear(D, N) maps embeddings to identity logits
// for an auxiliary cross-entropy loss.
//
// # Backbones
//
//   - PooledBackbone: parameter-free grid pooling over a CHW image tensor
//   - DenseBackbone: trainable Linear+ReLU stack, optionally frozen
//
// # Training
//
// Forward records a Tape per call so several forward passes can share the same
// weights before a single backward sweep:
//
//	ea, ta, _ := net.Forward(anchors, true)
//	ep, tp, _ := net.Forward(positives, true)
//	en, tn, _ := net.Forward(negatives, true)
//	net.ZeroGrad()
//	_ = net.Backward(ta, model.Grad{Embedding: da})
//	_ = net.Backward(tp, model.Grad{Embedding: dp})
//	_ = net.Backward(tn, model.Grad{Embedding: dn})
package model
