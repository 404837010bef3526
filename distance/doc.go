// Package distance provides embedding distance calculations.
//
// # Supported Metrics
//
//   - MetricL2: Euclidean distance (validation statistic)
//   - MetricSquaredL2: Squared Euclidean distance (triplet loss)
//   - MetricCosine: Cosine distance (1 - cosine similarity)
//
// # Usage
//
//	d := distance.SquaredL2(a, b)
//	ok := distance.NormalizeL2InPlace(vec)
//	mean, _ := distance.PairwiseMean(embeddings, distance.MetricL2)
package distance
