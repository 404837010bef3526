// Package testutil provides testing utilities for reid.
//
// This package is intended for use in tests only.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	x := rng.GaussianMatrix(8, 64)
//	emb := rng.UnitVectors(10, 32)
//
// # Image Datasets
//
//	root := testutil.WriteDataset(t, t.TempDir(), testutil.Identities{"A": 3, "B": 2}, 16)
package testutil
