// Package reid trains embedding models that re-identify individual animals.
//
// Given a directory of images grouped by animal, reid learns an embedding in
// which photos of the same animal lie close together and photos of different
// animals lie far apart. Training uses a triplet loss over
// anchor/positive/negative samples and keeps the model with the lowest
// validation distance.
//
// # Quick Start
//
//	cfg, _ := config.Load("reid.yaml")
//	res, err := reid.Train(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("best epoch", res.BestEpoch, "score", res.BestScore)
//
//	net, _, _ := reid.LoadModel(ctx, cfg, "reid-best")
//	embeddings, _ := reid.EmbedDir(ctx, net, "./herd", cfg.Dataset.ImageSize)
//
// # Dataset Layout
//
// Every subdirectory of the dataset root is one identity; every image inside
// it is one sample:
//
//	train/
//	  cow_017/  001.jpg 002.jpg ...
//	  cow_042/  001.jpg ...
//
// Samples are ordered by identity, then by file name.
//
// # Packages
//
//   - dataset: sample index and image decoding
//   - sampler: triplet sampling policy
//   - nn, model: layers and the embedding network
//   - loss, optim: triplet and cross-entropy losses, optimizers, schedules
//   - loader: concurrent batch assembly
//   - train: the training state machine
//   - checkpoint, blobstore, codec: model artifacts and where they live
//   - tracking, metric: experiment records and operational metrics
//   - config: layered configuration
//   - detection: interface to the external detection trainer
//
// # Errors
//
// Fatal conditions are reported through sentinel errors that can be checked
// with errors.Is: ErrDatasetEmpty, ErrMissingIdentityDirectory,
// ErrInsufficientIdentities, ErrNumericInstability, ErrInvalidConfiguration
// and ErrTooManySkippedBatches. Batches that fail to load are skipped and
// counted; failed checkpoint writes are logged and retried at the next
// improving epoch.
package reid
