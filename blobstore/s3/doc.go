// Package s3 stores blobs in Amazon S3.
//
// Uploads go through the SDK transfer manager, which switches to multipart
// uploads for large checkpoints and verifies each part with CRC32C.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := s3blob.NewStore(s3.NewFromConfig(cfg), "herd-models", "reid/")
package s3
