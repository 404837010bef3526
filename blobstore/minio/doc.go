// Package minio keeps checkpoints on a MinIO server or another
// S3-compatible object store reached through the MinIO client.
//
// The reid CLI opens it for storage URIs of the form
// minio://host:port/bucket/prefix:
//
//	client, err := miniogo.New("localhost:9000", &miniogo.Options{
//	    Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
//	    Secure: true,
//	})
//	if err != nil {
//	    return err
//	}
//	store := minio.NewStore(client, "herd-models", "reid")
package minio
