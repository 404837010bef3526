package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/reid/blobstore"
	"github.com/hupe1980/reid/blobstore/minio"
	"github.com/hupe1980/reid/blobstore/s3"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// OpenStore opens the blob store named by s.URI.
func OpenStore(ctx context.Context, s Storage) (blobstore.BlobStore, error) {
	u, err := url.Parse(s.URI)
	if err != nil {
		return nil, &ConfigError{Field: "storage.uri", Reason: err.Error()}
	}

	switch u.Scheme {
	case "", "file":
		root := u.Host + u.Path
		if root == "" {
			return nil, &ConfigError{Field: "storage.uri", Reason: "file URI has no path"}
		}
		return blobstore.NewLocalStore(root), nil

	case "mem":
		return blobstore.NewMemoryStore(), nil

	case "s3":
		if u.Host == "" {
			return nil, &ConfigError{Field: "storage.uri", Reason: "s3 URI has no bucket"}
		}
		var opts []func(*awsconfig.LoadOptions) error
		if s.Region != "" {
			opts = append(opts, awsconfig.WithRegion(s.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return s3.NewStore(awss3.NewFromConfig(awsCfg), u.Host, strings.Trim(u.Path, "/")), nil

	case "minio":
		bucket, prefix, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
		if u.Host == "" || bucket == "" {
			return nil, &ConfigError{Field: "storage.uri", Reason: "minio URI must be minio://host/bucket[/prefix]"}
		}
		client, err := miniogo.New(u.Host, &miniogo.Options{
			Creds:  credentials.NewStaticV4(s.AccessKey, s.SecretKey, ""),
			Secure: !s.Insecure,
			Region: s.Region,
		})
		if err != nil {
			return nil, err
		}
		return minio.NewStore(client, bucket, prefix), nil

	default:
		return nil, &ConfigError{Field: "storage.uri", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
}
