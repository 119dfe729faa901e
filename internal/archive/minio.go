// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	strataerr "github.com/sigil-dev/strata/pkg/errors"
)

// MinioConfig configures an S3-compatible archive bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string
}

// Compile-time interface check.
var _ Writer = (*MinioWriter)(nil)

// MinioWriter stores archive objects in an S3-compatible bucket.
type MinioWriter struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioWriter creates the client. Call EnsureBucket before first use.
func NewMinioWriter(cfg MinioConfig) (*MinioWriter, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, strataerr.New(strataerr.CodeArchiveConfigInvalid, "minio archive requires endpoint and bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, strataerr.Wrapf(err, strataerr.CodeArchiveConfigInvalid, "initializing minio client for %s", cfg.Endpoint)
	}

	return &MinioWriter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (w *MinioWriter) EnsureBucket(ctx context.Context) error {
	exists, err := w.client.BucketExists(ctx, w.bucket)
	if err != nil {
		return strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "checking bucket %s", w.bucket)
	}
	if exists {
		return nil
	}
	if err := w.client.MakeBucket(ctx, w.bucket, minio.MakeBucketOptions{}); err != nil {
		// Lost a creation race with another process.
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "creating bucket %s", w.bucket)
	}
	return nil
}

func (w *MinioWriter) Write(ctx context.Context, name string, data []byte) (string, error) {
	key := w.ObjectKey(name)
	_, err := w.client.PutObject(ctx, w.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", strataerr.Wrapf(err, strataerr.CodeArchiveWriteFailure, "uploading %s to bucket %s", key, w.bucket)
	}
	return fmt.Sprintf("s3://%s/%s", w.bucket, key), nil
}

// ObjectKey returns the bucket key used for name.
func (w *MinioWriter) ObjectKey(name string) string {
	return joinObjectKey(w.prefix, name)
}
