// Copyright (c) 2026 Fragstream Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package archive uploads finished capture trace bundles to S3 for
// long-term retention.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader pushes completed capture files to a configured S3 bucket.
type Uploader struct {
	client *s3.Client
	upload *manager.Uploader
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds an Uploader using the default AWS credential chain (env vars,
// shared config, instance role, and so on).
func New(ctx context.Context, bucket, prefix string, logger *slog.Logger) (*Uploader, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &Uploader{
		client: client,
		upload: manager.NewUploader(client),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
		logger: logger.With("component", "archive"),
	}, nil
}

// UploadFile streams localPath to the configured bucket under
// prefix/<basename>, using multipart upload for large capture bundles.
func (u *Uploader) UploadFile(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", localPath, err)
	}
	defer f.Close()

	key := objectKey(u.prefix, localPath)

	_, err = u.upload.Upload(ctx, &s3.PutObjectInput{
		Bucket: &u.bucket,
		Key:    &key,
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("archive: uploading %s to s3://%s/%s: %w", localPath, u.bucket, key, err)
	}

	u.logger.Info("capture bundle archived", "local_path", localPath, "bucket", u.bucket, "key", key)
	return nil
}

// objectKey computes the S3 key a capture file is stored under: the
// configured prefix (if any) joined with the file's base name.
func objectKey(prefix, localPath string) string {
	base := filepath.Base(localPath)
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}
