// Copyright (C) 2026 The karl Authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package archive uploads rotated-out checkpoint segments to S3,
// generalizing the teacher's local-disk cleanup/archive path to an
// object-store target: once a checkpoint file is closed off (rotated),
// it is durable on cheap storage instead of only on the local disk the
// agent happens to be running on.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver uploads closed checkpoint segments to a fixed S3 bucket/prefix.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config configures an Archiver. Region and credential resolution follow
// the default AWS SDK v2 chain (environment, shared config, IAM role);
// Endpoint overrides it for S3-compatible stores (e.g. MinIO).
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string

	// AccessKeyID/SecretAccessKey, when both set, pin the archiver to a
	// static credential pair instead of the default SDK resolution chain
	// (environment, shared config, IAM role) -- for S3-compatible stores
	// that issue their own fixed keys rather than AWS-managed ones.
	AccessKeyID     string
	SecretAccessKey string
}

// New builds an Archiver from cfg.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// UploadSegment uploads the checkpoint file at localPath, keyed under the
// archiver's prefix plus its base filename, and returns the resulting key.
func (a *Archiver) UploadSegment(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: opening %q: %w", localPath, err)
	}
	defer f.Close()

	key := filepath.ToSlash(filepath.Join(a.prefix, filepath.Base(localPath)))
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("archive: uploading %q to s3://%s/%s: %w", localPath, a.bucket, key, err)
	}
	return key, nil
}
