package blobstore

import (
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/oriys/infer/internal/domain"
)

// S3Store reads artifacts from an S3 bucket, keyed by blob id.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads the default AWS credential chain (env vars, shared
// config, IMDS) the same way config.LoadDefaultConfig is meant to be used.
func NewS3Store(ctx context.Context, bucket, region string) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Store{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Open streams the object named by id's canonical string form plus an
// ".onnx" suffix. On any error prior to a successful GetObject, no
// handle was acquired so there is nothing to release.
func (s *S3Store) Open(ctx context.Context, id domain.BlobID) (io.ReadCloser, error) {
	key := id.String() + ".onnx"
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, key, err)
	}
	return out.Body, nil
}

// Upload assigns a fresh blob id and puts r's full contents under it.
// PutObject needs a seekable or pre-sized body for some storage classes,
// but the default client accepts a plain io.Reader via the SDK's
// streaming body wrapper.
func (s *S3Store) Upload(ctx context.Context, r io.Reader) (domain.BlobID, error) {
	id := domain.NewBlobID(uuid.New())
	key := id.String() + ".onnx"

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   r,
	})
	if err != nil {
		return domain.BlobID{}, fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return id, nil
}

// Delete removes the object named by id's canonical string form.
func (s *S3Store) Delete(ctx context.Context, id domain.BlobID) error {
	key := id.String() + ".onnx"
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}); err != nil {
		return fmt.Errorf("delete object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}
