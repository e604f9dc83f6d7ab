package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rfvault/rfvault/pkg/config"
)

// Compile-time interface check.
var _ Backend = (*s3Backend)(nil)

type s3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend creates a Backend on S3-compatible storage.
func NewS3Backend(cfg *config.S3StorageConfig) Backend {
	return &s3Backend{
		client: newS3Client(cfg),
		bucket: cfg.Bucket,
	}
}

func (b *s3Backend) Put(
	ctx context.Context, key string, body io.Reader,
) (int64, error) {
	// Count the bytes as the SDK consumes the reader so the caller
	// learns the uploaded size without buffering the body.
	cr := &countingReader{r: body}

	if _, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   cr,
	}); err != nil {
		return 0, fmt.Errorf("putting object %q: %w", key, err)
	}

	return cr.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)

	return n, err
}

// Get opens the object. Returns (nil, 0, nil) when the key does not
// exist.
func (b *s3Backend) Get(
	ctx context.Context, key string,
) (io.ReadCloser, int64, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, 0, nil
		}

		return nil, 0, fmt.Errorf("getting object %q: %w", key, err)
	}

	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}

	return out.Body, size, nil
}

// Delete removes the object. S3 deletes are idempotent, so an absent
// key succeeds without a special case.
func (b *s3Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("deleting object %q: %w", key, err)
	}

	return nil
}

// List returns every key under the prefix.
func (b *s3Backend) List(
	ctx context.Context, prefix string,
) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(
		b.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(b.bucket),
			Prefix: aws.String(prefix),
		},
	)

	var keys []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf(
				"listing objects under %q: %w", prefix, err,
			)
		}

		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	return keys, nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}

func newS3Client(cfg *config.S3StorageConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
