package awsx

import (
	"bytes"
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore stores report documents.
type ObjectStore interface {
	PutJSON(ctx context.Context, key string, body []byte) error
}

// S3API is the part of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store writes objects into a single bucket.
type S3Store struct {
	api    S3API
	bucket string
}

func NewS3Store(api S3API, bucket string) *S3Store {
	return &S3Store{api: api, bucket: bucket}
}

// PutJSON uploads body under key with a JSON content type.
func (s *S3Store) PutJSON(ctx context.Context, key string, body []byte) error {
	if s.bucket == "" {
		return fmt.Errorf("empty bucket")
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(s.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: sdkaws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s/%s failed: %w", s.bucket, key, err)
	}
	return nil
}
