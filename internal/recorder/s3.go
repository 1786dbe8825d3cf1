package recorder

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kingrea/vialflow/internal/config"
)

// objectPutter is the slice of the S3 client the image archive uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Images archives frames to an S3-compatible bucket.
type S3Images struct {
	client objectPutter
	bucket string
	prefix string
}

// NewS3Images builds a client from the default AWS credential chain.
func NewS3Images(ctx context.Context, cfg config.S3Settings) (*S3Images, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Images(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Images(client objectPutter, bucket, prefix string) *S3Images {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Images{client: client, bucket: bucket, prefix: prefix}
}

// PutImage uploads data as <prefix><name>, replacing an earlier object.
func (s *S3Images) PutImage(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key := s.prefix + SanitizeName(name)
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
