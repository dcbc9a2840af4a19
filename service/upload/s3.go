package upload

import (
	"context"
	"io"
	"strings"

	"consultchat/tools/errs"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the slice of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	api           S3API
	bucket        string
	publicBaseURL string
}

// NewS3Store loads credentials from the default chain. endpoint is set for
// S3-compatible stores (MinIO, LocalStack) and switches to path-style urls.
func NewS3Store(ctx context.Context, bucket, endpoint, publicBaseURL string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errs.Wrap(err, "load aws config")
	}
	opts := s3.Options{
		Region:      cfg.Region,
		Credentials: cfg.Credentials,
		HTTPClient:  cfg.HTTPClient,
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "" && endpoint != "" {
		base = strings.TrimRight(endpoint, "/") + "/" + bucket
	}
	if base == "" {
		base = "https://" + bucket + ".s3." + cfg.Region + ".amazonaws.com"
	}
	return NewS3StoreWith(s3.New(opts), bucket, base), nil
}

func NewS3StoreWith(api S3API, bucket, publicBaseURL string) *S3Store {
	return &S3Store{api: api, bucket: bucket, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}
}

func (s *S3Store) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errs.IO(err, "s3 put object")
	}
	return s.publicBaseURL + "/" + name, nil
}
