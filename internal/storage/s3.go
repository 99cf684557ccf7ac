package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"storyreel/internal/domain"
)

// S3Options configures an S3Store. Endpoint covers S3-compatible services
// such as MinIO; leave it empty for AWS.
type S3Options struct {
	Region    string
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// PublicBaseURL is the prefix of URLs handed back to clients. Defaults
	// to Endpoint/Bucket when set, otherwise the AWS virtual-hosted form.
	PublicBaseURL string
}

// S3Store persists assets into an S3 bucket.
type S3Store struct {
	client     *s3.Client
	bucket     string
	baseURL    string
	httpClient *http.Client
}

// NewS3Store initializes the SDK client and validates connectivity inputs.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	baseURL := strings.TrimRight(opts.PublicBaseURL, "/")
	if baseURL == "" {
		if opts.Endpoint != "" {
			baseURL = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
		}
	}
	return &S3Store{
		client:     client,
		bucket:     opts.Bucket,
		baseURL:    baseURL,
		httpClient: defaultHTTPClient(),
	}, nil
}

// Put uploads the bytes under key and returns the public URL.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s == nil {
		return "", errNoStore
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleanKey),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := s.client.PutObject(uploadCtx, input); err != nil {
		return "", fmt.Errorf("%w: put object %s: %v", domain.ErrStorage, cleanKey, err)
	}
	return s.baseURL + "/" + cleanKey, nil
}

// Persist downloads sourceURL and uploads it under key.
func (s *S3Store) Persist(ctx context.Context, sourceURL, key, contentType string) (string, error) {
	if s == nil {
		return "", errNoStore
	}
	data, err := fetch(ctx, s.httpClient, sourceURL)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, key, data, contentType)
}

var _ Store = (*S3Store)(nil)
