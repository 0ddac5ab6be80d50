package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Store implements ports.BlobStore on Amazon S3 or any S3-compatible endpoint.
type Store struct {
	client  objectAPI
	presign func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	bucket  string
	prefix  string
	exec    *resilience.Executor
}

type Options struct {
	Region   string
	Bucket   string
	Prefix   string
	Endpoint string
}

func New(ctx context.Context, opts Options, exec *resilience.Executor) (*Store, error) {
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(opts.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	presigner := s3.NewPresignClient(client)

	return &Store{
		client: client,
		presign: func(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
			out, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(ttl))
			if err != nil {
				return "", err
			}
			return out.URL, nil
		},
		bucket: opts.Bucket,
		prefix: normalizePrefix(opts.Prefix),
		exec:   exec,
	}, nil
}

// Put is not retried: the body is a one-shot stream.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	objectKey := applyPrefix(s.prefix, key)
	input := &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(objectKey),
		Body:                 body,
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	err := s.exec.Execute(ctx, "s3_put_object", func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, input)
		return err
	}, classifyPut)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "s3 put object", fmt.Errorf("bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey := applyPrefix(s.prefix, key)
	out, err := resilience.Do(ctx, s.exec, "s3_get_object", func(ctx context.Context) (*s3.GetObjectOutput, error) {
		return s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		})
	}, classifyS3Error)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "s3 get object", fmt.Errorf("bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	return out.Body, nil
}

// SignedURL checks the object exists before presigning, so a missing key
// fails here rather than when the URL is fetched.
func (s *Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	objectKey := applyPrefix(s.prefix, key)
	_, err := resilience.Do(ctx, s.exec, "s3_head_object", func(ctx context.Context) (*s3.HeadObjectOutput, error) {
		return s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey),
		})
	}, classifyS3Error)
	if err != nil {
		return "", domain.WrapError(domain.ErrStorage, "s3 head object", fmt.Errorf("bucket=%s key=%s: %w", s.bucket, objectKey, err))
	}
	url, err := s.presign(ctx, s.bucket, objectKey, ttl)
	if err != nil {
		return "", domain.WrapError(domain.ErrStorage, "s3 presign", err)
	}
	return url, nil
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}

func classifyS3Error(err error) resilience.ErrorClassification {
	if isNotFound(err) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "SlowDown" {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if resilience.IsRetryableHTTPStatus(respErr.HTTPStatusCode()) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ClassifyHTTPError(err)
}

func classifyPut(err error) resilience.ErrorClassification {
	class := classifyS3Error(err)
	class.Retryable = false
	return class
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func applyPrefix(prefix, key string) string {
	cleanPrefix := strings.Trim(prefix, "/")
	cleanKey := strings.TrimLeft(key, "/")
	if cleanPrefix == "" {
		return cleanKey
	}
	if cleanKey == "" {
		return cleanPrefix
	}
	return cleanPrefix + "/" + cleanKey
}
