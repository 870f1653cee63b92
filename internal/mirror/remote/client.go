// Package remote wraps the object-store client: paged bucket enumeration
// and object fetch, with provider errors mapped onto the shared sentinels.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/s3mirror/internal/common"
	"github.com/dmitrijs2005/s3mirror/internal/logging"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// api is the subset of the S3 client the mirror consumes.
type api interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures the remote client. Region and credential settings
// follow the AWS default chain unless overridden; BaseEndpoint and the
// static credentials make S3-compatible backends (MinIO) work.
type Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Logger       logging.Logger
}

// Client accesses one bucket.
type Client struct {
	api    api
	bucket string
	log    logging.Logger
}

// NewClient builds an S3-backed client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("remote: bucket is required")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(opts.BaseEndpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewForLevel("NONE")
	}

	return &Client{api: client, bucket: opts.Bucket, log: logger.With("module", "remote")}, nil
}

// Object is the result of Get: the body stream plus the attributes the
// writer needs.
type Object struct {
	Body         io.ReadCloser
	LastModified time.Time
	Size         int64
}

// Get fetches an object body. Transient failures are retried with capped
// exponential backoff; not-found, bucket-not-found and access-denied are
// returned immediately as their sentinels.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	var out *s3.GetObjectOutput

	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		out, err = c.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			return nil
		}
		err = classifyAPIError(err)
		if errors.Is(err, common.ErrNotFound) ||
			errors.Is(err, common.ErrBucketNotFound) ||
			errors.Is(err, common.ErrAccessDenied) {
			return err
		}
		c.log.Warn(ctx, "transient get failure, retrying", "key", key, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	obj := &Object{Body: out.Body}
	if out.LastModified != nil {
		obj.LastModified = *out.LastModified
	}
	if out.ContentLength != nil {
		obj.Size = *out.ContentLength
	}
	return obj, nil
}

// classifyAPIError maps provider errors onto the shared sentinels.
func classifyAPIError(err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %v", common.ErrNotFound, err)
	}
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noBucket) {
		return fmt.Errorf("%w: %v", common.ErrBucketNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", common.ErrNotFound, err)
		case "NoSuchBucket":
			return fmt.Errorf("%w: %v", common.ErrBucketNotFound, err)
		case "AccessDenied":
			return fmt.Errorf("%w: %v", common.ErrAccessDenied, err)
		}
	}
	return err
}
