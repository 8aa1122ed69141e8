package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Connection stores datasets as objects in an S3 or MinIO bucket.
type S3Connection struct {
	name       string
	client     *s3.Client
	bucket     string
	pathPrefix string
}

// S3Config holds S3/MinIO connection configuration.
type S3Config struct {
	// Endpoint for MinIO (e.g. "minio.internal:9000"). Leave empty for
	// AWS S3.
	Endpoint string

	// Bucket name.
	Bucket string

	// Region (required for AWS S3, optional for MinIO).
	Region string

	// Credentials.
	AccessKeyID     string
	SecretAccessKey string

	// UseSSL enables HTTPS for custom endpoints.
	UseSSL bool

	// PathPrefix is prepended to all dataset paths.
	PathPrefix string
}

// NewS3Connection creates a new S3/MinIO-backed connection.
func NewS3Connection(name string, cfg *S3Config) (*S3Connection, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1" // MinIO default
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint := fmt.Sprintf("%s://%s", scheme, cfg.Endpoint)

		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3Connection{
		name:       name,
		client:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:     cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
	}, nil
}

// Name returns the connection name.
func (c *S3Connection) Name() string {
	return c.name
}

// ResolvePath returns the full object key for a dataset path.
func (c *S3Connection) ResolvePath(relativePath string) string {
	if c.pathPrefix == "" {
		return relativePath
	}
	return c.pathPrefix + "/" + relativePath
}

// Validate checks the bucket is reachable.
func (c *S3Connection) Validate(ctx context.Context) error {
	_, err := c.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("connection %q: head bucket %s: %w", c.name, c.bucket, err)
	}
	return nil
}

// Exists reports whether the object exists.
func (c *S3Connection) Exists(ctx context.Context, relativePath string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.ResolvePath(relativePath)),
	})
	if err != nil {
		var notFound *s3types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object: %w", err)
	}
	return true, nil
}

// Open retrieves the object body.
func (c *S3Connection) Open(ctx context.Context, relativePath string) (io.ReadCloser, error) {
	result, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.ResolvePath(relativePath)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, relativePath)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return result.Body, nil
}

// Create returns a writer that uploads the object on Close. S3 has no
// partial-write mode, so the body is buffered and sent in one PutObject.
func (c *S3Connection) Create(ctx context.Context, relativePath string) (io.WriteCloser, error) {
	return &s3Writer{
		ctx:  ctx,
		conn: c,
		key:  c.ResolvePath(relativePath),
	}, nil
}

type s3Writer struct {
	ctx  context.Context
	conn *S3Connection
	key  string
	buf  bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	_, err := w.conn.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.conn.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(int64(w.buf.Len())),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}
