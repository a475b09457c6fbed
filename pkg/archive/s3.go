package archive

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
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config configures an object-store archive.
type S3Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`

	// Prefix is prepended to entry names, e.g. "club-a/usb/".
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// Region is optional; the SDK default chain applies when empty.
	Region string `mapstructure:"region" yaml:"region,omitempty"`

	// Endpoint selects an S3-compatible service such as localstack or MinIO.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`

	// Static credentials; the default chain applies when AccessKeyID is empty.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// S3Archive serves entries stored as objects.
type S3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 wraps an existing client.
func NewS3(client *s3.Client, cfg S3Config) *S3Archive {
	return &S3Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

// OpenS3 builds a client from cfg.
func OpenS3(ctx context.Context, cfg S3Config) (*S3Archive, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3(client, cfg), nil
}

func (a *S3Archive) key(kind Kind, id uint32) string {
	return a.prefix + EntryName(kind, id)
}

// Name implements Archive.
func (a *S3Archive) Name() string { return "s3://" + a.bucket + "/" + a.prefix }

// Lookup implements Archive.
func (a *S3Archive) Lookup(ctx context.Context, kind Kind, id uint32) ([]byte, bool, error) {
	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(kind, id)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3 get object: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3 read body: %w", err)
	}
	return data, true, nil
}

// Store implements Writer.
func (a *S3Archive) Store(ctx context.Context, kind Kind, id uint32, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(kind, id)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}

// Close implements Archive.
func (a *S3Archive) Close() error { return nil }
