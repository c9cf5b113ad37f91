// Package archive keeps raw copies of verified provider webhooks for audits.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
)

type Archiver interface {
	Archive(ctx context.Context, eventID, eventType string, receivedAt time.Time, body []byte) error
}

// ObjectPutter is the subset of the S3 client used by S3Archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client ObjectPutter
	bucket string
}

func NewS3Archiver(client ObjectPutter, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// S3Options configures an S3 or S3-compatible endpoint.
type S3Options struct {
	URL       string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client builds a client for AWS or an S3-compatible service when URL is set.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load S3 config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.URL != "" {
			o.BaseEndpoint = aws.String(opts.URL)
			o.UsePathStyle = true
		}
	}), nil
}

func (a *S3Archiver) Archive(ctx context.Context, eventID, eventType string, receivedAt time.Time, body []byte) error {
	key := ObjectKey(eventID, receivedAt)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"event-type": eventType},
	})
	if err != nil {
		return fmt.Errorf("archive webhook %s to s3://%s/%s: %w", eventID, a.bucket, key, err)
	}
	return nil
}

// ObjectKey partitions archived events by UTC day.
func ObjectKey(eventID string, receivedAt time.Time) string {
	return path.Join("webhooks", receivedAt.UTC().Format("2006/01/02"), eventID+".json")
}

// NoopArchiver drops everything. Used when no bucket is configured.
type NoopArchiver struct{}

func (NoopArchiver) Archive(context.Context, string, string, time.Time, []byte) error { return nil }

// removeDisableGzip is a workaround for S3 signature errors with some S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
