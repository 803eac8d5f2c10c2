package ragcache

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Downloader is the production Downloader, reading tree objects out of a
// single S3 bucket. Grounded on teradata-labs-loom's bedrock client
// (pkg/llm/bedrock/client_sdk.go) for aws-sdk-go-v2 config construction;
// no repo in the pack does S3 object GETs directly, so the S3-specific
// call shape here follows the SDK's own idiom rather than a pack example.
type S3Downloader struct {
	client *s3.Client
	bucket string
}

// NewS3Downloader builds an S3Downloader using the default AWS credential
// chain (environment, shared config, IAM role) for the given region.
func NewS3Downloader(ctx context.Context, region, bucket string) (*S3Downloader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("ragcache: load AWS config: %w", err)
	}
	return &S3Downloader{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

// Download implements Downloader.
func (d *S3Downloader) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, d.bucket, key)
		}
		return nil, fmt.Errorf("ragcache: get s3://%s/%s: %w", d.bucket, key, err)
	}
	return out.Body, nil
}
