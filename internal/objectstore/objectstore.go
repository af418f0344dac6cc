// Package objectstore implements the Object Store Gateway (C1): a thin
// adapter over an S3-compatible bucket exposing list and get.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/shopmaze/invoicecore/internal/config"
	"github.com/shopmaze/invoicecore/internal/coretypes"
)

// Gateway is the Object Store Gateway. Connection is established once at
// construction; it does not cache listings or objects.
type Gateway struct {
	client *s3.Client
	bucket string
	prefix string
}

// New resolves credentials and builds a client against cfg's endpoint.
// Connection establishment (a HeadBucket probe) happens once, here; a
// failure here is coretypes.ErrFatal for callers that require the
// gateway at startup (the polling engine) but not for callers that can
// run without it (the session router).
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Gateway, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", coretypes.ErrFatal, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	g := &Gateway{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("%w: head bucket %s: %v", coretypes.ErrFatal, cfg.Bucket, err)
	}

	return g, nil
}

// List returns every object under the gateway's bucket and prefix,
// paginating internally. Iteration order is unspecified.
func (g *Gateway) List(ctx context.Context) ([]coretypes.ObjectSummary, error) {
	var out []coretypes.ObjectSummary

	var prefix *string
	if g.prefix != "" {
		prefix = aws.String(g.prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: prefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list objects: %v", coretypes.ErrTransport, err)
		}
		for _, obj := range page.Contents {
			out = append(out, coretypes.ObjectSummary{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
	}

	return out, nil
}

// Get fetches the full object bytes for key.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var apiErr smithy.APIError
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", coretypes.ErrNotFound, key)
		}
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", coretypes.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: get object %s: %v", coretypes.ErrTransport, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read object body %s: %v", coretypes.ErrTransport, key, err)
	}
	return data, nil
}
