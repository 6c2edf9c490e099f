// Package awsutil builds S3 clients and transfer helpers shared by the
// artifact mirror and delivery staging.
package awsutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const defaultRegion = "us-west-2"

// Options configures an S3 client.
type Options struct {
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Config returns the aws.Config for o. Without static keys requests are sent
// anonymously, which suffices for public buckets.
func (o Options) Config() aws.Config {
	region := o.Region
	if region == "" {
		region = defaultRegion
	}
	cfg := aws.Config{Region: region}
	if o.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(o.AccessKeyID, o.SecretAccessKey, o.SessionToken))
	} else {
		cfg.Credentials = aws.AnonymousCredentials{}
	}
	return cfg
}

// NewClient builds an S3 client honouring a custom endpoint and path style.
func NewClient(o Options) *s3.Client {
	return s3.NewFromConfig(o.Config(), func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.PathStyle
	})
}

// Downloader is the subset of manager.Downloader used here.
type Downloader interface {
	Download(ctx context.Context, w io.WriterAt, input *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

// Uploader is the subset of manager.Uploader used here.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// NewDownloader wraps client in a concurrent ranged downloader.
func NewDownloader(client *s3.Client) Downloader { return manager.NewDownloader(client) }

// NewUploader wraps client in a multipart uploader.
func NewUploader(client *s3.Client) Uploader { return manager.NewUploader(client) }

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// ParseURL splits s3://bucket/key.
func ParseURL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url needs a bucket and a key: %s", raw)
	}
	return u.Host, key, nil
}
