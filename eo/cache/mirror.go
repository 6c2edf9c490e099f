package cache

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/example/go-eonorm/eo/internal/awsutil"
)

// S3Options configures the client behind an S3Mirror.
type S3Options = awsutil.Options

// Mirror is a remote copy of an artifact directory.
type Mirror interface {
	// Fetch copies name into dst and reports whether the mirror had it.
	Fetch(ctx context.Context, name, dst string) (bool, error)
	// Store publishes the local file src under name.
	Store(ctx context.Context, name, src string) error
}

// S3Mirror keeps artifacts under s3://Bucket/Prefix/.
type S3Mirror struct {
	Bucket string
	Prefix string

	downloader awsutil.Downloader
	uploader   awsutil.Uploader
}

// NewS3Mirror builds a mirror over a fresh S3 client.
func NewS3Mirror(bucket, prefix string, opts S3Options) (*S3Mirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("cache: s3 mirror needs a bucket")
	}
	client := awsutil.NewClient(opts)
	return &S3Mirror{
		Bucket:     bucket,
		Prefix:     prefix,
		downloader: awsutil.NewDownloader(client),
		uploader:   awsutil.NewUploader(client),
	}, nil
}

func (m *S3Mirror) key(name string) string {
	if m.Prefix == "" {
		return name
	}
	return path.Join(m.Prefix, name)
}

// Fetch implements Mirror. A missing object is a miss, not an error.
func (m *S3Mirror) Fetch(ctx context.Context, name, dst string) (found bool, err error) {
	out, err := os.Create(dst)
	if err != nil {
		return false, fmt.Errorf("cache: create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			found, err = false, fmt.Errorf("cache: close %s: %w", dst, cerr)
		}
	}()
	_, err = m.downloader.Download(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(m.key(name)),
	})
	if err != nil {
		if awsutil.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("cache: s3 download %s: %w", name, err)
	}
	return true, nil
}

// Store implements Mirror.
func (m *S3Mirror) Store(ctx context.Context, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("cache: open %s: %w", src, err)
	}
	defer f.Close()
	if _, err := m.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(m.key(name)),
		Body:   f,
	}); err != nil {
		return fmt.Errorf("cache: s3 upload %s: %w", name, err)
	}
	return nil
}
