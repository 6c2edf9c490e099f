// Package fetch stages product deliveries from https:// or s3:// URLs onto
// local disk and unpacks archived products.
package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/example/go-eonorm/eo/internal/http"
	"github.com/example/go-eonorm/eo/internal/awsutil"
	"github.com/example/go-eonorm/internal/logging"
)

// S3Options configures the client used for s3:// files.
type S3Options = awsutil.Options

// File is one downloadable part of a delivery.
type File struct {
	URL          string `json:"url"`
	Name         string `json:"name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	ChecksumType string `json:"checksum_type,omitempty"`
}

// Delivery groups the files that make up one product.
type Delivery struct {
	Product string `json:"product"`
	Files   []File `json:"files"`
}

// FromURLs builds a delivery without checksums.
func FromURLs(product string, urls ...string) Delivery {
	d := Delivery{Product: product}
	for _, u := range urls {
		d.Files = append(d.Files, File{URL: u})
	}
	return d
}

// Progress reports bytes written for a single file.
type Progress struct {
	Product    string
	File       string
	URL        string
	Downloaded int64
	Total      int64
}

// ProgressFunc is invoked as bytes are written.
type ProgressFunc func(Progress)

// Stager downloads deliveries.
type Stager struct {
	client      *http.Client
	userAgent   string
	retry       internalhttp.Retry
	concurrency int
	verify      bool
	progress    ProgressFunc
	s3          awsutil.Downloader
	log         logging.Logger
}

// Option customises a Stager.
type Option func(*Stager) error

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Stager) error {
		if c == nil {
			return errors.New("fetch: http client is nil")
		}
		s.client = c
		return nil
	}
}

// WithUserAgent sets the User-Agent header of https requests.
func WithUserAgent(ua string) Option {
	return func(s *Stager) error {
		s.userAgent = ua
		return nil
	}
}

// WithRetries retries throttled or failed https requests up to attempts
// times. Requests are not retried by default.
func WithRetries(attempts int, base time.Duration) Option {
	return func(s *Stager) error {
		if attempts < 1 {
			return errors.New("fetch: retry attempts must be positive")
		}
		s.retry = internalhttp.Retry{Attempts: attempts, Delay: base}
		return nil
	}
}

// WithConcurrency sets how many files download in parallel.
func WithConcurrency(n int) Option {
	return func(s *Stager) error {
		if n < 1 {
			return errors.New("fetch: concurrency must be positive")
		}
		s.concurrency = n
		return nil
	}
}

// WithoutChecksum skips checksum verification.
func WithoutChecksum() Option {
	return func(s *Stager) error {
		s.verify = false
		return nil
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Stager) error {
		s.progress = fn
		return nil
	}
}

// WithS3 enables s3:// files.
func WithS3(o S3Options) Option {
	return func(s *Stager) error {
		s.s3 = awsutil.NewDownloader(awsutil.NewClient(o))
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Stager) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// New returns a Stager.
func New(opts ...Option) (*Stager, error) {
	s := &Stager{
		client:      http.DefaultClient,
		concurrency: 2,
		verify:      true,
		log:         logging.Noop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Stage downloads every file of d into destDir and returns the local paths
// in delivery order. Files that fail leave nothing behind.
func (s *Stager) Stage(ctx context.Context, d Delivery, destDir string) ([]string, error) {
	if destDir == "" {
		return nil, errors.New("fetch: destination directory is required")
	}
	if len(d.Files) == 0 {
		return nil, fmt.Errorf("fetch: %s has no files", d.Product)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("fetch: create destination directory: %w", err)
	}

	paths := make([]string, len(d.Files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, f := range d.Files {
		g.Go(func() error {
			p, err := s.stageFile(ctx, d.Product, destDir, f)
			if err != nil {
				return err
			}
			paths[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "delivery staged", logging.String("product", d.Product), logging.Int("files", len(paths)))
	return paths, nil
}

func (s *Stager) stageFile(ctx context.Context, product, destDir string, f File) (_ string, err error) {
	name, err := fileName(f)
	if err != nil {
		return "", err
	}
	final := filepath.Join(destDir, name)
	tmp := final + ".part"

	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("fetch: create temp file: %w", err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(tmp)
		}
	}()

	var h hash.Hash
	if s.verify {
		if h, err = newHash(f); err != nil {
			return "", err
		}
	}

	meta := Progress{Product: product, File: name, URL: f.URL, Total: f.Size}
	switch scheme(f.URL) {
	case "https", "http":
		err = s.download(ctx, out, h, meta)
	case "s3":
		err = s.downloadS3(ctx, out, h, meta)
	default:
		err = fmt.Errorf("fetch: unsupported url %q", f.URL)
	}
	if err != nil {
		return "", err
	}

	if h != nil {
		sum := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(sum, f.Checksum) {
			return "", fmt.Errorf("fetch: checksum mismatch for %s: expected %s got %s", name, f.Checksum, sum)
		}
	}
	if err = out.Close(); err != nil {
		return "", fmt.Errorf("fetch: close temp file: %w", err)
	}
	if err = os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("fetch: rename temp file: %w", err)
	}
	s.log.Debug(ctx, "file staged", logging.String("product", product), logging.String("file", name))
	return final, nil
}

func (s *Stager) download(ctx context.Context, out io.Writer, h hash.Hash, meta Progress) error {
	resp, err := internalhttp.Get(ctx, s.client, meta.URL, s.userAgent, s.retry)
	if err != nil {
		return fmt.Errorf("fetch: %s: %w", meta.File, err)
	}
	defer resp.Body.Close()
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); strings.Contains(ct, "text/html") {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("fetch: unexpected HTML response for %s: %s", meta.URL, strings.TrimSpace(string(preview)))
	}
	if resp.ContentLength >= 0 {
		meta.Total = resp.ContentLength
	}
	w := &progressWriter{dst: out, hasher: h, progress: s.progress, meta: meta}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("fetch: copy %s: %w", meta.File, err)
	}
	return nil
}

func (s *Stager) downloadS3(ctx context.Context, out *os.File, h hash.Hash, meta Progress) error {
	if s.s3 == nil {
		return fmt.Errorf("fetch: %s: s3 staging is not configured", meta.URL)
	}
	bucket, key, err := awsutil.ParseURL(meta.URL)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	n, err := s.s3.Download(ctx, out, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("fetch: s3 download %s: %w", meta.URL, err)
	}
	if h != nil {
		// Ranged parts arrive out of order, so hash the finished file.
		if _, err := out.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("fetch: rewind %s: %w", meta.File, err)
		}
		if _, err := io.Copy(h, out); err != nil {
			return fmt.Errorf("fetch: hash %s: %w", meta.File, err)
		}
	}
	if s.progress != nil {
		meta.Downloaded, meta.Total = n, n
		s.progress(meta)
	}
	return nil
}

func scheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func fileName(f File) (string, error) {
	if f.URL == "" {
		return "", errors.New("fetch: file missing URL")
	}
	name := f.Name
	if name == "" {
		if u, err := url.Parse(f.URL); err == nil {
			name = path.Base(u.Path)
		}
	}
	if name == "" || name == "." || name == "/" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("fetch: could not determine a file name for %s", f.URL)
	}
	return name, nil
}

func newHash(f File) (hash.Hash, error) {
	if f.Checksum == "" {
		return nil, nil
	}
	switch strings.ToLower(f.ChecksumType) {
	case "", "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("fetch: unsupported checksum type %q", f.ChecksumType)
	}
}

type progressWriter struct {
	dst      io.Writer
	hasher   hash.Hash
	progress ProgressFunc
	meta     Progress
}

func (w *progressWriter) Write(p []byte) (int, error) {
	if w.hasher != nil {
		w.hasher.Write(p)
	}
	n, err := w.dst.Write(p)
	if n > 0 {
		w.meta.Downloaded += int64(n)
		if w.progress != nil {
			w.progress(w.meta)
		}
	}
	return n, err
}
