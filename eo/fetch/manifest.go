package fetch

import (
	"context"
	"fmt"
	"io"
	"os"

	internalhttp "github.com/example/go-eonorm/eo/internal/http"
)

// LoadManifest reads a JSON delivery manifest from a local path or an
// https:// URL.
func (s *Stager) LoadManifest(ctx context.Context, src string) (Delivery, error) {
	var r io.ReadCloser
	switch scheme(src) {
	case "http", "https":
		resp, err := internalhttp.Get(ctx, s.client, src, s.userAgent, s.retry)
		if err != nil {
			return Delivery{}, fmt.Errorf("fetch: manifest: %w", err)
		}
		r = resp.Body
	default:
		f, err := os.Open(src)
		if err != nil {
			return Delivery{}, fmt.Errorf("fetch: open manifest: %w", err)
		}
		r = f
	}
	defer r.Close()

	var d Delivery
	if err := internalhttp.DecodeJSON(r, &d); err != nil {
		return Delivery{}, fmt.Errorf("fetch: manifest %s: %w", src, err)
	}
	if d.Product == "" || len(d.Files) == 0 {
		return Delivery{}, fmt.Errorf("fetch: manifest %s needs a product and files", src)
	}
	return d, nil
}
