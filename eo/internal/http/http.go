// Package http fetches delivery files and manifests.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Retry says how often a GET is sent. The zero value sends it once.
type Retry struct {
	Attempts int
	// Delay is the wait before the second attempt. It doubles after that.
	Delay time.Duration
}

func (r Retry) wait(attempt int) time.Duration {
	return r.Delay << (attempt - 1)
}

// transient reports whether a status may clear on its own: throttling and
// gateway failures.
func transient(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get requests url and returns the 200 response. Transport failures and
// transient statuses are sent again per retry; any other status is an error
// quoting the start of the body. Cancellation ends the loop at once.
func Get(ctx context.Context, client *http.Client, url, userAgent string, retry Retry) (*http.Response, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}

		resp, err := client.Do(req)
		switch {
		case err == nil && resp.StatusCode == http.StatusOK:
			return resp, nil
		case err == nil:
			statusErr := statusError(resp)
			resp.Body.Close()
			if !transient(resp.StatusCode) {
				return nil, statusErr
			}
			err = statusErr
		case ctx.Err() != nil:
			return nil, err
		}
		if attempt >= retry.Attempts {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry.wait(attempt)):
		}
	}
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("http %s: %s", resp.Status, data)
}

// DecodeJSON decodes one JSON document from r into v. Unknown fields are an
// error.
func DecodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
