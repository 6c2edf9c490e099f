package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSendsOnceByDefault(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), srv.Client(), srv.URL, "", Retry{})
	require.ErrorContains(t, err, "503")
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eonorm-test", r.Header.Get("User-Agent"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, "payload")
	}))
	defer srv.Close()

	resp, err := Get(context.Background(), srv.Client(), srv.URL, "eonorm-test", Retry{Attempts: 3, Delay: time.Millisecond})
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestGetDoesNotRetryPermanentStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such granule", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Get(context.Background(), srv.Client(), srv.URL, "", Retry{Attempts: 5, Delay: time.Millisecond})
	require.ErrorContains(t, err, "no such granule")
	assert.EqualValues(t, 1, calls.Load())
}

func TestGetStopsOnCancellation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Get(ctx, srv.Client(), srv.URL, "", Retry{Attempts: 5, Delay: time.Hour})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}
