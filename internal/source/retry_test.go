package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rana718/crashetl/internal/config"
)

func TestRetryTransportDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad query", http.StatusBadRequest)
	}))
	defer srv.Close()

	rt := NewRetryTransport(nil, config.Retry{MaxAttempts: 5, InitialBackoff: 0.001, BackoffMultiplier: 2, RetryableStatuses: []int{503}})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	require.Contains(t, httpErr.Body, "bad query")
	require.Equal(t, int32(1), calls.Load())
}

func TestRetryTransportStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rt := NewRetryTransport(nil, config.Retry{MaxAttempts: 10, InitialBackoff: 5, BackoffMultiplier: 2, RetryableStatuses: []int{503}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = rt.RoundTrip(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryTransportTimesOutEachAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
			return
		}
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	rt := NewRetryTransport(nil, config.Retry{MaxAttempts: 3, InitialBackoff: 0.001, BackoffMultiplier: 2})
	rt.AttemptTimeout = 100 * time.Millisecond

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, "[]", string(body))
	require.Equal(t, int32(3), calls.Load())
}

func TestRetryTransportGivesUpAfterTimedOutAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	rt := NewRetryTransport(nil, config.Retry{MaxAttempts: 2, InitialBackoff: 0.001, BackoffMultiplier: 2})
	rt.AttemptTimeout = 50 * time.Millisecond

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.ErrorIs(t, err, errAttemptTimeout)
}

func TestBackoffIsCapped(t *testing.T) {
	rt := NewRetryTransport(nil, config.Retry{MaxAttempts: 3, InitialBackoff: 10, BackoffMultiplier: 10})
	for attempt := 0; attempt < 6; attempt++ {
		require.LessOrEqual(t, rt.backoff(attempt), maxBackoff)
	}
}
