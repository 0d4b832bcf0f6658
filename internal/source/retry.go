package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/Rana718/crashetl/internal/config"
)

const maxBackoff = 30 * time.Second

// HTTPError is returned for non-retryable 4xx/5xx responses.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Status, e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

// RetryTransport retries idempotent requests on timeouts and retryable statuses
// with full-jitter exponential backoff. AttemptTimeout bounds each attempt,
// body read included; the request context bounds the whole exchange.
type RetryTransport struct {
	Base           http.RoundTripper
	Cfg            config.Retry
	AttemptTimeout time.Duration

	mu     sync.Mutex
	jitter *rand.Rand
}

func NewRetryTransport(base http.RoundTripper, cfg config.Retry) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{
		Base:   base,
		Cfg:    cfg,
		jitter: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Cfg.MaxAttempts <= 1 {
		return t.attempt(req)
	}

	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		return t.Base.RoundTrip(req)
	}

	var lastErr error
	var lastResp *http.Response

	for attempt := 0; attempt < t.Cfg.MaxAttempts; attempt++ {
		resp, err := t.attempt(req)

		if err != nil {
			if !retryableNetError(err) && !errors.Is(err, errAttemptTimeout) {
				closeBody(lastResp)
				return nil, err
			}
			lastErr = err
		} else {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				closeBody(lastResp)
				return resp, nil
			}

			if !slices.Contains(t.Cfg.RetryableStatuses, resp.StatusCode) {
				closeBody(lastResp)
				if resp.StatusCode >= 400 {
					body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
					resp.Body.Close()
					return nil, &HTTPError{
						StatusCode: resp.StatusCode,
						Status:     resp.Status,
						Body:       string(body),
					}
				}
				return resp, nil
			}

			closeBody(lastResp)
			lastResp = resp
		}

		if ctxErr := req.Context().Err(); ctxErr != nil {
			closeBody(lastResp)
			return nil, ctxErr
		}

		if attempt < t.Cfg.MaxAttempts-1 {
			select {
			case <-req.Context().Done():
				closeBody(lastResp)
				return nil, req.Context().Err()
			case <-time.After(t.backoff(attempt)):
			}
		}
	}

	// Exhausted: hand back the last error status so the caller reports it.
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, fmt.Errorf("retry transport failed after %d attempts: %w", t.Cfg.MaxAttempts, lastErr)
}

var errAttemptTimeout = errors.New("attempt timed out")

func (t *RetryTransport) attempt(req *http.Request) (*http.Response, error) {
	if t.AttemptTimeout <= 0 {
		return t.Base.RoundTrip(req.Clone(req.Context()))
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.AttemptTimeout)
	resp, err := t.Base.RoundTrip(req.Clone(ctx))
	if err != nil {
		timedOut := ctx.Err() != nil && req.Context().Err() == nil
		cancel()
		if timedOut {
			return nil, fmt.Errorf("%w after %s: %w", errAttemptTimeout, t.AttemptTimeout, err)
		}
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the attempt context once the caller is done reading.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (t *RetryTransport) backoff(attempt int) time.Duration {
	base := time.Duration(t.Cfg.InitialBackoff * float64(time.Second))
	ceiling := time.Duration(float64(base) * math.Pow(t.Cfg.BackoffMultiplier, float64(attempt)))
	if ceiling > maxBackoff {
		ceiling = maxBackoff
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Duration(t.jitter.Float64() * float64(ceiling))
}

func retryableNetError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}
