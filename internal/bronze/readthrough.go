package bronze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Every external call in the system goes through Through (or a
// specialization of it): check the store, call on miss under the retry
// policy, write the result, return it. Nothing calls an external service
// directly.

// PermanentError marks a failure that retrying cannot fix: a 404, a model
// rejecting its input. It surfaces immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the read-through wrapper will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

const (
	maxAttempts   = 4
	baseBackoff   = 500 * time.Millisecond
	maxBackoff    = 15 * time.Second
	clientTimeout = 30 * time.Second
)

// Through resolves a key through the store: on hit the cached bytes come
// back without invoking call; on miss, call runs under a bounded
// exponential-backoff retry policy and its result is written under the key
// before being returned. Transient failures (timeouts, connection resets,
// 429s, 5xx) are retried; anything wrapped in Permanent is not.
func Through(ctx context.Context, store *Store, k Key, call func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if store.Exists(k) {
		return store.Read(k)
	}

	var out []byte
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(baseBackoff))
	backoff = retry.WithCappedDuration(maxBackoff, backoff)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := call(ctx)
		if err != nil {
			return classify(err)
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := store.Write(k, out); err != nil {
		return nil, err
	}
	slog.Debug("bronze miss filled", "key", k.String(), "bytes", len(out))
	return out, nil
}

// classify decides retryability. Permanent wrappers and context
// cancellations pass through; network-shaped errors are retried.
func classify(err error) error {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.RetryableError(err)
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	}
	// Unknown failure shape: assume transient, the attempt cap bounds us.
	return retry.RetryableError(err)
}

// HTTPStatusError is a non-2xx response from an upstream.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// Retryable reports whether the status is worth another attempt: 429 and
// server errors are, other 4xx are not.
func (e *HTTPStatusError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// FetchURL is the HTTP GET specialization of Through: the response body for
// the URL, cached under the key.
func FetchURL(ctx context.Context, store *Store, client *http.Client, k Key, url string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: clientTimeout}
	}
	return Through(ctx, store, k, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &HTTPStatusError{URL: url, Status: resp.StatusCode}
		}
		return io.ReadAll(resp.Body)
	})
}
