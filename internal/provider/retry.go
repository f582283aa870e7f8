package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// retryBaseDelay scales the backoff; attempt n waits n*n*retryBaseDelay plus jitter.
var retryBaseDelay = time.Second

// statusError is a non-2xx answer worth retrying (5xx, 429).
type statusError struct {
	code       int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// backoff returns the wait before attempt (1-based). A server-provided
// Retry-After wins when present, capped at maxRetryAfter.
func backoff(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, maxRetryAfter)
	}
	base := time.Duration(attempt*attempt) * retryBaseDelay
	return base + time.Duration(rand.Int64N(int64(base/2+1)))
}

// parseRetryAfter understands the delta-seconds form only; HTTP dates are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// doWithRetry sends the request built by buildReq, retrying network failures,
// 5xx and 429 answers up to maxRetries times.
func doWithRetry(ctx context.Context, client *http.Client, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	var (
		lastErr error
		hint    time.Duration
	)
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, hint)
			logger.Warn("retrying request", "attempt", attempt+1, "backoff", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, hint = err, 0
			continue
		}
		if !retryable(resp.StatusCode) {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		se := &statusError{
			code:       resp.StatusCode,
			body:       string(body),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		lastErr, hint = se, se.retryAfter
	}
	return nil, fmt.Errorf("giving up after %d retries: %w", maxRetries, lastErr)
}
