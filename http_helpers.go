package main

import (
	"context"
	"fmt"
	"io"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// maxTransientRetries bounds the retry loop for one logical HTTP call.
const maxTransientRetries = 3

// transientRetryBase is the first backoff step; each retry doubles it.
const transientRetryBase = 500 * time.Millisecond

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}

// isTransientStatus reports whether a status is worth retrying: server-side
// failures, rate limiting, and the auth service's occasional 409.
func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusConflict || status >= 500
}

// doSessionRequest sends one logical request with bounded retries on
// transient statuses and retryable transport errors. The build closure makes
// a fresh request each try since bodies cannot be replayed. The final
// response is returned whatever its status; classification is the caller's
// job.
func doSessionRequest(ctx context.Context, client tls_client.HttpClient, build func() (*http.Request, error)) (int, []byte, http.Header, error) {
	var lastErr error

	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * transientRetryBase
			select {
			case <-ctx.Done():
				return 0, nil, nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := build()
		if err != nil {
			return 0, nil, nil, err
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if IsRetryableError(err) && ctx.Err() == nil {
				continue
			}
			return 0, nil, nil, err
		}

		body, err := readResponseBody(resp)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if isTransientStatus(resp.StatusCode) && attempt < maxTransientRetries {
			lastErr = fmt.Errorf("transient status %d", resp.StatusCode)
			continue
		}

		return resp.StatusCode, body, resp.Header, nil
	}

	return 0, nil, nil, fmt.Errorf("request failed after %d retries: %w", maxTransientRetries, lastErr)
}
