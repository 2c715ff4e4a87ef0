package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// feedClient is shared by the public-feed helpers. The feeds are plain JSON
// over vanilla TLS; no browser fingerprint is needed for them.
var feedClient = &http.Client{Timeout: 30 * time.Second}

// fetchJSON fetches a public JSON document with bounded retries and decodes
// it into T. payload, when non-nil, is sent as a JSON body.
func fetchJSON[T any](ctx context.Context, method, uri string, payload any, maxRetries int) (*T, error) {
	var payloadBytes []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = b
	}

	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var body io.Reader
		if payloadBytes != nil {
			body = bytes.NewReader(payloadBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, uri, body)
		if err != nil {
			return nil, err
		}
		if payloadBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := feedClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		responseData, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			if isTransientStatus(resp.StatusCode) {
				continue
			}
			return nil, NewUpstreamError("fetch "+uri, resp.StatusCode, lastErr)
		}

		result := new(T)
		if err := json.Unmarshal(responseData, result); err != nil {
			return nil, NewUpstreamError("decode "+uri, resp.StatusCode, err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("feed request failed after %d tries: %w", maxRetries, lastErr)
}
