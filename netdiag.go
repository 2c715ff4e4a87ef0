package main

import (
	"context"
	"time"
)

const ipEchoTimeout = 6 * time.Second

type ipifyResponse struct {
	IP string `json:"ip"`
}

// fetchPublicIP asks the echo service what address our traffic egresses
// from. Diagnostic only; callers mask it before display.
func fetchPublicIP(ctx context.Context, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ipEchoTimeout)
	defer cancel()

	resp, err := fetchJSON[ipifyResponse](ctx, "GET", uri, nil, 2)
	if err != nil {
		return "", err
	}
	return resp.IP, nil
}
