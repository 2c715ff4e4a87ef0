package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for the failure kinds callers branch on. Everything the
// engine returns wraps one of these (or is an *UpstreamError), so callers
// can classify with errors.Is / errors.As without string matching.
var (
	// ErrInvalidCredentials indicates a bundle that cannot possibly work:
	// the session cookie is missing. No network call is made for these.
	ErrInvalidCredentials = errors.New("credential bundle has no ssid cookie")

	// ErrCredentialsExpired indicates every reauth attempt was rejected
	// without a bot challenge. The stored session cookies are stale.
	ErrCredentialsExpired = errors.New("all reauth attempts rejected: session cookies expired")

	// ErrChallengeBlocked indicates at least one attempt was answered with a
	// bot-challenge page. Challenges are reported, never solved.
	ErrChallengeBlocked = errors.New("provider answered with a bot challenge")

	// ErrNoCredentials indicates no record exists for the user in any store.
	ErrNoCredentials = errors.New("no credentials on record")

	// ErrStorefrontForbidden indicates the authority accepted the session but
	// the storefront refused it with 403. Distinct from expiry: the tokens
	// were freshly minted.
	ErrStorefrontForbidden = errors.New("storefront rejected the session with 403")
)

// =============================================================================
// Upstream Errors
// =============================================================================

// UpstreamError represents a provider or public-feed response that could not
// be used: unexpected status, missing field, or unparseable body.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps a provider failure with the operation that hit it.
func NewUpstreamError(op string, status int, err error) error {
	return &UpstreamError{Op: op, Status: status, Err: err}
}

// IsUpstreamError checks if the error is an upstream failure.
func IsUpstreamError(err error) bool {
	if err == nil {
		return false
	}
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// UserHint maps an engine error to a short remediation line safe to show the
// end user. It never contains cookie or token material.
func UserHint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredentials):
		return "no cookie bundle is saved for this user; capture a fresh login first"
	case errors.Is(err, ErrInvalidCredentials):
		return "the saved bundle is missing its ssid cookie; re-capture it from a logged-in browser"
	case errors.Is(err, ErrChallengeBlocked):
		return "the auth provider is serving bot challenges; wait and retry, or change the egress network path"
	case errors.Is(err, ErrCredentialsExpired):
		return "the session cookies have expired; sign in on the website again and re-capture them"
	case errors.Is(err, ErrStorefrontForbidden):
		return "authentication worked but the storefront refused the account; it may be restricted on this shard"
	case IsUpstreamError(err):
		return "the provider or a public feed misbehaved; retry in a little while"
	default:
		return "unexpected failure; see the log for details"
	}
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate retryable errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is temporary and worth retrying on the
// same session.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
