package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUpstreamErrorWrapping(t *testing.T) {
	cause := errors.New("entitlements_token missing from response")
	err := NewUpstreamError("entitlements", 200, cause)

	if !IsUpstreamError(err) {
		t.Error("NewUpstreamError result must satisfy IsUpstreamError")
	}
	if !errors.Is(err, cause) {
		t.Error("upstream error must unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "status 200") {
		t.Errorf("error text is missing the status: %s", err.Error())
	}

	wrapped := fmt.Errorf("run failed: %w", err)
	if !IsUpstreamError(wrapped) {
		t.Error("IsUpstreamError must see through wrapping")
	}
}

func TestUserHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"no credentials", fmt.Errorf("user 1: %w", ErrNoCredentials), "capture a fresh login"},
		{"invalid", fmt.Errorf("user 1: %w", ErrInvalidCredentials), "missing its ssid cookie"},
		{"challenge", fmt.Errorf("user 1: %w", ErrChallengeBlocked), "bot challenges"},
		{"expired", fmt.Errorf("user 1: %w", ErrCredentialsExpired), "sign in on the website again"},
		{"storefront", fmt.Errorf("shard ap: %w", ErrStorefrontForbidden), "storefront refused"},
		{"upstream", NewUpstreamError("geo affinity", 502, errors.New("bad gateway")), "retry in a little while"},
		{"unknown", errors.New("disk full"), "see the log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserHint(tt.err)
			if tt.want == "" {
				if got != "" {
					t.Errorf("hint for nil\ngot:  %q\nwant: empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("hint\ngot:  %q\nwant substring: %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(errors.New("dial tcp: connection refused")) {
		t.Error("connection refused must be retryable")
	}
	if !IsRetryableError(errors.New("unexpected EOF")) {
		t.Error("EOF must be retryable")
	}
	if IsRetryableError(errors.New("invalid character '<'")) {
		t.Error("parse failures are not retryable")
	}
	if IsRetryableError(nil) {
		t.Error("nil is not retryable")
	}
}

func TestIsTransientStatus(t *testing.T) {
	for _, status := range []int{429, 409, 500, 502, 503} {
		if !isTransientStatus(status) {
			t.Errorf("status %d must be transient", status)
		}
	}
	for _, status := range []int{200, 303, 400, 401, 403, 404} {
		if isTransientStatus(status) {
			t.Errorf("status %d must not be transient", status)
		}
	}
}
