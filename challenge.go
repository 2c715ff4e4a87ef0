package main

import (
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// challengeBodyMarkers are bot-challenge fingerprints seen on the auth edge.
// Matching one on a blocking status means the session was flagged, not that
// the cookies are bad. Challenges are only ever reported back to the caller.
var challengeBodyMarkers = []string{
	"cf-chl",
	"_cf_chl_opt",
	"cdn-cgi/challenge-platform",
	"cf-browser-verification",
	"Just a moment",
	"Attention Required! | Cloudflare",
	"challenge-error-text",
}

// IsChallengeResponse reports whether a response is a bot-challenge page
// rather than a real auth answer.
func IsChallengeResponse(status int, header http.Header, body []byte) bool {
	if status != http.StatusForbidden && status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return false
	}

	if header != nil && strings.EqualFold(header.Get("cf-mitigated"), "challenge") {
		return true
	}

	bodyStr := string(body)
	for _, marker := range challengeBodyMarkers {
		if strings.Contains(bodyStr, marker) {
			return true
		}
	}
	return false
}
