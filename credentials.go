package main

import (
	"context"
	"fmt"
	"strings"
)

// CredentialSource loads one user's bundle from a backing store. Absence of
// a record is reported by wrapping ErrNoCredentials.
type CredentialSource interface {
	Load(ctx context.Context, userID string) (*CredentialBundle, error)
}

// CredentialOrigin tags which store a bundle came from.
type CredentialOrigin string

const (
	OriginDB   CredentialOrigin = "db"
	OriginFile CredentialOrigin = "file"
)

// Cookie names of the auth domain, in the order they are primed.
const (
	cookieSSID = "ssid"
	cookieCLID = "clid"
	cookieSub  = "sub"
	cookieCSID = "csid"
	cookieTDID = "tdid"
)

// CredentialBundle is one user's captured cookie material plus the metadata
// stored next to it. Only ssid is mandatory; the rest improve the odds of a
// silent reauth.
type CredentialBundle struct {
	SSID      string
	CLID      string
	Sub       string
	CSID      string
	TDID      string
	PUUID     string
	UserAgent string
	Origin    CredentialOrigin
}

// Accepted keys per field, highest precedence first. Covers the prefixed
// flat-file spelling, the bare spelling, and the lowercase capture-payload
// spelling.
var bundleFieldKeys = map[string][]string{
	cookieSSID: {"RIOT_SSID", "SSID", "ssid"},
	cookieCLID: {"RIOT_CLID", "CLID", "clid"},
	cookieSub:  {"RIOT_SUB", "SUB", "sub"},
	cookieCSID: {"RIOT_CSID", "CSID", "csid"},
	cookieTDID: {"RIOT_TDID", "TDID", "tdid"},
	"puuid":    {"RIOT_PUUID", "PUUID", "puuid"},
}

// normalizeBundle builds a bundle from a raw key/value map. Unknown keys are
// ignored; values go through sanitizeValue. The returned bundle may still be
// invalid (no ssid) and must be checked with Valid before use.
func normalizeBundle(raw map[string]string) *CredentialBundle {
	pick := func(field string) string {
		for _, key := range bundleFieldKeys[field] {
			if v := sanitizeValue(raw[key]); v != "" {
				return v
			}
		}
		return ""
	}

	return &CredentialBundle{
		SSID:  pick(cookieSSID),
		CLID:  pick(cookieCLID),
		Sub:   pick(cookieSub),
		CSID:  pick(cookieCSID),
		TDID:  pick(cookieTDID),
		PUUID: pick("puuid"),
	}
}

// sanitizeValue strips whitespace and one layer of surrounding quotes.
// Capture helpers and hand-edited cookie files both tend to quote values.
func sanitizeValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			v = v[1 : len(v)-1]
		}
	}
	return strings.TrimSpace(v)
}

// Valid reports whether the bundle can be attempted at all.
func (b *CredentialBundle) Valid() bool {
	return b != nil && b.SSID != ""
}

// cookiePairs returns name/value pairs to prime for the given scope, in a
// fixed order. Empty values are dropped.
func (b *CredentialBundle) cookiePairs(scope CookieScope) [][2]string {
	all := [][2]string{
		{cookieSSID, b.SSID},
		{cookieCLID, b.CLID},
		{cookieSub, b.Sub},
		{cookieCSID, b.CSID},
		{cookieTDID, b.TDID},
	}
	if scope == CookieScopeSsidOnly {
		all = all[:1]
	}
	pairs := make([][2]string, 0, len(all))
	for _, p := range all {
		if p[1] != "" {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// Summary renders the bundle masked for logs and diagnostic reports.
func (b *CredentialBundle) Summary() string {
	if b == nil {
		return "<absent>"
	}
	return fmt.Sprintf("ssid=%s clid=%s sub=%s csid=%s tdid=%s puuid=%s ua=%s",
		maskValue(b.SSID), maskValue(b.CLID), maskValue(b.Sub),
		maskValue(b.CSID), maskValue(b.TDID), maskValue(b.PUUID),
		maskValue(b.UserAgent))
}

// maskValue keeps the first and last four characters of a secret. Values of
// eight characters or fewer carry no real entropy to hide and pass through.
func maskValue(v string) string {
	if v == "" {
		return "<none>"
	}
	if len(v) <= 8 {
		return v
	}
	return v[:4] + "..." + v[len(v)-4:]
}

// maskIP blanks the third octet of an IPv4 address. Anything else (IPv6,
// hostnames) passes through untouched.
func maskIP(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return fmt.Sprintf("%s.%s.*.%s", parts[0], parts[1], parts[3])
}
