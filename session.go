package main

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	TLSProfile      profiles.ClientProfile
	UserAgent       string
	SecChUa         string
	FullVersionList string
	Platform        string
	Mobile          string
}

// DefaultProfile is the browser profile used for fresh sessions.
// Set to Chrome143Profile in tls_chrome143.go.
var DefaultProfile = Chrome143Profile

// sessionTimeoutSeconds bounds every provider call made on a session.
const sessionTimeoutSeconds = 15

// CookieScope selects how much of the bundle an attempt primes.
type CookieScope int

const (
	CookieScopeFull CookieScope = iota
	CookieScopeSsidOnly
)

func (s CookieScope) String() string {
	if s == CookieScopeSsidOnly {
		return "ssid"
	}
	return "full"
}

// ProviderEndpoints collects every URL the engine talks to. Tests point the
// whole struct at a local server.
type ProviderEndpoints struct {
	AuthorizationURL string
	AuthorizeURL     string
	UserinfoURL      string
	EntitlementsURL  string
	GeoURL           string
	PDBaseFormat     string
	VersionURL       string
	SkinsURLFormat   string
	IPEchoURL        string
	CompanionOrigin  string
	CompanionReferer string
}

// DefaultEndpoints returns the production endpoint set.
func DefaultEndpoints() *ProviderEndpoints {
	return &ProviderEndpoints{
		AuthorizationURL: "https://auth.riotgames.com/api/v1/authorization",
		AuthorizeURL:     "https://auth.riotgames.com/authorize",
		UserinfoURL:      "https://auth.riotgames.com/userinfo",
		EntitlementsURL:  "https://entitlements.auth.riotgames.com/api/token/v1",
		GeoURL:           "https://riot-geo.pas.si.riotgames.com/pas/v1/product/valorant",
		PDBaseFormat:     "https://pd.%s.a.pvp.net",
		VersionURL:       "https://valorant-api.com/v1/version",
		SkinsURLFormat:   "https://valorant-api.com/v1/weapons/skins?language=%s",
		IPEchoURL:        "https://api.ipify.org?format=json",
		CompanionOrigin:  "https://playvalorant.com",
		CompanionReferer: "https://playvalorant.com/opt_in",
	}
}

// SessionConfig carries the knobs shared by every session the engine builds.
type SessionConfig struct {
	Endpoints          *ProviderEndpoints
	Profile            *BrowserProfile
	ProxyURL           string
	InsecureSkipVerify bool
}

// SessionContext is one attempt's isolated HTTP identity: its own TLS
// fingerprint, cookie jar, and user agent. Nothing is shared between
// attempts, so a failed attempt cannot poison the next one's cookies.
type SessionContext struct {
	client    tls_client.HttpClient
	profile   *BrowserProfile
	userAgent string
	endpoints *ProviderEndpoints
}

// NewSessionContext builds a fresh session. userAgent may be empty, in which
// case the profile's own agent is presented.
func NewSessionContext(cfg SessionConfig, userAgent string) (*SessionContext, error) {
	profile := cfg.Profile
	if profile == nil {
		profile = DefaultProfile
	}
	endpoints := cfg.Endpoints
	if endpoints == nil {
		endpoints = DefaultEndpoints()
	}
	if userAgent == "" {
		userAgent = profile.UserAgent
	}

	client, err := newHTTPClient(cfg, profile.TLSProfile)
	if err != nil {
		return nil, fmt.Errorf("build session client: %w", err)
	}

	return &SessionContext{
		client:    client,
		profile:   profile,
		userAgent: userAgent,
		endpoints: endpoints,
	}, nil
}

func newHTTPClient(cfg SessionConfig, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	jar := tls_client.NewCookieJar()
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(sessionTimeoutSeconds),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
		tls_client.WithCookieJar(jar),
	}
	if cfg.ProxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(cfg.ProxyURL))
	}
	if cfg.InsecureSkipVerify {
		options = append(options, tls_client.WithInsecureSkipVerify())
	}
	return tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
}

// PrimeCookies installs the bundle's cookies before any request is made. The
// auth provider reads them both as host cookies and as wildcard cookies on
// the parent domain, so both forms are set.
func (s *SessionContext) PrimeCookies(bundle *CredentialBundle, scope CookieScope) error {
	u, err := url.Parse(s.endpoints.AuthorizeURL)
	if err != nil {
		return fmt.Errorf("parse authorize url: %w", err)
	}

	pairs := bundle.cookiePairs(scope)

	hostCookies := make([]*http.Cookie, 0, len(pairs))
	for _, p := range pairs {
		hostCookies = append(hostCookies, &http.Cookie{Name: p[0], Value: p[1], Path: "/"})
	}
	s.client.SetCookies(u, hostCookies)

	if parent := parentDomain(u.Hostname()); parent != "" {
		parentCookies := make([]*http.Cookie, 0, len(pairs))
		for _, p := range pairs {
			parentCookies = append(parentCookies, &http.Cookie{Name: p[0], Value: p[1], Domain: "." + parent, Path: "/"})
		}
		s.client.SetCookies(u, parentCookies)
	}
	return nil
}

// parentDomain returns the registrable parent of a subdomain host, so
// "auth.riotgames.com" gives "riotgames.com". IPs and bare domains give "".
func parentDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[1:], ".")
}
