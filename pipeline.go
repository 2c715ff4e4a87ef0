package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"golang.org/x/sync/singleflight"
)

// clientPlatformJSON matches the desktop client's platform declaration; the
// player-data edge rejects requests without its base64 form.
const clientPlatformJSON = `{"platformType": "PC", "platformOS": "Windows", "platformOSVersion": "10.0.19042.1.256.64bit", "platformChipset": "Unknown"}`

// clientPlatformToken returns the X-Riot-ClientPlatform header value.
func clientPlatformToken() string {
	return base64.StdEncoding.EncodeToString([]byte(clientPlatformJSON))
}

// versionCacheTTL keeps the public version feed from being hit on every run.
const versionCacheTTL = 5 * time.Minute

type versionCache struct {
	mu      sync.Mutex
	group   singleflight.Group
	value   string
	fetched time.Time
	now     func() time.Time
}

func newVersionCache() *versionCache {
	return &versionCache{now: time.Now}
}

func (c *versionCache) get(fetch func() (string, error)) (string, error) {
	c.mu.Lock()
	if c.value != "" && c.now().Sub(c.fetched) < versionCacheTTL {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("version", func() (any, error) {
		value, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.value = value
		c.fetched = c.now()
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// fetchEntitlements exchanges the access token for an entitlements token on
// the winning session.
func (c *StoreClient) fetchEntitlements(ctx context.Context, auth *AuthSession) (string, error) {
	session := auth.Session
	status, body, _, err := doSessionRequest(ctx, session.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, session.endpoints.EntitlementsURL, bytes.NewReader([]byte("{}")))
		if err != nil {
			return nil, err
		}
		req.Header = session.bearerHeaders(auth.Tokens.AccessToken, true)
		return req, nil
	})
	if err != nil {
		return "", NewUpstreamError("entitlements", 0, err)
	}
	if status != http.StatusOK {
		return "", NewUpstreamError("entitlements", status, errors.New("token exchange refused"))
	}

	var payload struct {
		EntitlementsToken string `json:"entitlements_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", NewUpstreamError("entitlements", status, err)
	}
	if payload.EntitlementsToken == "" {
		return "", NewUpstreamError("entitlements", status, errors.New("entitlements_token missing from response"))
	}
	return payload.EntitlementsToken, nil
}

// resolveIdentity returns the player id, preferring the bundle's stored one
// and falling back to the userinfo endpoint.
func (c *StoreClient) resolveIdentity(ctx context.Context, auth *AuthSession) (string, error) {
	if auth.Spec.Bundle != nil && auth.Spec.Bundle.PUUID != "" {
		return auth.Spec.Bundle.PUUID, nil
	}

	session := auth.Session
	status, body, _, err := doSessionRequest(ctx, session.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, session.endpoints.UserinfoURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header = session.bearerHeaders(auth.Tokens.AccessToken, false)
		return req, nil
	})
	if err != nil {
		return "", NewUpstreamError("userinfo", 0, err)
	}
	if status != http.StatusOK {
		return "", NewUpstreamError("userinfo", status, errors.New("identity lookup refused"))
	}

	var payload struct {
		Sub string `json:"sub"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", NewUpstreamError("userinfo", status, err)
	}
	if payload.Sub == "" {
		return "", NewUpstreamError("userinfo", status, errors.New("sub missing from response"))
	}
	return payload.Sub, nil
}

// resolveShard asks the geo service which shard serves this account.
func (c *StoreClient) resolveShard(ctx context.Context, auth *AuthSession) (string, error) {
	payload, err := json.Marshal(map[string]string{"id_token": auth.Tokens.IDToken})
	if err != nil {
		return "", err
	}

	session := auth.Session
	status, body, _, err := doSessionRequest(ctx, session.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, session.endpoints.GeoURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header = session.bearerHeaders(auth.Tokens.AccessToken, true)
		return req, nil
	})
	if err != nil {
		return "", NewUpstreamError("geo affinity", 0, err)
	}
	if status != http.StatusOK {
		return "", NewUpstreamError("geo affinity", status, errors.New("affinity lookup refused"))
	}

	var geo struct {
		Affinities struct {
			Live string `json:"live"`
		} `json:"affinities"`
	}
	if err := json.Unmarshal(body, &geo); err != nil {
		return "", NewUpstreamError("geo affinity", status, err)
	}
	if geo.Affinities.Live == "" {
		return "", NewUpstreamError("geo affinity", status, errors.New("live affinity missing from response"))
	}
	return geo.Affinities.Live, nil
}

type versionFeed struct {
	Data struct {
		RiotClientVersion string `json:"riotClientVersion"`
	} `json:"data"`
	RiotClientVersion string `json:"riotClientVersion"`
}

// clientVersion returns the current client build string from the public
// version feed, cached for a short interval.
func (c *StoreClient) clientVersion(ctx context.Context) (string, error) {
	return c.versions.get(func() (string, error) {
		feed, err := fetchJSON[versionFeed](ctx, "GET", c.endpoints.VersionURL, nil, 3)
		if err != nil {
			return "", err
		}
		if v := feed.Data.RiotClientVersion; v != "" {
			return v, nil
		}
		if feed.RiotClientVersion != "" {
			return feed.RiotClientVersion, nil
		}
		return "", NewUpstreamError("client version", 0, errors.New("riotClientVersion missing from feed"))
	})
}

// bearerHeaders is the header set for authority endpoints once tokens exist.
func (s *SessionContext) bearerHeaders(accessToken string, withBody bool) http.Header {
	h := http.Header{
		"Authorization":   {"Bearer " + accessToken},
		"User-Agent":      {s.userAgent},
		"Accept":          {"application/json"},
		"Accept-Encoding": {"gzip, deflate, br"},
		http.HeaderOrderKey: {
			"Authorization",
			"Content-Type",
			"User-Agent",
			"Accept",
			"Accept-Encoding",
			"Cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if withBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}
