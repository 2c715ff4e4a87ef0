package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	http "github.com/bogdanfinn/fhttp"
)

// knownShards is the probe order for diagnosing affinity mismatches.
var knownShards = []string{"ap", "na", "eu", "kr", "pbe"}

// Storefront is the slice of the personal store response the engine uses.
type Storefront struct {
	SkinsPanelLayout SkinsPanelLayout `json:"SkinsPanelLayout"`
}

type SkinsPanelLayout struct {
	SingleItemOffers                           []string     `json:"SingleItemOffers"`
	SingleItemStoreOffers                      []StoreOffer `json:"SingleItemStoreOffers"`
	SingleItemOffersRemainingDurationInSeconds int64        `json:"SingleItemOffersRemainingDurationInSeconds"`
}

type StoreOffer struct {
	OfferID          string           `json:"OfferID"`
	IsDirectPurchase bool             `json:"IsDirectPurchase"`
	Cost             map[string]int64 `json:"Cost"`
	DiscountedCost   map[string]int64 `json:"DiscountedCost"`
	Rewards          []OfferReward    `json:"Rewards"`
}

type OfferReward struct {
	ItemTypeID string `json:"ItemTypeID"`
	ItemID     string `json:"ItemID"`
	Quantity   int64  `json:"Quantity"`
}

// pdCredentials is everything a player-data call needs besides the session.
type pdCredentials struct {
	shard        string
	puuid        string
	access       string
	entitlements string
	version      string
}

// fetchStorefront retrieves the personal storefront. The v3 surface is
// tried first; 404 and 405 mean the shard only answers on v2, anything else
// is a real answer. A 403 is surfaced as its own error since it means the
// freshly minted tokens were refused.
func (c *StoreClient) fetchStorefront(ctx context.Context, session *SessionContext, creds pdCredentials) (*Storefront, error) {
	base := fmt.Sprintf(c.endpoints.PDBaseFormat, creds.shard)

	v3 := base + "/store/v3/storefront/" + creds.puuid
	status, body, _, err := doSessionRequest(ctx, session.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v3, bytes.NewReader([]byte("{}")))
		if err != nil {
			return nil, err
		}
		req.Header = session.storeHeaders(creds, true)
		return req, nil
	})
	if err != nil {
		return nil, NewUpstreamError("storefront v3", 0, err)
	}

	if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
		c.logger.Log("storefront v3 unavailable (%d), falling back to v2", status)
		v2 := base + "/store/v2/storefront/" + creds.puuid
		status, body, _, err = doSessionRequest(ctx, session.client, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, v2, nil)
			if err != nil {
				return nil, err
			}
			req.Header = session.storeHeaders(creds, false)
			return req, nil
		})
		if err != nil {
			return nil, NewUpstreamError("storefront v2", 0, err)
		}
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusForbidden:
		return nil, fmt.Errorf("shard %s: %w", creds.shard, ErrStorefrontForbidden)
	default:
		return nil, NewUpstreamError("storefront", status, errors.New("unexpected answer"))
	}

	var front Storefront
	if err := json.Unmarshal(body, &front); err != nil {
		return nil, NewUpstreamError("storefront", status, err)
	}
	return &front, nil
}

// fetchWallet reads currency balances. The raw status comes back too so
// diagnostics can judge whether a shard accepts the tokens at all.
func (c *StoreClient) fetchWallet(ctx context.Context, session *SessionContext, creds pdCredentials) (map[string]int64, int, error) {
	uri := fmt.Sprintf(c.endpoints.PDBaseFormat, creds.shard) + "/store/v1/wallet/" + creds.puuid
	status, body, _, err := doSessionRequest(ctx, session.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		req.Header = session.storeHeaders(creds, false)
		return req, nil
	})
	if err != nil {
		return nil, statusNone, err
	}
	if status != http.StatusOK {
		return nil, status, nil
	}

	var payload struct {
		Balances map[string]int64 `json:"Balances"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, status, NewUpstreamError("wallet", status, err)
	}
	return payload.Balances, status, nil
}

// lookupPlayerName resolves the player's display identity.
func (c *StoreClient) lookupPlayerName(ctx context.Context, session *SessionContext, creds pdCredentials) (string, string, error) {
	uri := fmt.Sprintf(c.endpoints.PDBaseFormat, creds.shard) + "/name-service/v2/players"
	payload, err := json.Marshal([]string{creds.puuid})
	if err != nil {
		return "", "", err
	}

	status, body, _, err := doSessionRequest(ctx, session.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, uri, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header = session.storeHeaders(creds, true)
		return req, nil
	})
	if err != nil {
		return "", "", err
	}
	if status != http.StatusOK {
		return "", "", NewUpstreamError("name service", status, errors.New("lookup refused"))
	}

	var entries []struct {
		GameName string `json:"GameName"`
		TagLine  string `json:"TagLine"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return "", "", NewUpstreamError("name service", status, err)
	}
	if len(entries) == 0 {
		return "", "", NewUpstreamError("name service", status, errors.New("empty answer"))
	}
	return entries[0].GameName, entries[0].TagLine, nil
}

// ShardProbe is one row of the cross-shard diagnostic sweep.
type ShardProbe struct {
	Shard  string
	Status int
}

// probeShards asks every known shard's wallet endpoint which one accepts the
// tokens. Slow path, diagnostics only.
func (c *StoreClient) probeShards(ctx context.Context, session *SessionContext, creds pdCredentials) []ShardProbe {
	probes := make([]ShardProbe, 0, len(knownShards))
	for _, shard := range knownShards {
		shardCreds := creds
		shardCreds.shard = shard
		_, status, _ := c.fetchWallet(ctx, session, shardCreds)
		probes = append(probes, ShardProbe{Shard: shard, Status: status})
	}
	return probes
}

// storeHeaders is the player-data header set: bearer token, entitlements
// token, client version, and platform declaration.
func (s *SessionContext) storeHeaders(creds pdCredentials, withBody bool) http.Header {
	h := http.Header{
		"Authorization":           {"Bearer " + creds.access},
		"X-Riot-Entitlements-JWT": {creds.entitlements},
		"X-Riot-ClientVersion":    {creds.version},
		"X-Riot-ClientPlatform":   {clientPlatformToken()},
		"User-Agent":              {s.userAgent},
		"Accept":                  {"application/json"},
		"Accept-Encoding":         {"gzip, deflate, br"},
		http.HeaderOrderKey: {
			"Authorization",
			"X-Riot-Entitlements-JWT",
			"X-Riot-ClientVersion",
			"X-Riot-ClientPlatform",
			"Content-Type",
			"User-Agent",
			"Accept",
			"Accept-Encoding",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if withBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}
