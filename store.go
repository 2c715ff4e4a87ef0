package main

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Logger is the minimal logging surface threaded through the engine.
type Logger interface {
	Log(format string, args ...any)
}

// StoreClient ties the credential sources to the reauth engine and the
// storefront pipeline. One client serves many users; per-attempt transport
// state lives in SessionContext and never outlives a run.
type StoreClient struct {
	primary CredentialSource
	legacy  CredentialSource
	logger  Logger

	endpoints   *ProviderEndpoints
	profile     *BrowserProfile
	proxyURL    string
	language    string
	insecureTLS bool

	skins    *skinIndexCache
	versions *versionCache
}

// NewStoreClient builds a client over the given sources. Either source may
// be nil when that store is not configured; at least one must be set for
// runs to make progress.
func NewStoreClient(primary, legacy CredentialSource, logger Logger) *StoreClient {
	return &StoreClient{
		primary:   primary,
		legacy:    legacy,
		logger:    logger,
		endpoints: DefaultEndpoints(),
		profile:   DefaultProfile,
		language:  defaultStoreLanguage,
		skins:     newSkinIndexCache(),
		versions:  newVersionCache(),
	}
}

// SetLanguage overrides the locale used for catalog resolution.
func (c *StoreClient) SetLanguage(language string) {
	if language != "" {
		c.language = language
	}
}

// SetProxyURL routes all provider traffic through the given proxy.
func (c *StoreClient) SetProxyURL(proxyURL string) {
	c.proxyURL = proxyURL
}

func (c *StoreClient) sessionConfig() SessionConfig {
	return SessionConfig{
		Endpoints:          c.endpoints,
		Profile:            c.profile,
		ProxyURL:           c.proxyURL,
		InsecureSkipVerify: c.insecureTLS,
	}
}

// DailyStore is the resolved result of one full run.
type DailyStore struct {
	PUUID      string
	Shard      string
	Items      []ResolvedItem
	ResetsIn   time.Duration
	GameName   string
	TagLine    string
	TrackerURL string
}

// FetchDailyStore runs reauthentication, the token pipeline, storefront
// retrieval, and catalog resolution for one user. The player name lookup is
// best effort: a failure there never sinks an otherwise complete run.
func (c *StoreClient) FetchDailyStore(ctx context.Context, userID string) (*DailyStore, error) {
	runID := shortRunID()
	c.logger.Log("[%s] daily store run for user %s", runID, userID)

	auth, attempts, err := c.Reauthenticate(ctx, userID)
	if err != nil {
		c.logger.Log("[%s] reauth failed after %d attempts: %v", runID, len(attempts), err)
		return nil, err
	}
	c.logger.Log("[%s] reauth ok via %s variant=%s", runID, auth.Spec.Label(), auth.Variant)

	entitlements, err := c.fetchEntitlements(ctx, auth)
	if err != nil {
		return nil, err
	}
	puuid, err := c.resolveIdentity(ctx, auth)
	if err != nil {
		return nil, err
	}
	shard, err := c.resolveShard(ctx, auth)
	if err != nil {
		return nil, err
	}
	version, err := c.clientVersion(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Log("[%s] pipeline ok: shard=%s puuid=%s version=%s", runID, shard, maskValue(puuid), version)

	creds := pdCredentials{
		shard:        shard,
		puuid:        puuid,
		access:       auth.Tokens.AccessToken,
		entitlements: entitlements,
		version:      version,
	}

	front, err := c.fetchStorefront(ctx, auth.Session, creds)
	if err != nil {
		return nil, err
	}

	index, err := c.skinIndex(ctx, c.language)
	if err != nil {
		return nil, err
	}

	store := &DailyStore{
		PUUID:    puuid,
		Shard:    shard,
		Items:    resolveStoreItems(front, index),
		ResetsIn: time.Duration(front.SkinsPanelLayout.SingleItemOffersRemainingDurationInSeconds) * time.Second,
	}

	if gameName, tagLine, err := c.lookupPlayerName(ctx, auth.Session, creds); err == nil {
		store.GameName = gameName
		store.TagLine = tagLine
		store.TrackerURL = TrackerProfileURL(gameName, tagLine)
	} else {
		c.logger.Log("[%s] name lookup skipped: %v", runID, err)
	}

	c.logger.Log("[%s] daily store resolved: %d items, resets in %s", runID, len(store.Items), store.ResetsIn)
	return store, nil
}

func shortRunID() string {
	return uuid.NewString()[:8]
}
