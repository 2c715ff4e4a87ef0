package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultStoreLanguage is the locale skins resolve in unless configured.
const defaultStoreLanguage = "ja-JP"

// skinIndexTTL bounds how long a built index is reused.
const skinIndexTTL = 30 * time.Minute

// SkinInfo is the display material for one skin family.
type SkinInfo struct {
	Name string
	Icon string
}

// SkinIndex maps every identifier of a skin family (the parent, its levels,
// its chromas) to the family's display info. Keys are lowercased; lookups
// are case-insensitive because the storefront and the catalog feed disagree
// on identifier casing.
type SkinIndex map[string]SkinInfo

func (idx SkinIndex) Lookup(itemID string) (SkinInfo, bool) {
	info, ok := idx[strings.ToLower(itemID)]
	return info, ok
}

type skinFeedVariant struct {
	UUID        string `json:"uuid"`
	DisplayName string `json:"displayName"`
	DisplayIcon string `json:"displayIcon"`
}

type skinFeedEntry struct {
	UUID        string            `json:"uuid"`
	DisplayName string            `json:"displayName"`
	DisplayIcon string            `json:"displayIcon"`
	Levels      []skinFeedVariant `json:"levels"`
	Chromas     []skinFeedVariant `json:"chromas"`
}

type skinFeed struct {
	Status int             `json:"status"`
	Data   []skinFeedEntry `json:"data"`
}

// buildSkinIndex flattens the catalog feed. Parents without an icon inherit
// the first level's icon, which is how the feed encodes base skins.
func buildSkinIndex(entries []skinFeedEntry) SkinIndex {
	idx := make(SkinIndex, len(entries)*4)
	for _, entry := range entries {
		icon := entry.DisplayIcon
		if icon == "" && len(entry.Levels) > 0 {
			icon = entry.Levels[0].DisplayIcon
		}
		info := SkinInfo{Name: entry.DisplayName, Icon: icon}

		put := func(id string) {
			if id != "" {
				idx[strings.ToLower(id)] = info
			}
		}
		put(entry.UUID)
		for _, level := range entry.Levels {
			put(level.UUID)
		}
		for _, chroma := range entry.Chromas {
			put(chroma.UUID)
		}
	}
	return idx
}

// skinIndexCache is a read-through cache keyed by locale with single-flight
// fetches, so concurrent runs share one feed download.
type skinIndexCache struct {
	mu      sync.Mutex
	group   singleflight.Group
	entries map[string]skinIndexCacheEntry
	now     func() time.Time
}

type skinIndexCacheEntry struct {
	index   SkinIndex
	fetched time.Time
}

func newSkinIndexCache() *skinIndexCache {
	return &skinIndexCache{entries: make(map[string]skinIndexCacheEntry), now: time.Now}
}

func (c *skinIndexCache) get(language string, fetch func() (SkinIndex, error)) (SkinIndex, error) {
	c.mu.Lock()
	if entry, ok := c.entries[language]; ok && c.now().Sub(entry.fetched) < skinIndexTTL {
		c.mu.Unlock()
		return entry.index, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(language, func() (any, error) {
		index, err := fetch()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[language] = skinIndexCacheEntry{index: index, fetched: c.now()}
		c.mu.Unlock()
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(SkinIndex), nil
}

// skinIndex returns the index for a locale, fetching the public feed when
// the cache is cold.
func (c *StoreClient) skinIndex(ctx context.Context, language string) (SkinIndex, error) {
	return c.skins.get(language, func() (SkinIndex, error) {
		uri := fmt.Sprintf(c.endpoints.SkinsURLFormat, url.QueryEscape(language))
		feed, err := fetchJSON[skinFeed](ctx, "GET", uri, nil, 3)
		if err != nil {
			return nil, err
		}
		if len(feed.Data) == 0 {
			return nil, NewUpstreamError("skin feed", feed.Status, errors.New("empty data"))
		}
		return buildSkinIndex(feed.Data), nil
	})
}
