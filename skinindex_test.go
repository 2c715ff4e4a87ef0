package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const skinFeedFixture = `{
  "status": 200,
  "data": [
    {
      "uuid": "AAAA-PARENT",
      "displayName": "Prime Vandal",
      "displayIcon": "",
      "levels": [
        {"uuid": "AAAA-LEVEL-1", "displayName": "Prime Vandal Level 1", "displayIcon": "https://cdn/prime-l1.png"},
        {"uuid": "AAAA-LEVEL-2", "displayName": "Prime Vandal Level 2", "displayIcon": "https://cdn/prime-l2.png"}
      ],
      "chromas": [
        {"uuid": "AAAA-CHROMA-1", "displayName": "Prime Vandal Gold", "displayIcon": "https://cdn/prime-gold.png"}
      ]
    },
    {
      "uuid": "BBBB-PARENT",
      "displayName": "Reaver Operator",
      "displayIcon": "https://cdn/reaver.png",
      "levels": [],
      "chromas": []
    }
  ]
}`

func TestBuildSkinIndex(t *testing.T) {
	var feed skinFeed
	mustUnmarshal(t, []byte(skinFeedFixture), &feed)

	idx := buildSkinIndex(feed.Data)

	// Parent, levels, and chromas all resolve to the family name.
	for _, id := range []string{"AAAA-PARENT", "AAAA-LEVEL-1", "AAAA-LEVEL-2", "AAAA-CHROMA-1"} {
		info, ok := idx.Lookup(id)
		if !ok {
			t.Fatalf("identifier %s missing from index", id)
		}
		if info.Name != "Prime Vandal" {
			t.Errorf("name for %s\ngot:  %q\nwant: %q", id, info.Name, "Prime Vandal")
		}
	}

	// Parent without an icon inherits the first level's.
	info, _ := idx.Lookup("AAAA-PARENT")
	if info.Icon != "https://cdn/prime-l1.png" {
		t.Errorf("icon fallback\ngot:  %q\nwant: %q", info.Icon, "https://cdn/prime-l1.png")
	}

	// Parent with its own icon keeps it.
	info, _ = idx.Lookup("BBBB-PARENT")
	if info.Icon != "https://cdn/reaver.png" {
		t.Errorf("own icon\ngot:  %q\nwant: %q", info.Icon, "https://cdn/reaver.png")
	}
}

func TestSkinIndexLookupIsCaseInsensitive(t *testing.T) {
	idx := SkinIndex{"aaaa-parent": {Name: "Prime Vandal"}}
	if _, ok := idx.Lookup("AAAA-Parent"); !ok {
		t.Error("lookup must ignore identifier casing")
	}
}

func TestSkinIndexCachePerLanguage(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/weapons/skins", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, skinFeedFixture)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, "", srv.URL, nil, nil)

	now := time.Now()
	client.skins.now = func() time.Time { return now }

	for range 3 {
		if _, err := client.skinIndex(context.Background(), "ja-JP"); err != nil {
			t.Fatalf("skin index failed: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("feed hits for one locale\ngot:  %d\nwant: 1", hits.Load())
	}

	if _, err := client.skinIndex(context.Background(), "en-US"); err != nil {
		t.Fatalf("skin index failed: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("second locale must fetch\ngot:  %d hits\nwant: 2", hits.Load())
	}

	now = now.Add(skinIndexTTL + time.Minute)
	if _, err := client.skinIndex(context.Background(), "ja-JP"); err != nil {
		t.Fatalf("skin index failed: %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expired entry must refetch\ngot:  %d hits\nwant: 3", hits.Load())
	}
}

func mustUnmarshal(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal fixture: %v", err)
	}
}
