package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCookieFile(t *testing.T, dir, userID, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, userID+".txt"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write cookie file: %v", err)
	}
}

func TestFileStoreLoad(t *testing.T) {
	dir := t.TempDir()
	writeCookieFile(t, dir, "123456789", `
# captured 2025-11-03
RIOT_SSID="ssid-from-file-12345"
RIOT_CLID=ue1
RIOT_TDID=tdid-from-file

not a cookie line
RIOT_PUUID=puuid-from-file
`)

	store := NewFileStore(dir, nil)
	bundle, err := store.Load(context.Background(), "123456789")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if bundle.SSID != "ssid-from-file-12345" {
		t.Errorf("ssid\ngot:  %q\nwant: %q", bundle.SSID, "ssid-from-file-12345")
	}
	if bundle.CLID != "ue1" {
		t.Errorf("clid\ngot:  %q\nwant: %q", bundle.CLID, "ue1")
	}
	if bundle.TDID != "tdid-from-file" {
		t.Errorf("tdid\ngot:  %q\nwant: %q", bundle.TDID, "tdid-from-file")
	}
	if bundle.PUUID != "puuid-from-file" {
		t.Errorf("puuid\ngot:  %q\nwant: %q", bundle.PUUID, "puuid-from-file")
	}
	if bundle.Origin != OriginFile {
		t.Errorf("origin\ngot:  %q\nwant: %q", bundle.Origin, OriginFile)
	}
	if bundle.UserAgent != "" {
		t.Errorf("file bundles carry no user agent, got %q", bundle.UserAgent)
	}
}

func TestFileStoreLoadValueWithEquals(t *testing.T) {
	dir := t.TempDir()
	writeCookieFile(t, dir, "42", "ssid=abc=def==\n")

	store := NewFileStore(dir, nil)
	bundle, err := store.Load(context.Background(), "42")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if bundle.SSID != "abc=def==" {
		t.Errorf("value must split on the first equals only\ngot:  %q\nwant: %q", bundle.SSID, "abc=def==")
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir(), nil)
	_, err := store.Load(context.Background(), "999999999")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("missing file\ngot:  %v\nwant: ErrNoCredentials", err)
	}
}

func TestParseCookieFileSkipsJunk(t *testing.T) {
	raw := parseCookieFile([]byte("# comment\n\nplain line\nkey = with spaces \n"))
	if len(raw) != 1 {
		t.Fatalf("expected a single parsed entry, got %v", raw)
	}
	if raw["key"] != " with spaces " {
		t.Errorf("parse must keep the raw value for later sanitizing\ngot:  %q", raw["key"])
	}
}
