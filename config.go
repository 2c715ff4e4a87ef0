package main

import "os"

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.cookieEncKey=YOUR_SECRET"
var (
	cookieEncKey string // -X main.cookieEncKey=...
)

// GetCookieEncKey returns the cookie encryption secret (build-time or env fallback).
func GetCookieEncKey() string {
	if cookieEncKey != "" {
		return cookieEncKey
	}
	return os.Getenv("COOKIE_ENC_KEY")
}

// GetDatabaseURL returns the PostgreSQL DSN for the primary credential store.
func GetDatabaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return os.Getenv("DB_DSN")
}

// GetCookieDirOverride returns the directory that overrides the flat-file
// cookie search path, if configured.
func GetCookieDirOverride() string {
	return os.Getenv("VALORANT_COOKIES_DIR")
}

// GetStoreLanguage returns the locale used for skin names.
func GetStoreLanguage() string {
	return getEnvOrDefault("STORE_LANG", defaultStoreLanguage)
}

// GetProxyURL returns the optional egress proxy for provider traffic.
func GetProxyURL() string {
	return os.Getenv("RIOT_PROXY_URL")
}

// GetListenAddr returns the capture endpoint listen address. PORT is honored
// for container platforms that inject it.
func GetListenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return defaultListenAddr
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
