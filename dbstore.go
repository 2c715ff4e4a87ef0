package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createUserCookiesTable = `
CREATE TABLE IF NOT EXISTS user_auth_cookies (
    discord_user_id TEXT PRIMARY KEY,
    encrypted_cookies BYTEA NOT NULL,
    key_version INT NOT NULL DEFAULT 1,
    user_agent TEXT,
    last_ip INET,
    expires_at TIMESTAMPTZ,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createCookieHistoryTable = `
CREATE TABLE IF NOT EXISTS auth_cookie_history (
    id BIGSERIAL PRIMARY KEY,
    discord_user_id TEXT NOT NULL,
    event TEXT NOT NULL,
    meta JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const selectActiveCookies = `
SELECT encrypted_cookies, COALESCE(user_agent, '')
FROM user_auth_cookies
WHERE discord_user_id = $1 AND is_active`

const upsertCookies = `
INSERT INTO user_auth_cookies (discord_user_id, encrypted_cookies, key_version, user_agent, last_ip, is_active, updated_at)
VALUES ($1, $2, 1, NULLIF($3, ''), NULLIF($4, '')::inet, TRUE, NOW())
ON CONFLICT (discord_user_id) DO UPDATE SET
    encrypted_cookies = EXCLUDED.encrypted_cookies,
    key_version = EXCLUDED.key_version,
    user_agent = EXCLUDED.user_agent,
    last_ip = EXCLUDED.last_ip,
    is_active = TRUE,
    updated_at = NOW()`

const insertHistoryEvent = `
INSERT INTO auth_cookie_history (discord_user_id, event, meta)
VALUES ($1, $2, $3::jsonb)`

// PgxIface is the slice of pgxpool.Pool the store uses, narrow enough for
// pgxmock to stand in during tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// DBStore is the primary credential source: encrypted cookie bundles in
// PostgreSQL, one active row per Discord user, with an append-only history
// table beside it.
type DBStore struct {
	db     PgxIface
	key    []byte
	logger Logger
}

// NewDBStore connects a pool, verifies the connection, and ensures the schema
// exists. encSecret must be configured; refusing to run without encryption
// beats silently storing plaintext.
func NewDBStore(ctx context.Context, dsn, encSecret string, logger Logger) (*DBStore, error) {
	if encSecret == "" {
		return nil, errors.New("cookie encryption secret is not configured")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := newDBStoreWithConn(pool, encSecret, logger)
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// newDBStoreWithConn wires a store onto an existing connection-like value.
// Used directly by tests with a mock pool.
func newDBStoreWithConn(db PgxIface, encSecret string, logger Logger) *DBStore {
	return &DBStore{db: db, key: deriveCookieKey(encSecret), logger: logger}
}

func (s *DBStore) initSchema(ctx context.Context) error {
	for _, ddl := range []string{createUserCookiesTable, createCookieHistoryTable} {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *DBStore) Close() {
	s.db.Close()
}

// Load fetches and decrypts the active bundle for the user.
func (s *DBStore) Load(ctx context.Context, userID string) (*CredentialBundle, error) {
	var blob []byte
	var userAgent string
	err := s.db.QueryRow(ctx, selectActiveCookies, userID).Scan(&blob, &userAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no active row for user %s: %w", userID, ErrNoCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("load cookies for user %s: %w", userID, err)
	}

	plaintext, err := decryptCookies(s.key, blob)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}

	var raw map[string]string
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, fmt.Errorf("decode cookie payload for user %s: %w", userID, err)
	}

	bundle := normalizeBundle(raw)
	bundle.UserAgent = userAgent
	bundle.Origin = OriginDB
	return bundle, nil
}

// Save encrypts and upserts the bundle, then appends a history event. History
// metadata holds masked values only.
func (s *DBStore) Save(ctx context.Context, userID string, bundle *CredentialBundle, lastIP string) error {
	if !bundle.Valid() {
		return fmt.Errorf("refusing to save bundle for user %s: %w", userID, ErrInvalidCredentials)
	}

	payload, err := json.Marshal(map[string]string{
		cookieSSID: bundle.SSID,
		cookieCLID: bundle.CLID,
		cookieSub:  bundle.Sub,
		cookieCSID: bundle.CSID,
		cookieTDID: bundle.TDID,
		"puuid":    bundle.PUUID,
	})
	if err != nil {
		return fmt.Errorf("encode cookie payload: %w", err)
	}

	blob, err := encryptCookies(s.key, payload)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, upsertCookies, userID, blob, bundle.UserAgent, lastIP); err != nil {
		return fmt.Errorf("save cookies for user %s: %w", userID, err)
	}

	s.recordEvent(ctx, userID, "saved", map[string]string{
		"ssid": maskValue(bundle.SSID),
		"ua":   maskValue(bundle.UserAgent),
		"ip":   maskIP(lastIP),
	})
	return nil
}

// recordEvent appends to the history table. Best effort: a history failure
// never fails the operation it annotates.
func (s *DBStore) recordEvent(ctx context.Context, userID, event string, meta map[string]string) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if _, err := s.db.Exec(ctx, insertHistoryEvent, userID, event, string(metaJSON)); err != nil {
		if s.logger != nil {
			s.logger.Log("history insert failed for user %s: %v", userID, err)
		}
	}
}
