package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type testLogger struct {
	t *testing.T
}

func (l testLogger) Log(format string, args ...any) {
	l.t.Logf(format, args...)
}

// staticSource serves a fixed bundle, copied per load so attempts cannot
// share mutations.
type staticSource struct {
	bundle *CredentialBundle
	err    error
}

func (s staticSource) Load(ctx context.Context, userID string) (*CredentialBundle, error) {
	if s.err != nil {
		return nil, s.err
	}
	b := *s.bundle
	return &b, nil
}

// testEndpoints points session traffic at a TLS test server and feed traffic
// at a plain one. Either base may be empty when a test does not reach it.
func testEndpoints(tlsBase, plainBase string) *ProviderEndpoints {
	return &ProviderEndpoints{
		AuthorizationURL: tlsBase + "/api/v1/authorization",
		AuthorizeURL:     tlsBase + "/authorize",
		UserinfoURL:      tlsBase + "/userinfo",
		EntitlementsURL:  tlsBase + "/api/token/v1",
		GeoURL:           tlsBase + "/pas/v1/product/valorant",
		PDBaseFormat:     tlsBase + "/pd/%s",
		VersionURL:       plainBase + "/v1/version",
		SkinsURLFormat:   plainBase + "/v1/weapons/skins?language=%s",
		IPEchoURL:        plainBase + "/ip",
		CompanionOrigin:  "https://playvalorant.com",
		CompanionReferer: "https://playvalorant.com/opt_in",
	}
}

func newTestClient(t *testing.T, tlsBase, plainBase string, primary, legacy CredentialSource) *StoreClient {
	t.Helper()
	client := NewStoreClient(primary, legacy, testLogger{t})
	client.endpoints = testEndpoints(tlsBase, plainBase)
	client.insecureTLS = true
	return client
}

// authSuccessBody is the completed authorization answer carrying tokens in
// the fragment URI.
func authSuccessBody(access, id string) string {
	uri := "https://playvalorant.com/opt_in#access_token=" + access +
		"&scope=all&iss=auth&id_token=" + id + "&token_type=Bearer&expires_in=3600"
	return `{"type":"response","response":{"mode":"fragment","parameters":{"uri":"` + uri + `"}},"country":"jpn"}`
}

func TestBuildAttemptsMatrix(t *testing.T) {
	primary := &CredentialBundle{SSID: "p-ssid", UserAgent: "stored-agent", Origin: OriginDB}
	legacy := &CredentialBundle{SSID: "l-ssid", Origin: OriginFile}

	specs := buildAttempts(primary, legacy)
	if len(specs) != 8 {
		t.Fatalf("matrix size\ngot:  %d\nwant: 8", len(specs))
	}

	type cell struct {
		origin CredentialOrigin
		agent  AgentChoice
		scope  CookieScope
		ua     string
	}
	want := []cell{
		{OriginDB, AgentStored, CookieScopeFull, "stored-agent"},
		{OriginDB, AgentStored, CookieScopeSsidOnly, "stored-agent"},
		{OriginDB, AgentDefault, CookieScopeFull, ""},
		{OriginDB, AgentDefault, CookieScopeSsidOnly, ""},
		{OriginFile, AgentStored, CookieScopeFull, "stored-agent"},
		{OriginFile, AgentStored, CookieScopeSsidOnly, "stored-agent"},
		{OriginFile, AgentDefault, CookieScopeFull, ""},
		{OriginFile, AgentDefault, CookieScopeSsidOnly, ""},
	}
	for i, w := range want {
		got := specs[i]
		if got.Origin != w.origin || got.Agent != w.agent || got.Scope != w.scope || got.UserAgent != w.ua {
			t.Errorf("spec %d\ngot:  %s ua=%q\nwant: %v", i, got.Label(), got.UserAgent, w)
		}
	}
}

func TestBuildAttemptsWithoutStoredAgent(t *testing.T) {
	primary := &CredentialBundle{SSID: "p-ssid", Origin: OriginDB}

	specs := buildAttempts(primary, nil)
	if len(specs) != 2 {
		t.Fatalf("matrix size without stored agent\ngot:  %d\nwant: 2", len(specs))
	}
	for _, spec := range specs {
		if spec.Agent != AgentDefault {
			t.Errorf("agent\ngot:  %s\nwant: defaultUA", spec.Agent)
		}
	}
}

func TestBuildAttemptsSkipsInvalidBundles(t *testing.T) {
	invalid := &CredentialBundle{CLID: "ue1", Origin: OriginDB}
	legacy := &CredentialBundle{SSID: "l-ssid", Origin: OriginFile}

	specs := buildAttempts(invalid, legacy)
	for _, spec := range specs {
		if spec.Origin != OriginFile {
			t.Errorf("invalid bundle produced attempt %s", spec.Label())
		}
	}
	if len(specs) != 2 {
		t.Errorf("matrix size\ngot:  %d\nwant: 2", len(specs))
	}

	if got := buildAttempts(nil, nil); len(got) != 0 {
		t.Errorf("empty inputs must produce no attempts, got %d", len(got))
	}
}

func TestAuthQueryOrder(t *testing.T) {
	got := authVariants[0].params().query()
	want := "client_id=play-valorant-web-prod&nonce=1" +
		"&redirect_uri=https%3A%2F%2Fplayvalorant.com%2Fopt_in" +
		"&response_type=token+id_token&scope=account+openid&prompt=none"
	if got != want {
		t.Errorf("query order\ngot:  %s\nwant: %s", got, want)
	}
}

func TestTokensFromFragment(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want *AuthTokens
	}{
		{
			name: "both tokens present",
			uri:  "https://playvalorant.com/opt_in#access_token=aaa&scope=all&id_token=bbb&expires_in=3600",
			want: &AuthTokens{AccessToken: "aaa", IDToken: "bbb"},
		},
		{
			name: "missing id token",
			uri:  "https://playvalorant.com/opt_in#access_token=aaa&expires_in=3600",
			want: nil,
		},
		{
			name: "no fragment",
			uri:  "https://playvalorant.com/opt_in?access_token=aaa&id_token=bbb",
			want: nil,
		},
		{
			name: "empty uri",
			uri:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokensFromFragment(tt.uri)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Errorf("tokens\ngot:  %+v\nwant: %+v", got, tt.want)
			case *got != *tt.want:
				t.Errorf("tokens\ngot:  %+v\nwant: %+v", *got, *tt.want)
			}
		})
	}
}

func TestTokensFromAuthorizationBody(t *testing.T) {
	body := []byte(authSuccessBody("acc-123", "id-456"))
	tokens := tokensFromAuthorizationBody(body)
	if tokens == nil {
		t.Fatal("success body produced no tokens")
	}
	if tokens.AccessToken != "acc-123" || tokens.IDToken != "id-456" {
		t.Errorf("tokens\ngot:  %+v", *tokens)
	}

	if tokensFromAuthorizationBody([]byte(`{"type":"auth","country":"jpn"}`)) != nil {
		t.Error("pending auth body must not yield tokens")
	}
	if tokensFromAuthorizationBody([]byte("not json")) != nil {
		t.Error("junk body must not yield tokens")
	}
}

func TestReauthenticateFirstAttemptWins(t *testing.T) {
	var mu sync.Mutex
	var sawUA, sawCookie string
	calls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/authorization", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		sawUA = r.Header.Get("User-Agent")
		sawCookie = r.Header.Get("Cookie")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, authSuccessBody("access-token-value", "id-token-value"))
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	primary := staticSource{bundle: &CredentialBundle{
		SSID:      "primary-ssid-value",
		CLID:      "ue1",
		UserAgent: "Mozilla/5.0 stored",
		Origin:    OriginDB,
	}}
	client := newTestClient(t, srv.URL, "", primary, nil)

	auth, results, err := client.Reauthenticate(context.Background(), "123")
	if err != nil {
		t.Fatalf("reauth failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("attempt count\ngot:  %d\nwant: 1", len(results))
	}
	if auth.Spec.Origin != OriginDB || auth.Spec.Agent != AgentStored || auth.Spec.Scope != CookieScopeFull {
		t.Errorf("winning spec %s, want db storedUA full", auth.Spec.Label())
	}
	if auth.Variant != "A" {
		t.Errorf("variant\ngot:  %s\nwant: A", auth.Variant)
	}
	if auth.Tokens.AccessToken != "access-token-value" || auth.Tokens.IDToken != "id-token-value" {
		t.Errorf("tokens not extracted: %+v", auth.Tokens)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("authorization calls\ngot:  %d\nwant: 1", calls)
	}
	if sawUA != "Mozilla/5.0 stored" {
		t.Errorf("user agent presented\ngot:  %q\nwant: %q", sawUA, "Mozilla/5.0 stored")
	}
	if !strings.Contains(sawCookie, "ssid=primary-ssid-value") {
		t.Errorf("ssid cookie not presented: %q", sawCookie)
	}
	if !strings.Contains(sawCookie, "clid=ue1") {
		t.Errorf("clid cookie not presented in full scope: %q", sawCookie)
	}
}

func TestReauthenticateFallsBackToSsidOnly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/authorization", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.Header.Get("Cookie"), "csid=") {
			io.WriteString(w, `{"type":"auth","country":"jpn"}`)
			return
		}
		io.WriteString(w, authSuccessBody("ssid-only-access", "ssid-only-id"))
	})
	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"access_denied"}`)
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	legacy := staticSource{bundle: &CredentialBundle{
		SSID:   "file-ssid-value",
		CSID:   "stale-csid-value",
		Origin: OriginFile,
	}}
	client := newTestClient(t, srv.URL, "", nil, legacy)

	auth, results, err := client.Reauthenticate(context.Background(), "123")
	if err != nil {
		t.Fatalf("reauth failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("attempt count\ngot:  %d\nwant: 2", len(results))
	}
	if results[0].Succeeded() {
		t.Error("full-scope attempt must fail when secondaries are stale")
	}
	if len(results[0].Outcomes) != 2 {
		t.Errorf("failed attempt must try both variants, got %d", len(results[0].Outcomes))
	}
	if auth.Spec.Scope != CookieScopeSsidOnly {
		t.Errorf("winning scope\ngot:  %s\nwant: ssid", auth.Spec.Scope)
	}
	if auth.Tokens.AccessToken != "ssid-only-access" {
		t.Errorf("tokens\ngot:  %+v", auth.Tokens)
	}
}

func TestReauthenticateClassifiesChallenge(t *testing.T) {
	challenge := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("cf-mitigated", "challenge")
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<html>cf-chl challenge page</html>`)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/authorization", challenge)
	mux.HandleFunc("/authorize", challenge)
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	legacy := staticSource{bundle: &CredentialBundle{SSID: "blocked-ssid", Origin: OriginFile}}
	client := newTestClient(t, srv.URL, "", nil, legacy)

	_, results, err := client.Reauthenticate(context.Background(), "123")
	if !errors.Is(err, ErrChallengeBlocked) {
		t.Fatalf("classification\ngot:  %v\nwant: ErrChallengeBlocked", err)
	}
	for i := range results {
		if !results[i].Challenged() {
			t.Errorf("attempt %d not marked challenged", i)
		}
	}
}

func TestReauthenticateClassifiesDeadCookie(t *testing.T) {
	denied := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `{"error":"access_denied"}`)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/authorization", denied)
	mux.HandleFunc("/authorize", denied)
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	legacy := staticSource{bundle: &CredentialBundle{SSID: "dead-ssid", Origin: OriginFile}}
	client := newTestClient(t, srv.URL, "", nil, legacy)

	_, results, err := client.Reauthenticate(context.Background(), "123")
	if !errors.Is(err, ErrCredentialsExpired) {
		t.Fatalf("classification\ngot:  %v\nwant: ErrCredentialsExpired", err)
	}
	if len(results) != 2 {
		t.Errorf("attempt count\ngot:  %d\nwant: 2", len(results))
	}
}

func TestReauthenticateNoSources(t *testing.T) {
	client := NewStoreClient(nil, nil, testLogger{t})
	_, _, err := client.Reauthenticate(context.Background(), "123")
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("no sources\ngot:  %v\nwant: ErrNoCredentials", err)
	}
}

func TestReauthenticateAllBundlesInvalid(t *testing.T) {
	source := staticSource{bundle: &CredentialBundle{CLID: "ue1", Origin: OriginDB}}
	client := NewStoreClient(source, nil, testLogger{t})

	_, _, err := client.Reauthenticate(context.Background(), "123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("invalid bundles\ngot:  %v\nwant: ErrInvalidCredentials", err)
	}
}

func TestReauthenticatePrimaryStoreFailureIsHard(t *testing.T) {
	dbDown := errors.New("connection refused by database")
	primary := staticSource{err: dbDown}
	legacy := staticSource{bundle: &CredentialBundle{SSID: "file-ssid", Origin: OriginFile}}
	client := NewStoreClient(primary, legacy, testLogger{t})

	_, _, err := client.Reauthenticate(context.Background(), "123")
	if !errors.Is(err, dbDown) {
		t.Errorf("primary store failure must surface\ngot:  %v", err)
	}
}
