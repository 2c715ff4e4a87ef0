package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

const (
	authClientID     = "play-valorant-web-prod"
	authRedirectURI  = "https://playvalorant.com/opt_in"
	authResponseType = "token id_token"
	authPromptNone   = "none"
)

// statusNone marks "no response": transport error or call not reached.
const statusNone = 0

// AuthVariant is one OAuth parameter set. The provider accepts two scope
// spellings depending on account age; both are tried inside every attempt.
type AuthVariant struct {
	Name  string
	Scope string
}

var authVariants = []AuthVariant{
	{Name: "A", Scope: "account openid"},
	{Name: "B", Scope: "openid link"},
}

type authRequestParams struct {
	ClientID     string `json:"client_id"`
	Nonce        string `json:"nonce"`
	RedirectURI  string `json:"redirect_uri"`
	ResponseType string `json:"response_type"`
	Scope        string `json:"scope"`
	Prompt       string `json:"prompt"`
}

func (v AuthVariant) params() authRequestParams {
	return authRequestParams{
		ClientID:     authClientID,
		Nonce:        "1",
		RedirectURI:  authRedirectURI,
		ResponseType: authResponseType,
		Scope:        v.Scope,
		Prompt:       authPromptNone,
	}
}

// query renders the params in the order the web client sends them.
func (p authRequestParams) query() string {
	var sb strings.Builder
	add := func(k, v string) {
		if sb.Len() > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(v))
	}
	add("client_id", p.ClientID)
	add("nonce", p.Nonce)
	add("redirect_uri", p.RedirectURI)
	add("response_type", p.ResponseType)
	add("scope", p.Scope)
	add("prompt", p.Prompt)
	return sb.String()
}

// AgentChoice says which user agent an attempt presents.
type AgentChoice int

const (
	AgentDefault AgentChoice = iota
	AgentStored
)

func (a AgentChoice) String() string {
	if a == AgentStored {
		return "storedUA"
	}
	return "defaultUA"
}

// AttemptSpec is one cell of the reauth matrix.
type AttemptSpec struct {
	Origin    CredentialOrigin
	Agent     AgentChoice
	Scope     CookieScope
	UserAgent string
	Bundle    *CredentialBundle
}

func (a AttemptSpec) Label() string {
	return fmt.Sprintf("%-4s %-9s %s", string(a.Origin), a.Agent, a.Scope)
}

// VariantOutcome records what one parameter variant saw inside an attempt.
type VariantOutcome struct {
	Variant    string
	PostStatus int
	GetStatus  int
	Challenged bool
}

// AttemptResult is the full record of one attempt, kept for diagnostics even
// when a later attempt wins.
type AttemptResult struct {
	Spec     AttemptSpec
	Outcomes []VariantOutcome
	Variant  string
	Tokens   *AuthTokens
	Err      error

	session *SessionContext
}

func (r *AttemptResult) Succeeded() bool {
	return r.Tokens != nil
}

func (r *AttemptResult) Challenged() bool {
	for _, o := range r.Outcomes {
		if o.Challenged {
			return true
		}
	}
	return false
}

// AuthTokens are the bearer materials minted by a successful reauth.
type AuthTokens struct {
	AccessToken string
	IDToken     string
}

// AuthSession is a winning attempt: the live session plus its minted tokens.
// The same session must carry the rest of the pipeline; the provider ties
// token use to the fingerprint that minted it.
type AuthSession struct {
	Session *SessionContext
	Tokens  AuthTokens
	Spec    AttemptSpec
	Variant string
}

// buildAttempts expands the deterministic matrix: sources in fixed order,
// stored agent before the profile default, full cookie scope before
// ssid-only. The stored agent is the database bundle's saved one; the file
// format has no agent column, so file attempts borrow it. Invalid bundles
// are excluded entirely.
func buildAttempts(primary, legacy *CredentialBundle) []AttemptSpec {
	storedUA := ""
	if primary != nil {
		storedUA = primary.UserAgent
	}

	type agentOption struct {
		choice AgentChoice
		ua     string
	}
	var agents []agentOption
	if storedUA != "" {
		agents = append(agents, agentOption{AgentStored, storedUA})
	}
	agents = append(agents, agentOption{AgentDefault, ""})

	var specs []AttemptSpec
	for _, bundle := range []*CredentialBundle{primary, legacy} {
		if !bundle.Valid() {
			continue
		}
		for _, agent := range agents {
			for _, scope := range []CookieScope{CookieScopeFull, CookieScopeSsidOnly} {
				specs = append(specs, AttemptSpec{
					Origin:    bundle.Origin,
					Agent:     agent.choice,
					Scope:     scope,
					UserAgent: agent.ua,
					Bundle:    bundle,
				})
			}
		}
	}
	return specs
}

// Reauthenticate walks the attempt matrix sequentially until one attempt
// mints tokens. Every attempt result is returned for diagnostics regardless
// of outcome.
func (c *StoreClient) Reauthenticate(ctx context.Context, userID string) (*AuthSession, []AttemptResult, error) {
	primary, legacy, err := c.loadBundles(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if primary == nil && legacy == nil {
		return nil, nil, fmt.Errorf("user %s: %w", userID, ErrNoCredentials)
	}

	attempts := buildAttempts(primary, legacy)
	if len(attempts) == 0 {
		return nil, nil, fmt.Errorf("user %s: %w", userID, ErrInvalidCredentials)
	}

	var results []AttemptResult
	for i, spec := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, results, err
		}

		result := c.runAttempt(ctx, spec)
		results = append(results, result)

		if result.Succeeded() {
			c.logger.Log("reauth ok on attempt %d/%d (%s, variant %s)", i+1, len(attempts), spec.Label(), result.Variant)
			return &AuthSession{
				Session: result.session,
				Tokens:  *result.Tokens,
				Spec:    spec,
				Variant: result.Variant,
			}, results, nil
		}
		c.logger.Log("reauth attempt %d/%d failed (%s)", i+1, len(attempts), spec.Label())
	}

	if anyChallenged(results) {
		return nil, results, fmt.Errorf("user %s: %w", userID, ErrChallengeBlocked)
	}
	return nil, results, fmt.Errorf("user %s: %w", userID, ErrCredentialsExpired)
}

func anyChallenged(results []AttemptResult) bool {
	for i := range results {
		if results[i].Challenged() {
			return true
		}
	}
	return false
}

// loadBundles pulls both stores. Absence anywhere is fine as long as one
// bundle remains. A hard failure of the primary store is surfaced rather
// than swallowed, since the caller would otherwise run on stale file data
// without noticing.
func (c *StoreClient) loadBundles(ctx context.Context, userID string) (*CredentialBundle, *CredentialBundle, error) {
	var primary, legacy *CredentialBundle

	if c.primary != nil {
		b, err := c.primary.Load(ctx, userID)
		switch {
		case err == nil:
			primary = b
		case errors.Is(err, ErrNoCredentials):
			c.logger.Log("primary store: no record for user %s", userID)
		default:
			return nil, nil, err
		}
	}

	if c.legacy != nil {
		b, err := c.legacy.Load(ctx, userID)
		if err == nil {
			legacy = b
		} else if !errors.Is(err, ErrNoCredentials) {
			c.logger.Log("legacy store: %v", err)
		}
	}

	return primary, legacy, nil
}

// runAttempt executes one matrix cell on a completely fresh session.
func (c *StoreClient) runAttempt(ctx context.Context, spec AttemptSpec) AttemptResult {
	result := AttemptResult{Spec: spec}

	session, err := NewSessionContext(c.sessionConfig(), spec.UserAgent)
	if err != nil {
		result.Err = err
		return result
	}
	if err := session.PrimeCookies(spec.Bundle, spec.Scope); err != nil {
		result.Err = err
		return result
	}

	for _, variant := range authVariants {
		outcome, tokens := c.tryVariant(ctx, session, variant)
		result.Outcomes = append(result.Outcomes, outcome)
		if tokens != nil {
			result.Tokens = tokens
			result.Variant = variant.Name
			result.session = session
			return result
		}
		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}
	}
	return result
}

// tryVariant runs the two-step ladder for one parameter variant: the JSON
// authorization endpoint first, then the redirecting authorize endpoint.
func (c *StoreClient) tryVariant(ctx context.Context, session *SessionContext, variant AuthVariant) (VariantOutcome, *AuthTokens) {
	outcome := VariantOutcome{Variant: variant.Name, PostStatus: statusNone, GetStatus: statusNone}

	status, body, header, err := session.postAuthorization(ctx, variant)
	if err != nil {
		c.logger.Log("authorization POST (variant %s): %v", variant.Name, err)
	} else {
		outcome.PostStatus = status
		if IsChallengeResponse(status, header, body) {
			outcome.Challenged = true
		} else if tokens := tokensFromAuthorizationBody(body); tokens != nil {
			return outcome, tokens
		}
	}

	status, body, header, err = session.getAuthorize(ctx, variant)
	if err != nil {
		c.logger.Log("authorize GET (variant %s): %v", variant.Name, err)
		return outcome, nil
	}
	outcome.GetStatus = status
	if IsChallengeResponse(status, header, body) {
		outcome.Challenged = true
		return outcome, nil
	}
	if isRedirectStatus(status) {
		if tokens := tokensFromFragment(header.Get("Location")); tokens != nil {
			return outcome, tokens
		}
	}
	return outcome, nil
}

func isRedirectStatus(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// postAuthorization drives the JSON authorization endpoint with primed
// cookies. A live ssid answers with a completed response carrying the token
// fragment URI.
func (s *SessionContext) postAuthorization(ctx context.Context, variant AuthVariant) (int, []byte, http.Header, error) {
	payload, err := json.Marshal(variant.params())
	if err != nil {
		return 0, nil, nil, err
	}
	return doSessionRequest(ctx, s.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoints.AuthorizationURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header = s.authHeaders(true)
		return req, nil
	})
}

// getAuthorize drives the redirect flavor of the same flow. Redirects stay
// disabled; the tokens live in the Location header's fragment.
func (s *SessionContext) getAuthorize(ctx context.Context, variant AuthVariant) (int, []byte, http.Header, error) {
	uri := s.endpoints.AuthorizeURL + "?" + variant.params().query()
	return doSessionRequest(ctx, s.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		req.Header = s.authHeaders(false)
		return req, nil
	})
}

// authHeaders is the header set the companion site sends to the auth origin.
func (s *SessionContext) authHeaders(withBody bool) http.Header {
	h := http.Header{
		"User-Agent":      {s.userAgent},
		"Accept":          {"application/json"},
		"Accept-Language": {"en-US,en;q=0.9"},
		"Origin":          {s.endpoints.CompanionOrigin},
		"Referer":         {s.endpoints.CompanionReferer},
		"Accept-Encoding": {"gzip, deflate, br"},
		http.HeaderOrderKey: {
			"Content-Type",
			"User-Agent",
			"Accept",
			"Accept-Language",
			"Origin",
			"Referer",
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

// tokensFromAuthorizationBody digs the fragment URI out of a completed
// authorization response.
func tokensFromAuthorizationBody(body []byte) *AuthTokens {
	var payload struct {
		Type     string `json:"type"`
		Response struct {
			Parameters struct {
				URI string `json:"uri"`
			} `json:"parameters"`
		} `json:"response"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return nil
	}
	return tokensFromFragment(payload.Response.Parameters.URI)
}

// tokensFromFragment parses access_token and id_token out of a URI fragment.
// Values are taken verbatim; the provider emits URL-safe JWTs.
func tokensFromFragment(uri string) *AuthTokens {
	_, fragment, ok := strings.Cut(uri, "#")
	if !ok {
		return nil
	}

	var tokens AuthTokens
	for _, pair := range strings.Split(fragment, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch key {
		case "access_token":
			tokens.AccessToken = value
		case "id_token":
			tokens.IDToken = value
		}
	}
	if tokens.AccessToken == "" || tokens.IDToken == "" {
		return nil
	}
	return &tokens
}
