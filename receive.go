package main

import (
	"context"
	"encoding/json"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const (
	defaultListenAddr = ":8190"

	// nonceTTL is how long an issued nonce stays redeemable.
	nonceTTL = 180 * time.Second

	// captureSaveTimeout bounds the store write triggered by one submission.
	captureSaveTimeout = 10 * time.Second
)

// userIDPattern matches Discord snowflakes.
var userIDPattern = regexp.MustCompile(`^\d{5,25}$`)

// BundleSaver persists a captured bundle. Satisfied by DBStore.
type BundleSaver interface {
	Save(ctx context.Context, userID string, bundle *CredentialBundle, lastIP string) error
}

// CaptureServer ingests fresh cookie bundles from the browser helper. Every
// submission must redeem a freshly issued single-use nonce, and both
// endpoints are rate limited per client address.
type CaptureServer struct {
	saver   BundleSaver
	logger  Logger
	nonces  *nonceRegistry
	limiter *ipRateLimiter
}

func NewCaptureServer(saver BundleSaver, logger Logger) *CaptureServer {
	return &CaptureServer{
		saver:   saver,
		logger:  logger,
		nonces:  newNonceRegistry(nonceTTL),
		limiter: newIPRateLimiter(10, 5),
	}
}

// Handler routes the three endpoints. The browser helper runs on a riot
// origin, so CORS stays wide open; the nonce handshake is what gates writes.
func (s *CaptureServer) Handler(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
	ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	ctx.Response.Header.Set("Access-Control-Allow-Headers", "Content-Type")

	if ctx.IsOptions() {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
		return
	}

	switch string(ctx.Path()) {
	case "/":
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"ok": true})
	case "/nonce":
		s.handleNonce(ctx)
	case "/riot-cookies":
		s.handleSubmit(ctx)
	default:
		writeJSONError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *CaptureServer) handleNonce(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		writeJSONError(ctx, fasthttp.StatusMethodNotAllowed, "GET only")
		return
	}
	if !s.limiter.Allow(clientIP(ctx)) {
		writeJSONError(ctx, fasthttp.StatusTooManyRequests, "slow down")
		return
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]any{
		"nonce":  s.nonces.Issue(),
		"expiry": int(nonceTTL.Seconds()),
	})
}

type capturePayload struct {
	Nonce   string `json:"nonce"`
	UserID  string `json:"user_id"`
	Cookies struct {
		Auth  map[string]string `json:"auth"`
		PUUID string            `json:"puuid"`
	} `json:"cookies"`
}

func (s *CaptureServer) handleSubmit(ctx *fasthttp.RequestCtx) {
	if !ctx.IsPost() {
		writeJSONError(ctx, fasthttp.StatusMethodNotAllowed, "POST only")
		return
	}
	ip := clientIP(ctx)
	if !s.limiter.Allow(ip) {
		writeJSONError(ctx, fasthttp.StatusTooManyRequests, "slow down")
		return
	}

	var payload capturePayload
	if err := json.Unmarshal(ctx.PostBody(), &payload); err != nil {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "malformed JSON body")
		return
	}
	if !s.nonces.Consume(payload.Nonce) {
		writeJSONError(ctx, fasthttp.StatusForbidden, "nonce invalid or expired")
		return
	}
	if !userIDPattern.MatchString(payload.UserID) {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "user_id must be a Discord id")
		return
	}

	bundle := normalizeBundle(payload.Cookies.Auth)
	if v := sanitizeValue(payload.Cookies.PUUID); v != "" {
		bundle.PUUID = v
	}
	if !bundle.Valid() {
		writeJSONError(ctx, fasthttp.StatusBadRequest, "ssid cookie missing")
		return
	}
	bundle.UserAgent = string(ctx.UserAgent())
	bundle.Origin = OriginDB

	saveCtx, cancel := context.WithTimeout(context.Background(), captureSaveTimeout)
	defer cancel()
	if err := s.saver.Save(saveCtx, payload.UserID, bundle, ip); err != nil {
		s.logger.Log("capture save failed for user %s: %v", payload.UserID, err)
		writeJSONError(ctx, fasthttp.StatusInternalServerError, "could not save bundle")
		return
	}

	s.logger.Log("captured bundle for user %s (%s) from %s", payload.UserID, bundle.Summary(), maskIP(ip))
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"saved": true})
}

// ListenAndServe runs the capture endpoint until the listener fails.
func (s *CaptureServer) ListenAndServe(addr string) error {
	return s.httpServer().ListenAndServe(addr)
}

// Serve accepts connections from ln. Tests drive this with an in-memory
// listener.
func (s *CaptureServer) Serve(ln net.Listener) error {
	return s.httpServer().Serve(ln)
}

func (s *CaptureServer) httpServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "valstore-capture",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeJSONError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// clientIP honors forwarding headers before falling back to the socket peer,
// matching how the endpoint is deployed behind a reverse proxy.
func clientIP(ctx *fasthttp.RequestCtx) string {
	if xff := string(ctx.Request.Header.Peek("X-Forwarded-For")); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := string(ctx.Request.Header.Peek("X-Real-IP")); xri != "" {
		return strings.TrimSpace(xri)
	}
	return ctx.RemoteIP().String()
}

// nonceRegistry hands out single-use, expiring tokens.
type nonceRegistry struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newNonceRegistry(ttl time.Duration) *nonceRegistry {
	return &nonceRegistry{entries: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Issue registers and returns a fresh nonce, sweeping expired ones while the
// lock is held.
func (r *nonceRegistry) Issue() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for nonce, expiry := range r.entries {
		if now.After(expiry) {
			delete(r.entries, nonce)
		}
	}

	nonce := uuid.NewString()
	r.entries[nonce] = now.Add(r.ttl)
	return nonce
}

// Consume redeems a nonce. A nonce works exactly once; replays and expired
// entries both fail.
func (r *nonceRegistry) Consume(nonce string) bool {
	if nonce == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, ok := r.entries[nonce]
	if !ok {
		return false
	}
	delete(r.entries, nonce)
	return r.now().Before(expiry)
}

// ipRateLimiter keeps one token bucket per client address.
type ipRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		rate:        rate.Limit(float64(perMinute) / 60.0),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *ipRateLimiter) get(ip string) *rate.Limiter {
	if v, ok := l.limiters.Load(ip); ok {
		return v.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(ip, rate.NewLimiter(l.rate, l.burst))
	l.maybeCleanup()
	return actual.(*rate.Limiter)
}

// maybeCleanup drops buckets that refilled completely; those belong to
// addresses that went idle.
func (l *ipRateLimiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()

	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}
