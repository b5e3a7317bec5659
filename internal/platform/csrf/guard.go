// Package csrf implements per-session synchronizer tokens for state-changing
// requests. A fresh token is issued on every request and returned in the
// X-CSRF-Token header; unsafe requests must echo back the token issued on
// the previous request for the same session.
package csrf

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/navimed/navimed/internal/platform/metrics"
)

const (
	HeaderName  = "X-CSRF-Token"
	FieldName   = "_csrf"
	ContextKey  = "csrf_token"
	DefaultTTL  = time.Hour
	tokenBytes  = 32
	maxBodyPeek = 1 << 20
)

// Rejection codes returned to clients.
const (
	CodeTokenMissing = "CSRF_TOKEN_MISSING"
	CodeTokenInvalid = "CSRF_TOKEN_INVALID"
)

var (
	ErrTokenMissing = errors.New("csrf token required")
	ErrTokenInvalid = errors.New("invalid csrf token")
)

// DefaultPublicPaths are exempt from validation regardless of method.
var DefaultPublicPaths = []string{
	"/api/health",
	"/api/healthz",
	"/api/status",
	"/api/ping",
	"/api/auth/login",
	"/public/",
	"/.well-known/",
	"/api/platform/stats",
}

// Config configures a Guard. Zero values fall back to defaults.
type Config struct {
	Store      TokenStore
	SessionKey SessionKeyFunc
	TTL        time.Duration
	// PublicPaths extends DefaultPublicPaths.
	PublicPaths []string
	Now         func() time.Time
	Rand        io.Reader
	Logger      zerolog.Logger
}

type Guard struct {
	store       TokenStore
	sessionKey  SessionKeyFunc
	ttl         time.Duration
	publicPaths []string
	now         func() time.Time
	rand        io.Reader
	logger      zerolog.Logger
}

func New(cfg Config) (*Guard, error) {
	g := &Guard{
		store:       cfg.Store,
		sessionKey:  cfg.SessionKey,
		ttl:         cfg.TTL,
		publicPaths: append(append([]string{}, DefaultPublicPaths...), cfg.PublicPaths...),
		now:         cfg.Now,
		rand:        cfg.Rand,
		logger:      cfg.Logger.With().Str("component", "csrf").Logger(),
	}
	if g.store == nil {
		store, err := NewMemoryStore(100000)
		if err != nil {
			return nil, err
		}
		g.store = store
	}
	if g.sessionKey == nil {
		g.sessionKey = FingerprintSessionKey
	}
	if g.ttl <= 0 {
		g.ttl = DefaultTTL
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.rand == nil {
		g.rand = rand.Reader
	}
	return g, nil
}

func (g *Guard) generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(g.rand, b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue mints a token for the request's session, replacing any earlier one.
func (g *Guard) Issue(c echo.Context) (string, error) {
	return g.issue(c, g.sessionKey(c))
}

func (g *Guard) issue(c echo.Context, sessionKey string) (string, error) {
	token, err := g.generateToken()
	if err != nil {
		return "", err
	}
	entry := Entry{Token: token, IssuedAt: g.now()}
	if err := g.store.Put(c.Request().Context(), sessionKey, entry); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}

	c.Response().Header().Set(HeaderName, token)
	c.Set(ContextKey, token)
	metrics.CSRFTokensIssued.Inc()
	return token, nil
}

// Validate checks the client token against previous, the entry that was
// live before this request. A nil previous means none was issued.
func (g *Guard) Validate(c echo.Context, previous *Entry) error {
	req := c.Request()
	if isSafeMethod(req.Method) || g.isPublic(req.URL.Path) {
		return nil
	}

	client := clientToken(c)
	if client == "" {
		return ErrTokenMissing
	}
	if previous == nil {
		return ErrTokenInvalid
	}
	if g.now().Sub(previous.IssuedAt) > g.ttl {
		return ErrTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(client), []byte(previous.Token)) != 1 {
		return ErrTokenInvalid
	}
	return nil
}

// Middleware issues a token on every request and rejects unsafe requests
// whose token does not match the one issued before.
func (g *Guard) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := g.sessionKey(c)

			var previous *Entry
			prev, ok, err := g.store.Get(ctx, key)
			if err != nil {
				g.logger.Warn().Err(err).Msg("failed to load previous token")
			} else if ok {
				previous = &prev
			}

			token, err := g.issue(c, key)
			if err != nil {
				g.logger.Error().Err(err).Msg("failed to issue token")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "CSRF token store unavailable")
			}

			if err := g.Validate(c, previous); err != nil {
				return g.reject(c, err, token)
			}
			return next(c)
		}
	}
}

func (g *Guard) reject(c echo.Context, err error, token string) error {
	code, msg := CodeTokenInvalid, "Invalid CSRF token"
	if errors.Is(err, ErrTokenMissing) {
		code, msg = CodeTokenMissing, "CSRF token required"
	}
	metrics.CSRFRejections.WithLabelValues(code).Inc()

	req := c.Request()
	g.logger.Warn().
		Str("code", code).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("remote_ip", c.RealIP()).
		Msg("request rejected")

	return c.JSON(http.StatusForbidden, map[string]string{
		"error":     msg,
		"code":      code,
		"csrfToken": token,
	})
}

// TokenHandler returns the token issued for the current request.
func (g *Guard) TokenHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		token, _ := c.Get(ContextKey).(string)
		if token == "" {
			var err error
			if token, err = g.Issue(c); err != nil {
				g.logger.Error().Err(err).Msg("failed to issue token")
				return echo.NewHTTPError(http.StatusServiceUnavailable, "CSRF token store unavailable")
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"csrfToken": token})
	}
}

// Sweep removes entries older than the TTL.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	n, err := g.store.Sweep(ctx, g.now().Add(-g.ttl))
	metrics.CSRFSwept.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("sweep csrf tokens: %w", err)
	}
	// Len scans the whole Redis prefix; only pay for it when it gets logged.
	if e := g.logger.Debug(); e.Enabled() {
		e.Int("removed", n).Int("remaining", g.store.Len()).Msg("swept expired tokens")
	}
	return n, nil
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (g *Guard) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := g.Sweep(ctx); err != nil && ctx.Err() == nil {
					g.logger.Error().Err(err).Msg("token sweep failed")
				}
			}
		}
	}()
}

func (g *Guard) isPublic(path string) bool {
	for _, p := range g.publicPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// clientToken looks in the header, then the body, then the query string.
func clientToken(c echo.Context) string {
	req := c.Request()
	if t := req.Header.Get(HeaderName); t != "" {
		return t
	}
	if t := bodyToken(req); t != "" {
		return t
	}
	return c.QueryParam(FieldName)
}

// bodyToken peeks at a JSON or form body without consuming it.
func bodyToken(req *http.Request) string {
	if req.Body == nil || req.Body == http.NoBody {
		return ""
	}
	ct := req.Header.Get(echo.HeaderContentType)
	isJSON := strings.HasPrefix(ct, echo.MIMEApplicationJSON)
	isForm := strings.HasPrefix(ct, echo.MIMEApplicationForm)
	if !isJSON && !isForm {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, maxBodyPeek+1))
	req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(data), req.Body))
	if err != nil || len(data) > maxBodyPeek {
		return ""
	}

	if isJSON {
		var payload struct {
			CSRF string `json:"_csrf"`
		}
		if json.Unmarshal(data, &payload) != nil {
			return ""
		}
		return payload.CSRF
	}
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return ""
	}
	return values.Get(FieldName)
}
