package csrf

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// SessionCookieName is the cookie carrying the signed session id.
const SessionCookieName = "navimed_sid"

const (
	sessionKeyCtx    = "csrf_session_key"
	sessionCookieAge = 30 * 24 * time.Hour
)

// SessionKeyFunc derives the identity a token is bound to.
type SessionKeyFunc func(c echo.Context) string

// FingerprintSessionKey hashes the client IP and User-Agent. Clients behind
// the same proxy with the same browser share a key.
func FingerprintSessionKey(c echo.Context) string {
	sum := sha256.Sum256([]byte(c.RealIP() + c.Request().UserAgent()))
	return hex.EncodeToString(sum[:])
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// SignedCookieSessionKey binds tokens to a random session id carried in an
// HS256-signed cookie. Requests without a valid cookie get a fresh one.
// A nil secret is replaced by a random per-process key, which invalidates
// every session on restart.
func SignedCookieSessionKey(secret []byte, secure bool) (SessionKeyFunc, error) {
	if secret == nil {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}

	return func(c echo.Context) string {
		if key, ok := c.Get(sessionKeyCtx).(string); ok && key != "" {
			return key
		}

		sid := ""
		if cookie, err := c.Cookie(SessionCookieName); err == nil {
			sid, _ = parseSessionCookie(cookie.Value, secret)
		}
		if sid == "" {
			var value string
			sid, value = mintSessionCookie(secret)
			if value != "" {
				c.SetCookie(&http.Cookie{
					Name:     SessionCookieName,
					Value:    value,
					Path:     "/",
					MaxAge:   int(sessionCookieAge.Seconds()),
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}

		c.Set(sessionKeyCtx, sid)
		return sid
	}, nil
}

func mintSessionCookie(secret []byte) (sid, value string) {
	sid = uuid.NewString()
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionCookieAge)),
		},
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		// HMAC signing only fails on a bad key type.
		return sid, ""
	}
	return sid, value
}

func parseSessionCookie(value string, secret []byte) (string, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("session cookie has no id")
	}
	return claims.ID, nil
}
