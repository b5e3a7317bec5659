package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFingerprintSessionKey(t *testing.T) {
	e := echo.New()
	mk := func(ua string) echo.Context {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("User-Agent", ua)
		return e.NewContext(req, httptest.NewRecorder())
	}

	a1 := FingerprintSessionKey(mk("browser-a"))
	a2 := FingerprintSessionKey(mk("browser-a"))
	b := FingerprintSessionKey(mk("browser-b"))

	if a1 != a2 {
		t.Error("expected the same client to map to the same key")
	}
	if a1 == b {
		t.Error("expected different user agents to map to different keys")
	}
	if len(a1) != 64 {
		t.Errorf("expected a hex sha256, got %d chars", len(a1))
	}
}

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestSignedCookieSessionKey_MintsCookie(t *testing.T) {
	fn, err := SignedCookieSessionKey(testSecret, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	key := fn(c)
	if key == "" {
		t.Fatal("expected a session key")
	}
	if again := fn(c); again != key {
		t.Fatalf("expected the key to be stable within a request, got %q and %q", key, again)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected exactly one cookie, got %d", len(cookies))
	}
	ck := cookies[0]
	if ck.Name != SessionCookieName || !ck.HttpOnly || !ck.Secure {
		t.Fatalf("unexpected cookie attributes: %+v", ck)
	}
}

func TestSignedCookieSessionKey_ReusesValidCookie(t *testing.T) {
	fn, _ := SignedCookieSessionKey(testSecret, false)
	e := echo.New()

	rec := httptest.NewRecorder()
	first := fn(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	cookie := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookie)
	rec2 := httptest.NewRecorder()
	second := fn(e.NewContext(req, rec2))

	if first != second {
		t.Fatalf("expected cookie to carry the session, got %q and %q", first, second)
	}
	if len(rec2.Result().Cookies()) != 0 {
		t.Error("expected no new cookie for a valid session")
	}
}

func TestSignedCookieSessionKey_RejectsForgedCookie(t *testing.T) {
	fn, _ := SignedCookieSessionKey(testSecret, false)
	other, _ := SignedCookieSessionKey([]byte("ffffffffffffffffffffffffffffffff"), false)
	e := echo.New()

	rec := httptest.NewRecorder()
	forgedKey := other(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec))
	forged := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(forged)
	rec2 := httptest.NewRecorder()
	key := fn(e.NewContext(req, rec2))

	if key == forgedKey {
		t.Fatal("expected a cookie signed with another key to be ignored")
	}
	if len(rec2.Result().Cookies()) != 1 {
		t.Error("expected a replacement cookie")
	}
}

func TestSignedCookieSessionKey_RandomSecret(t *testing.T) {
	fn, err := SignedCookieSessionKey(nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := echo.New()
	if fn(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())) == "" {
		t.Fatal("expected a session key with a generated secret")
	}
}
