package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/config"
)

var testSecret = []byte("secret")

func TestSignAndParseSubject(t *testing.T) {
	tok, err := SignJWT("user-1", testSecret, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := ParseSubject(tok, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("unexpected subject %q", sub)
	}
	if _, err := ParseSubject(tok, []byte("other")); err == nil {
		t.Fatalf("expected signature failure")
	}
	expired, _ := SignJWT("user-1", testSecret, -time.Minute)
	if _, err := ParseSubject(expired, testSecret); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func runMiddleware(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	var seen string
	h := EchoAuthMiddleware(testSecret)(func(c echo.Context) error {
		seen = UserID(c)
		if sub, ok := SubjectFromContext(c.Request().Context()); !ok || sub != seen {
			t.Fatalf("context subject mismatch: %q vs %q", sub, seen)
		}
		return c.NoContent(http.StatusOK)
	})
	return rec, seen, h(c)
}

func TestEchoAuthMiddlewareSources(t *testing.T) {
	tok, _ := SignJWT("user-7", testSecret, time.Minute)

	header := httptest.NewRequest(http.MethodGet, "/", nil)
	header.Header.Set("Authorization", "Bearer "+tok)
	cookie := httptest.NewRequest(http.MethodGet, "/", nil)
	cookie.AddCookie(&http.Cookie{Name: AuthCookie, Value: tok})
	query := httptest.NewRequest(http.MethodGet, "/ws/chat/report/?token="+tok, nil)

	for name, req := range map[string]*http.Request{"header": header, "cookie": cookie, "query": query} {
		_, seen, err := runMiddleware(t, req)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if seen != "user-7" {
			t.Fatalf("%s: expected user-7, got %q", name, seen)
		}
	}
}

func TestEchoAuthMiddlewareRejects(t *testing.T) {
	_, _, err := runMiddleware(t, httptest.NewRequest(http.MethodGet, "/", nil))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.Header.Set("Authorization", "Bearer not-a-token")
	_, _, err = runMiddleware(t, bad)
	he, ok = err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected error without secret")
	}
	cfg := &config.Config{Server: config.ServerConfig{JWTSecret: " s3 "}}
	s, err := LoadJWTSecret(cfg)
	if err != nil || string(s) != "s3" {
		t.Fatalf("unexpected secret %q err %v", s, err)
	}
}
