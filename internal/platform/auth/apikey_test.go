package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func apiKeyRequest(t *testing.T, key string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/convert/coverage", nil)
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAPIKey_ValidKey(t *testing.T) {
	c, _ := apiKeyRequest(t, "nhcx-key-alpha")

	var actor string
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	mw := APIKeyMiddleware([]string{"nhcx-key-alpha", "nhcx-key-beta"})
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if actor != "apikey:nhcx-key" {
		t.Errorf("expected actor apikey:nhcx-key, got %q", actor)
	}
}

func TestAPIKey_SecondConfiguredKey(t *testing.T) {
	c, _ := apiKeyRequest(t, "nhcx-key-beta")

	mw := APIKeyMiddleware([]string{"nhcx-key-alpha", "nhcx-key-beta"})
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAPIKey_InvalidKey(t *testing.T) {
	c, _ := apiKeyRequest(t, "wrong-key")

	mw := APIKeyMiddleware([]string{"nhcx-key-alpha"})
	err := mw(okHandler)(c)
	if err == nil {
		t.Fatal("expected error for invalid key")
	}

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestAPIKey_MissingKey(t *testing.T) {
	c, _ := apiKeyRequest(t, "")

	mw := APIKeyMiddleware([]string{"nhcx-key-alpha"})
	err := mw(okHandler)(c)
	if err == nil {
		t.Fatal("expected error for missing key")
	}

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestAPIKey_ShortKeyActorKeepsWholeKey(t *testing.T) {
	c, _ := apiKeyRequest(t, "k1")

	var actor string
	handler := func(c echo.Context) error {
		actor = ActorFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	mw := APIKeyMiddleware([]string{"k1"})
	if err := mw(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if actor != "apikey:k1" {
		t.Errorf("expected actor apikey:k1, got %q", actor)
	}
}

func TestAPIKey_SkipsPublicPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	mw := APIKeyMiddleware([]string{"nhcx-key-alpha"})
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("expected public path to skip auth, got %v", err)
	}
}
