package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper_PublicPaths(t *testing.T) {
	paths := []string{"/health", "/health/db", "/metrics"}

	e := echo.New()
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetPath(path)

		if !AuthSkipper(c) {
			t.Errorf("expected %s to skip auth", path)
		}
	}
}

func TestAuthSkipper_ProtectedPaths(t *testing.T) {
	paths := []string{
		"/api/convert/coverage",
		"/api/convert/records",
		"/api/convert/profile",
	}

	e := echo.New()
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetPath(path)

		if AuthSkipper(c) {
			t.Errorf("expected %s to require auth", path)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") {
		t.Error("expected /health to be public")
	}
	if IsPublicPath("/api/convert/coverage") {
		t.Error("expected /api/convert/coverage to be protected")
	}
}
