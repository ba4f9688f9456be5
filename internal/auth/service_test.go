package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/ping", svc.Middleware(), func(c *gin.Context) {
		if !IsAdmin(c) {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, "pong")
	})
	return r
}

func TestMiddlewareAcceptsBearerAndCookie(t *testing.T) {
	router := newTestRouter(NewService("s3cret"))

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token rejected: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.AddCookie(&http.Cookie{Name: "seylane_admin", Value: "s3cret"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie token rejected: %d", rec.Code)
	}
}

func TestMiddlewareRejects(t *testing.T) {
	router := newTestRouter(NewService("s3cret"))
	cases := map[string]string{
		"missing": "",
		"wrong":   "Bearer nope",
		"scheme":  "Basic s3cret",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestDisabledWithoutToken(t *testing.T) {
	svc := NewService("  ")
	if svc.Enabled() {
		t.Fatalf("blank token should disable the admin api")
	}
	router := newTestRouter(svc)
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
