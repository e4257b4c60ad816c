package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"backend-selfbell/internal/config"
)

func newTestServer() *Server {
	return NewServer(config.Config{JWTSecret: "secret", ServerPort: ":0"}, nil, nil)
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer()

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200 status")
	}
	if s.SafeWalks == nil {
		t.Fatalf("expected safe walk service to be exposed")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer()
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/safe-walks"},
		{http.MethodGet, "/api/v1/safe-walks/ward/current"},
		{http.MethodGet, "/api/v1/guardians"},
		{http.MethodGet, "/api/v1/places/nearby?lat=1&lon=1"},
		{http.MethodGet, "/api/v1/alerts"},
	} {
		resp, err := s.App.Test(httptest.NewRequest(tc.method, tc.path, nil))
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, resp.StatusCode)
		}
	}
}

func TestRealtimeEndpointNeedsUpgrade(t *testing.T) {
	resp, err := newTestServer().App.Test(httptest.NewRequest(http.MethodGet, "/ws", nil))
	if err != nil {
		t.Fatalf("test request: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for plain http request")
	}
}
