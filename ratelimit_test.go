package gatekit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoon-dev/gatekit/store"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testPolicies(requests int) Policies {
	p := DefaultPolicies()
	for cat, pol := range p {
		pol.Requests = requests
		p[cat] = pol
	}
	return p
}

func TestRateLimiter_AllowsWithinBudget(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(5))
	handler := limiter.Handler(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status %d, got %d", i+1, http.StatusOK, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
			t.Errorf("request %d: expected X-RateLimit-Limit=5, got %s", i+1, got)
		}
		if got := rec.Header().Get("X-RateLimit-Reset"); got == "" {
			t.Errorf("request %d: expected X-RateLimit-Reset to be set", i+1)
		}
	}
}

func TestRateLimiter_RejectsOverBudget(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(2))
	handler := limiter.Handler(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected status %d, got %d", i+1, http.StatusOK, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got == "" {
		t.Error("expected Retry-After header on rejection")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining=0, got %s", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("expected X-RateLimit-Limit=2, got %s", got)
	}

	body := decodeAPIError(t, rec)
	if body.Code != "TOO_MANY_REQUESTS" {
		t.Errorf("expected error TOO_MANY_REQUESTS, got %s", body.Code)
	}
	if body.Status != http.StatusTooManyRequests {
		t.Errorf("expected status field %d, got %d", http.StatusTooManyRequests, body.Status)
	}
	if body.RetryAfterSeconds < 1 {
		t.Errorf("expected retryAfterSeconds >= 1, got %d", body.RetryAfterSeconds)
	}
}

func TestRateLimiter_RemainingCountsDown(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(3))
	handler := limiter.Handler(okHandler())

	want := []string{"2", "1", "0"}
	for i, expected := range want {
		req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("X-RateLimit-Remaining"); got != expected {
			t.Errorf("request %d: expected X-RateLimit-Remaining=%s, got %s", i+1, expected, got)
		}
	}
}

func TestRateLimiter_KeyIsolation(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(1))
	handler := limiter.Handler(okHandler())

	// Different clients get independent budgets.
	for _, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("addr %s: expected status %d, got %d", addr, http.StatusOK, rec.Code)
		}
	}

	// Different categories for the same client get independent budgets.
	req := httptest.NewRequest(http.MethodGet, "/api/members/search", http.NoBody)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected independent SEARCH budget, got status %d", rec.Code)
	}

	// Same client, same category: budget is spent.
	req = httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
	req.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
}

func TestRateLimiter_AuthenticatedUserKey(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(1))
	handler := limiter.Handler(okHandler())

	// The same user id from two addresses shares one budget.
	for i, addr := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
		req.RemoteAddr = addr
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "user-1"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		want := http.StatusOK
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if rec.Code != want {
			t.Errorf("request %d: expected status %d, got %d", i+1, want, rec.Code)
		}
	}
}

func TestRateLimiter_BypassesPreflight(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(1))
	handler := limiter.Handler(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/api/members", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("preflight %d: expected status %d, got %d", i+1, http.StatusOK, rec.Code)
		}
	}
}

func TestRateLimiter_BypassesExcluded(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(1))
	handler := limiter.Handler(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/actuator/health", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("health check %d: expected status %d, got %d", i+1, http.StatusOK, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "" {
			t.Errorf("expected no rate-limit headers on excluded path, got X-RateLimit-Limit=%s", got)
		}
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(1), RateLimitDisabled())
	handler := limiter.Handler(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected status %d, got %d", i+1, http.StatusOK, rec.Code)
		}
	}
}

// failingStore always errors, simulating an unreachable counter backend.
type failingStore struct{}

func (failingStore) TryConsume(context.Context, string, int, time.Duration) (store.Result, error) {
	return store.Result{}, errors.New("store unavailable")
}

func (failingStore) Close() error { return nil }

func TestRateLimiter_StoreFailureFailsClosed(t *testing.T) {
	limiter := NewRateLimiter(failingStore{}, testPolicies(5))
	handler := limiter.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}

	body := decodeAPIError(t, rec)
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("expected error INTERNAL_ERROR, got %s", body.Code)
	}
}

func TestRateLimiter_StoreFailureFailsOpen(t *testing.T) {
	limiter := NewRateLimiter(failingStore{}, testPolicies(5), RateLimitFailOpen())
	handler := limiter.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
}

func TestRateLimiter_InsideWrapperUsesState(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	limiter := NewRateLimiter(st, testPolicies(1))
	handler := Handler()(limiter.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining=0, got %s", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
	req.RemoteAddr = "10.0.0.1:1234"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got == "" {
		t.Error("expected Retry-After header on rejection")
	}

	body := decodeAPIError(t, rec)
	if body.Code != "TOO_MANY_REQUESTS" {
		t.Errorf("expected error TOO_MANY_REQUESTS, got %s", body.Code)
	}
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		realIP     string
		identity   string
		want       string
	}{
		{"socket address", "10.0.0.1:1234", "", "", "", "ip:10.0.0.1"},
		{"forwarded for", "10.0.0.1:1234", "203.0.113.5", "", "", "ip:203.0.113.5"},
		{"forwarded for list takes first", "10.0.0.1:1234", "203.0.113.5, 198.51.100.2", "", "", "ip:203.0.113.5"},
		{"unknown forwarded falls through", "10.0.0.1:1234", "unknown", "203.0.113.9", "", "ip:203.0.113.9"},
		{"real ip", "10.0.0.1:1234", "", "203.0.113.9", "", "ip:203.0.113.9"},
		{"unknown everywhere uses socket", "10.0.0.1:1234", "unknown", "unknown", "", "ip:10.0.0.1"},
		{"identity wins", "10.0.0.1:1234", "203.0.113.5", "", "user-7", "user:user-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/members", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.identity != "" {
				req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: tt.identity}))
			}

			if got := ClientID(req); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
