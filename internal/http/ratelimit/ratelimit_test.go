package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestMiddlewareRejectsOverBudget(t *testing.T) {
	l := New(Config{Rate: rate.Every(time.Hour), Burst: 2})
	h := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req.RemoteAddr = "192.0.2.10:4711"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
			assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
		}
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	other := httptest.NewRequest(http.MethodPost, "/events", nil)
	other.RemoteAddr = "192.0.2.11:4711"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		proxies []string
		remote  string
		xff     string
		realIP  string
		want    string
	}{
		{"no proxies trusts forwarded", nil, "10.0.0.1:1", "203.0.113.5, 10.0.0.1", "", "203.0.113.5"},
		{"untrusted peer ignores forwarded", []string{"10.0.0.0/8"}, "198.51.100.7:1", "203.0.113.5", "", "198.51.100.7"},
		{"trusted cidr", []string{"10.0.0.0/8"}, "10.1.2.3:1", "203.0.113.5", "", "203.0.113.5"},
		{"trusted single ip", []string{"10.1.2.3"}, "10.1.2.3:1", "", "203.0.113.9", "203.0.113.9"},
		{"garbage forwarded falls back", nil, "10.0.0.1:1", "not-an-ip", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(Config{Rate: 1, Burst: 1, TrustedProxies: tt.proxies})
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, l.ClientIP(req))
		})
	}
}

func TestSweepAndEviction(t *testing.T) {
	now := time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC)
	l := New(Config{Rate: 1, Burst: 1, IdleTTL: time.Minute, MaxClients: 2})
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(10 * time.Second)
	l.Allow("b")
	now = now.Add(10 * time.Second)
	l.Allow("c")
	assert.Len(t, l.clients, 2)
	assert.NotContains(t, l.clients, "a")

	now = now.Add(65 * time.Second)
	l.sweep()
	assert.Empty(t, l.clients)
}
