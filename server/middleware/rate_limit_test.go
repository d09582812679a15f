package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter(t *testing.T) {
	tests := []struct {
		name         string
		ip           string
		expectStatus int
		numRequests  int
		sleep        time.Duration
		burst        int
		limit        rate.Limit
	}{
		{
			name:         "within rate limit",
			ip:           "192.168.1.1:5000",
			expectStatus: http.StatusOK,
			numRequests:  20,
			limit:        rate.Every(time.Millisecond),
			burst:        20,
			sleep:        time.Millisecond,
		},
		{
			name:         "exceed burst",
			ip:           "192.168.1.1:5000",
			expectStatus: http.StatusTooManyRequests,
			numRequests:  65,
			limit:        rate.Every(time.Hour),
			burst:        60,
			sleep:        0,
		},
		{
			name:         "ok within limit as limits refresh",
			ip:           "192.168.1.1:5000",
			expectStatus: http.StatusOK,
			numRequests:  10,
			limit:        rate.Every(time.Millisecond),
			burst:        1,
			sleep:        2 * time.Millisecond,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rl := NewRateLimiter(slog.Default(), ClientIPKeyFunc, tc.limit, tc.burst)
			defer rl.Stop()

			testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("test"))
			})
			handler := rl.Limit(testHandler)

			req := httptest.NewRequest(http.MethodGet, "/api/call-gitlab", nil)
			req.RemoteAddr = tc.ip

			var rec *httptest.ResponseRecorder
			for i := 0; i < tc.numRequests; i++ {
				rec = httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				time.Sleep(tc.sleep)
			}

			assert.Equal(t, tc.expectStatus, rec.Code)
		})
	}
}

func TestRateLimiter_SkipsHealth(t *testing.T) {
	rl := NewRateLimiter(slog.Default(), ClientIPKeyFunc, rate.Every(time.Hour), 1, WithSkipper(SkipHealth))
	defer rl.Stop()
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestClientIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", ClientIPKeyFunc(req))

	// a client cannot choose its own bucket
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "10.0.0.1", ClientIPKeyFunc(req))
}

func TestTrustedProxyKeyFunc(t *testing.T) {
	keyFunc := TrustedProxyKeyFunc(netip.MustParsePrefix("10.0.0.0/8"))

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct client", "198.51.100.9:5000", "", "198.51.100.9"},
		{"untrusted sender forging header", "198.51.100.9:5000", "1.2.3.4", "198.51.100.9"},
		{"behind trusted proxy", "10.0.0.1:443", "203.0.113.7", "203.0.113.7"},
		{"spoofed left hop ignored", "10.0.0.1:443", "1.2.3.4, 203.0.113.7", "203.0.113.7"},
		{"chain of trusted proxies", "10.0.0.1:443", "203.0.113.7, 10.0.0.2", "203.0.113.7"},
		{"trusted proxy without header", "10.0.0.1:443", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, keyFunc(req))
		})
	}
}
