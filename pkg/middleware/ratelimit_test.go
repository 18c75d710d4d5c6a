package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/stoneplatforms/reviewmycoach/pkg/logger"
)

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	store := newVisitorStore(0.001, 2, time.Minute)
	h := rateLimit(store, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	post := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/coaches/c-1/reviews", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusCreated, post("192.0.2.1:1000").Code)
	assert.Equal(t, http.StatusCreated, post("192.0.2.1:1001").Code)

	rec := post("192.0.2.1:1002")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1000", rec.Header().Get("Retry-After"), "one token per 1000s")

	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMITED", body["error"]["code"])

	// Other clients keep their own bucket.
	assert.Equal(t, http.StatusCreated, post("192.0.2.2:1000").Code)
	assert.Equal(t, 2, store.len())
}

func TestRetryAfter_AtLeastOneSecond(t *testing.T) {
	now := time.Now()
	lim := rate.NewLimiter(10, 1)
	require.True(t, lim.AllowN(now, 1))

	assert.Equal(t, "1", retryAfter(lim, now))
	assert.True(t, lim.AllowN(now.Add(100*time.Millisecond), 1), "trial reservation is returned")
}

func TestVisitorStore_Cleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newVisitorStore(1, 1, time.Minute)
	store.now = func() time.Time { return now }

	store.limiter("a")
	now = now.Add(30 * time.Second)
	store.limiter("b")

	now = now.Add(45 * time.Second)
	store.cleanup()

	assert.Equal(t, 1, store.len())
	_, kept := store.visitors["b"]
	assert.True(t, kept)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "203.0.113.5:4321", "203.0.113.5"},
		{"remote without port", nil, "203.0.113.5", "203.0.113.5"},
		{"forwarded single", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "10.0.0.1:1", "198.51.100.7"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 198.51.100.7 , 10.0.0.2"}, "10.0.0.1:1", "198.51.100.7"},
		{"forwarded garbage falls through", map[string]string{"X-Forwarded-For": "unknown"}, "10.0.0.1:1", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.8"}, "10.0.0.1:1", "198.51.100.8"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
