package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func send(h http.Handler, mutate func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_Burst(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i, want := range []string{"2", "1", "0"} {
		w := send(h, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := send(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.InDelta(t, 20, retry, 1)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 2, Window: time.Second})
	now := time.Date(2026, 10, 12, 13, 0, 0, 0, time.UTC)

	_, _, ok := rl.take("k", now)
	require.True(t, ok)
	_, _, ok = rl.take("k", now)
	require.True(t, ok)
	_, retry, ok := rl.take("k", now)
	require.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, retry)

	// A rejected request does not consume the next token.
	_, _, ok = rl.take("k", now.Add(500*time.Millisecond))
	assert.True(t, ok)
}

func TestRateLimiter_Sweep(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Max: 1, Window: time.Second})
	now := time.Date(2026, 10, 12, 13, 0, 0, 0, time.UTC)

	rl.take("old", now)
	rl.take("fresh", now.Add(1500*time.Millisecond))
	rl.sweep(now.Add(2 * time.Second))
	assert.Equal(t, 1, rl.len())
}

func TestRateLimit_KeysAreIndependent(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	from := func(addr string) func(*http.Request) {
		return func(r *http.Request) { r.RemoteAddr = addr }
	}

	assert.Equal(t, http.StatusOK, send(h, from("10.0.0.1:1234")).Code)
	assert.Equal(t, http.StatusOK, send(h, from("10.0.0.2:1234")).Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, from("10.0.0.1:5678")).Code)
}

func TestRateLimit_XForwardedFor(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())
	proxied := func(addr string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = addr
			r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
		}
	}

	assert.Equal(t, http.StatusOK, send(h, proxied("192.168.1.1:4444")).Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, proxied("192.168.1.2:5555")).Code)
}

func TestRateLimit_CredentialKey(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: CredentialKey("api_key"),
	})(okHandler())
	withKey := func(key string) func(*http.Request) {
		return func(r *http.Request) {
			r.RemoteAddr = "10.0.0.7:1234"
			if key != "" {
				r.Header.Set("api_key", key)
			}
		}
	}

	// Same address, distinct credentials: separate budgets.
	assert.Equal(t, http.StatusOK, send(h, withKey("kitchen-key")).Code)
	assert.Equal(t, http.StatusOK, send(h, withKey("customer-key")).Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, withKey("kitchen-key")).Code)

	// Anonymous requests share the address budget.
	assert.Equal(t, http.StatusOK, send(h, withKey("")).Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, withKey("")).Code)
}

func TestRateLimit_RotatingCredentialsShareAddressBudget(t *testing.T) {
	h := Wrap(okHandler(),
		RateLimit(RateLimitConfig{Max: 5, Window: time.Minute}),
		RateLimit(RateLimitConfig{Max: 5, Window: time.Minute, KeyFunc: CredentialKey("api_key")}),
	)

	passed := 0
	for i := range 200 {
		w := send(h, func(r *http.Request) {
			r.Header.Set("api_key", "junk-"+strconv.Itoa(i))
		})
		switch w.Code {
		case http.StatusOK:
			passed++
		case http.StatusTooManyRequests:
		default:
			t.Fatalf("unexpected status %d", w.Code)
		}
	}
	assert.Equal(t, 5, passed)

	// Another address still has its own budget.
	w := send(h, func(r *http.Request) {
		r.RemoteAddr = "10.0.0.2:1234"
		r.Header.Set("api_key", "junk-0")
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCredentialKey_QueryParameter(t *testing.T) {
	fromHeader := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	fromHeader.Header.Set("api_key", "secret")
	fromQuery := httptest.NewRequest(http.MethodGet, "/api/ws?api_key=secret", nil)

	key := CredentialKey("api_key")
	assert.Equal(t, key(fromHeader), key(fromQuery))
	assert.NotContains(t, key(fromQuery), "secret")
}
