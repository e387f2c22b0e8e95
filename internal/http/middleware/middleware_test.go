package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/metrics"
	"uniadmit/internal/ratelimit"
	"uniadmit/internal/security"
)

func ok(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAuthenticate(t *testing.T) {
	provider := security.NewJWTProvider("secret")
	actor := user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}
	token, _, err := provider.Generate(actor.ID, actor.Role, time.Hour)
	require.NoError(t, err)

	var seen user.Actor
	handler := NewAuthMiddleware(provider).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, actor, seen)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(user.RoleAdmin)(http.HandlerFunc(ok))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = req.WithContext(WithActor(req.Context(), user.Actor{ID: common.NewUUID(), Role: user.RoleStudent}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))
}

func TestRateLimit(t *testing.T) {
	collector := metrics.NewCollector("test")
	rule := ratelimit.Rule{Prefix: "test", Limit: 2, Window: time.Minute}
	handler := RateLimit(ratelimit.NewMemoryLimiter(), rule, ClientIP, collector)(http.HandlerFunc(ok))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, http.StatusOK, send("1.2.3.4").Code)
	assert.Equal(t, http.StatusOK, send("1.2.3.4").Code)
	rec := send("1.2.3.4")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorCode(t, rec))
	assert.Equal(t, http.StatusOK, send("5.6.7.8").Code)
	assert.Equal(t, uint64(1), collector.Value(metrics.RateLimitedOperations))
}

func TestRecover(t *testing.T) {
	handler := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestID, Recover(slog.New(slog.NewTextHandler(io.Discard, nil))))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsCountsServerErrors(t *testing.T) {
	collector := metrics.NewCollector("test")
	handler := Metrics(collector)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, uint64(2), collector.Value(metrics.HTTPRequests))
	assert.Equal(t, uint64(1), collector.Value(metrics.HTTPErrors))
}
