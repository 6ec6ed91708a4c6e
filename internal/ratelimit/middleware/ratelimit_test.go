package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idchain/internal/platform/logger"
	"idchain/internal/ratelimit/models"
	"idchain/internal/ratelimit/store/bucket"
	"idchain/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("connection refused")
}

func limitsForTest() map[models.EndpointClass]models.Limit {
	return map[models.EndpointClass]models.Limit{
		models.ClassAuth: {Requests: 2, Window: time.Minute},
		models.ClassRead: {Requests: 100, Window: time.Minute},
	}
}

func serve(h http.Handler, method, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(requestcontext.WithClientIP(req.Context(), ip))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("login attempts are throttled per ip", func(t *testing.T) {
		h := New(bucket.NewInMemoryBucketStore(), limitsForTest(), logger.Discard()).RateLimit(ok)

		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/users/login", "203.0.113.7").Code)
		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/users/login", "203.0.113.7").Code)

		rr := serve(h, http.MethodPost, "/api/users/login", "203.0.113.7")
		assert.Equal(t, http.StatusTooManyRequests, rr.Code)
		assert.NotEmpty(t, rr.Header().Get("Retry-After"))
		var body models.RateLimitExceededResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
		assert.Equal(t, "rate_limit_exceeded", body.Error)

		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/users/login", "198.51.100.4").Code)
		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodGet, "/api/users/me", "203.0.113.7").Code)
	})

	t.Run("unlimited class passes", func(t *testing.T) {
		h := New(bucket.NewInMemoryBucketStore(), limitsForTest(), logger.Discard()).RateLimit(ok)
		for range 5 {
			rr := serve(h, http.MethodPut, "/api/verifications/x", "203.0.113.7")
			assert.Equal(t, http.StatusNoContent, rr.Code)
			assert.Empty(t, rr.Header().Get("X-RateLimit-Limit"))
		}
	})

	t.Run("store failure lets requests through", func(t *testing.T) {
		h := New(failingStore{}, limitsForTest(), logger.Discard()).RateLimit(ok)
		assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/users/login", "203.0.113.7").Code)
	})

	t.Run("disabled", func(t *testing.T) {
		h := New(bucket.NewInMemoryBucketStore(), limitsForTest(), logger.Discard(), WithDisabled(true)).RateLimit(ok)
		for range 5 {
			assert.Equal(t, http.StatusNoContent, serve(h, http.MethodPost, "/api/users/login", "203.0.113.7").Code)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		method, path string
		want         models.EndpointClass
	}{
		{http.MethodPost, "/api/users/login", models.ClassAuth},
		{http.MethodPost, "/api/users/register", models.ClassAuth},
		{http.MethodGet, "/api/users/me", models.ClassRead},
		{http.MethodPut, "/api/verifications/abc", models.ClassWrite},
		{http.MethodPost, "/api/verifications/request", models.ClassWrite},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, models.Classify(httptest.NewRequest(tt.method, tt.path, nil)), tt.method+" "+tt.path)
	}
}
