package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edlab/edlab/internal/config"
	"github.com/edlab/edlab/internal/metrics"
	"github.com/edlab/edlab/internal/service"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRequireAuth(t *testing.T) {
	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey:     "0123456789abcdef0123456789abcdef",
		AccessExpiry:  time.Minute,
		RefreshExpiry: time.Hour,
	}, quietLogger())
	require.NoError(t, err)
	pair, _, err := jwtService.IssuePair("user_1", "+15550001", "")
	require.NoError(t, err)

	var gotPhone string
	handler := NewAuthMiddleware(jwtService, quietLogger()).RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPhone, _ = PhoneFromContext(r.Context())
		if claims, ok := ClaimsFromContext(r.Context()); assert.True(t, ok) {
			assert.Equal(t, "user_1", claims.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		header  string
		want    int
		message string
	}{
		{name: "valid access token", header: "Bearer " + pair.AccessToken, want: http.StatusNoContent},
		{name: "missing header", header: "", want: http.StatusUnauthorized, message: "Missing authorization header"},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized, message: "Invalid authorization header format"},
		{name: "refresh token", header: "Bearer " + pair.RefreshToken, want: http.StatusUnauthorized, message: "Invalid or expired token"},
		{name: "garbage", header: "Bearer nope", want: http.StatusUnauthorized, message: "Invalid or expired token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPhone = ""
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.want, rec.Code)
			if tt.message != "" {
				body := decodeError(t, rec)
				assert.False(t, body.Success)
				assert.Equal(t, tt.message, body.Message)
				assert.Empty(t, gotPhone)
				return
			}
			assert.Equal(t, "+15550001", gotPhone)
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("listed origin", func(t *testing.T) {
		h := CORS([]string{"http://localhost:3000"})(next)
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unlisted origin", func(t *testing.T) {
		h := CORS([]string{"http://localhost:3000"})(next)
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight", func(t *testing.T) {
		h := CORS([]string{"*"})(next)
		req := httptest.NewRequest(http.MethodOptions, "/api/tokens/deduct", nil)
		req.Header.Set("Origin", "http://anything.example")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	})
}

func TestRecovery(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("kaboom") })

	t.Run("development exposes stack", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Recovery(quietLogger(), true)(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "kaboom", body.Message)
		assert.NotEmpty(t, body.Stack)
	})

	t.Run("production hides stack", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Recovery(quietLogger(), false)(panicking).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "Internal server error", body.Message)
		assert.Empty(t, body.Stack)
	})
}

func TestRequestLoggerRecordsRouteTemplate(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(RequestLogger(quietLogger(), m))
	router.HandleFunc("/api/tokens/balance/{phoneNumber}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	for _, phone := range []string{"+15550001", "+15550002"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tokens/balance/"+phone, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/tokens/balance/{phoneNumber}", http.MethodGet, "200")))
}

func TestIPRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewIPRateLimiter(ctx, 0.001, 2, quietLogger())
	h := limiter.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/send-otp", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1111"))
	assert.Equal(t, http.StatusOK, send("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:3333"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1111"), "buckets are per IP")
}
