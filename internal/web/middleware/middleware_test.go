package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/recordkeeper/internal/config"
)

// =============================================================================
// API key auth
// =============================================================================

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		cfg    config.SecurityConfig
		key    string
		status int
	}{
		{"disabled", config.SecurityConfig{}, "", http.StatusNoContent},
		{"missing key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a"}}, "", http.StatusUnauthorized},
		{"wrong key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a"}}, "b", http.StatusForbidden},
		{"second key", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"a", "b"}}, "b", http.StatusNoContent},
		{"no keys configured", config.SecurityConfig{RequireAPIKey: true}, "a", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(&tt.cfg)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

// =============================================================================
// Real IP
// =============================================================================

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted source keeps remote", []string{"10.0.0.0/8"}, "192.0.2.1:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, "192.0.2.1"},
		{"trusted real ip", []string{"10.0.0.0/8"}, "10.1.2.3:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"trusted forwarded for", []string{"10.1.2.3"}, "10.1.2.3:5000", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.1.2.3"}, "203.0.113.7"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:5000", map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3"},
		{"no proxies", nil, "192.0.2.1:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, "192.0.2.1"},
		{"forwarded for skips trusted hops", []string{"10.0.0.0/8"}, "10.0.0.9:5000", map[string]string{"X-Forwarded-For": "198.51.100.4, 203.0.113.7, 10.0.0.5"}, "203.0.113.7"},
		{"forwarded for all trusted", []string{"10.0.0.0/8"}, "10.0.0.9:5000", map[string]string{"X-Forwarded-For": "10.0.0.7, 10.0.0.5"}, "10.0.0.7"},
		{"forwarded for malformed hop", []string{"10.0.0.0/8"}, "10.0.0.9:5000", map[string]string{"X-Forwarded-For": "203.0.113.7, junk"}, "10.0.0.9"},
		{"ipv6 remote", []string{"10.0.0.0/8"}, "[2001:db8::1]:443", nil, "2001:db8::1"},
		{"mapped ipv4 trusted", []string{"10.1.2.3"}, "[::ffff:10.1.2.3]:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
		{"invalid proxy entry skipped", []string{"nonsense", "10.0.0.0/8"}, "10.1.2.3:5000", map[string]string{"X-Real-IP": "203.0.113.9"}, "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ClientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", ClientIP(req))
}

// =============================================================================
// Metrics and logging
// =============================================================================

type observation struct {
	method, route string
	status        int
}

type fakeRecorder struct{ got []observation }

func (f *fakeRecorder) HTTPRequest(method, route string, status int, _ time.Duration) {
	f.got = append(f.got, observation{method, route, status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	rec := &fakeRecorder{}
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/api/documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/documents/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Len(t, rec.got, 2)
	assert.Equal(t, observation{"GET", "/api/documents/{id}", http.StatusTeapot}, rec.got[0])
	assert.Equal(t, http.StatusNotFound, rec.got[1].status)
}

func TestResponseWriterCapturesStatusAndBytes(t *testing.T) {
	ww := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	ww.WriteHeader(http.StatusCreated)
	ww.WriteHeader(http.StatusInternalServerError)
	_, err := ww.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, ww.status)
	assert.Equal(t, 5, ww.bytes)
}
