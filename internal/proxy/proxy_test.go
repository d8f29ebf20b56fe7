package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamads/internal/auth"
	"streamads/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closeNotifierRecorder is a custom ResponseRecorder that implements http.CloseNotifier
type closeNotifierRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifierRecorder() *closeNotifierRecorder {
	return &closeNotifierRecorder{
		ResponseRecorder: httptest.NewRecorder(),
		closed:           make(chan bool, 1),
	}
}

func (r *closeNotifierRecorder) CloseNotify() <-chan bool {
	return r.closed
}

type backendCall struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func setupRouter(t *testing.T, backendURL string) (*gin.Engine, *auth.Verifier) {
	gin.SetMode(gin.TestMode)

	verifier, err := auth.NewVerifier(config.AuthConfig{JWTSecret: "test-secret"})
	require.NoError(t, err)

	p, err := New(config.BackendConfig{BaseURL: backendURL, Timeout: "2s"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	router := gin.New()
	RegisterRoutes(router, p, verifier, DefaultRoutes)
	return router, verifier
}

func signed(t *testing.T, v *auth.Verifier, role auth.Role) string {
	token, err := v.Sign("user-1", role, time.Hour)
	require.NoError(t, err)
	return token
}

func TestProxy_ForwardsRequest(t *testing.T) {
	calls := make(chan backendCall, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- backendCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, auth: r.Header.Get("Authorization"), body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"c1"}`)
	}))
	defer backend.Close()

	router, verifier := setupRouter(t, backend.URL+"/v1")
	token := signed(t, verifier, auth.RoleBrand)

	req, _ := http.NewRequest(http.MethodPost, "/api/campaigns/c1/join?ref=abc&x=1", bytes.NewBufferString(`{"name":"Launch"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rr := newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"id":"c1"}`, rr.Body.String())
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	call := <-calls
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/v1/campaigns/c1/join", call.path)
	assert.Equal(t, "ref=abc&x=1", call.query)
	assert.Equal(t, "Bearer "+token, call.auth)
	assert.Equal(t, `{"name":"Launch"}`, call.body)
}

func TestProxy_Authorization(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	router, verifier := setupRouter(t, backend.URL)

	// No session
	req, _ := http.NewRequest(http.MethodGet, "/api/wallet/balance", nil)
	rr := newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	// Brand on an admin route
	req, _ = http.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, verifier, auth.RoleBrand))
	rr = newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// Admin on the same route
	req.Header.Set("Authorization", "Bearer "+signed(t, verifier, auth.RoleAdmin))
	rr = newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestProxy_PublicOverlay(t *testing.T) {
	calls := make(chan backendCall, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- backendCall{path: r.URL.Path, auth: r.Header.Get("Authorization")}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<div>overlay</div>")
	}))
	defer backend.Close()

	router, _ := setupRouter(t, backend.URL)

	req, _ := http.NewRequest(http.MethodGet, "/api/overlay/tok%20en/state", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rr := newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<div>overlay</div>", rr.Body.String())
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	call := <-calls
	assert.Equal(t, "/overlay/tok en/state", call.path)
	assert.Empty(t, call.auth)
}

func TestProxy_BackendErrors(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/kyc/json-error":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			io.WriteString(w, `{"message":"document rejected"}`)
		case "/kyc/text-error":
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, "no such submission\n")
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer backend.Close()

	router, verifier := setupRouter(t, backend.URL)
	token := signed(t, verifier, auth.RoleStreamer)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{"/api/kyc/json-error", http.StatusUnprocessableEntity, `{"message":"document rejected"}`},
		{"/api/kyc/text-error", http.StatusNotFound, `{"error":"no such submission"}`},
		{"/api/kyc/empty", http.StatusBadGateway, `{"error":"Bad Gateway"}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := newCloseNotifierRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}
}

func TestProxy_BackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := backend.URL
	backend.Close()

	router, verifier := setupRouter(t, url)

	req, _ := http.NewRequest(http.MethodGet, "/api/notifications/unread", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, verifier, auth.RoleStreamer))
	rr := newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rr.Body.String())
}

func TestNew_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Pass an invalid URL with a control character to force a parse error
	_, err := New(config.BackendConfig{BaseURL: "http://\x7f.com"}, logger)
	assert.Error(t, err)

	_, err = New(config.BackendConfig{BaseURL: "localhost"}, logger)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	params := gin.Params{
		{Key: "token", Value: "a/b"},
		{Key: "path", Value: "/x/y"},
	}
	path, ok := expandPath("/overlay/:token/*path", params)
	assert.True(t, ok)
	assert.Equal(t, "/overlay/a%2Fb/x/y", path)

	path, ok = expandPath("/campaigns/*path", gin.Params{{Key: "path", Value: "/"}})
	assert.True(t, ok)
	assert.Equal(t, "/campaigns", path)

	path, ok = expandPath("/", nil)
	assert.True(t, ok)
	assert.Equal(t, "/", path)

	_, ok = expandPath("/campaigns/*path", gin.Params{{Key: "path", Value: "/../admin/users"}})
	assert.False(t, ok)
	_, ok = expandPath("/campaigns/*path", gin.Params{{Key: "path", Value: "/a/./b"}})
	assert.False(t, ok)
	_, ok = expandPath("/overlay/:token/*path", gin.Params{{Key: "token", Value: ".."}, {Key: "path", Value: "/x"}})
	assert.False(t, ok)

	path, ok = expandPath("/campaigns/*path", gin.Params{{Key: "path", Value: "/v1..2/..hidden"}})
	assert.True(t, ok)
	assert.Equal(t, "/campaigns/v1..2/..hidden", path)
}

func TestProxy_RejectsDotSegments(t *testing.T) {
	calls := make(chan backendCall, 4)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- backendCall{path: r.URL.Path}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	router, verifier := setupRouter(t, backend.URL)
	token := signed(t, verifier, auth.RoleStreamer)

	// Streamers cannot reach admin routes directly
	req, _ := http.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := newCloseNotifierRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	for _, path := range []string{
		"/api/campaigns/../admin/users",
		"/api/campaigns/%2e%2e/admin/users",
		"/api/campaigns/%2E%2E/admin/users",
		"/api/campaigns/./list",
		"/api/overlay/../campaigns/list",
	} {
		t.Run(path, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := newCloseNotifierRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.JSONEq(t, `{"error":"Invalid path"}`, rr.Body.String())
		})
	}

	assert.Empty(t, calls, "backend must not be called")
}
