package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"streamads/internal/auth"
	"streamads/internal/config"
	"streamads/internal/db"
	"streamads/internal/events"
	"streamads/internal/gkey"
	"streamads/internal/model"
	"streamads/internal/proxy"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomRecovery_Panic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logBuf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	router := gin.New()
	router.Use(customRecovery(testLogger))
	router.GET("/", func(c *gin.Context) {
		panic("test panic")
	})

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"Internal server error"}`, rr.Body.String())
	assert.Contains(t, logBuf.String(), "Panic recovered")
	assert.Contains(t, logBuf.String(), "test panic")
}

func TestCustomRecovery_AbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var logBuf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	router := gin.New()
	router.Use(customRecovery(testLogger))
	router.GET("/", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	// The status code is not set when aborting, so we check the log
	assert.Contains(t, logBuf.String(), "Client connection aborted")
	assert.NotContains(t, logBuf.String(), "Panic recovered")
}

// closeNotifier is a custom ResponseWriter that implements http.CloseNotifier
type closeNotifier struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifier() *closeNotifier {
	return &closeNotifier{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
}

func (cn *closeNotifier) CloseNotify() <-chan bool {
	return cn.closed
}

type e2eEnv struct {
	router   *gin.Engine
	db       db.Service
	verifier *auth.Verifier
}

// setupE2E wires the full router from a config file, the way main does.
func setupE2E(t *testing.T, backendURL string) *e2eEnv {
	tempConfig := `
port: 8081
debug: false
database:
  type: "sqlite"
  dsn: "file:streamads_e2e_` + t.Name() + `?mode=memory&cache=shared"
backend:
  base_url: "` + backendURL + `"
  timeout: "2s"
auth:
  jwt_secret: "e2e-secret"
  issuer: "streamads-e2e"
scheduler:
  cooloff_sweep: "@every 1m"
`
	configPath := t.TempDir() + "/config.yaml"
	require.NoError(t, os.WriteFile(configPath, []byte(tempConfig), 0644))

	cfg, warning, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	assert.Empty(t, warning)

	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	dbService, err := db.NewService(cfg.Database)
	require.NoError(t, err)

	bus := events.NewBus(cfg.Events.BufferSize, log)
	t.Cleanup(func() { bus.Close() })

	verifier, err := auth.NewVerifier(cfg.Auth)
	require.NoError(t, err)
	backendProxy, err := proxy.New(cfg.Backend, log)
	require.NoError(t, err)

	router := newRouter(routerDeps{
		gkeys:    gkey.NewService(dbService, bus, log),
		db:       dbService,
		verifier: verifier,
		proxy:    backendProxy,
		logger:   log,
	})
	return &e2eEnv{router: router, db: dbService, verifier: verifier}
}

func (e *e2eEnv) request(t *testing.T, method, path, body, userID string, role auth.Role) *closeNotifier {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		token, err := e.verifier.Sign(userID, role, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := newCloseNotifier()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestGKeyRoutesE2E(t *testing.T) {
	env := setupE2E(t, "http://127.0.0.1:1")

	// 1. Streamer joins a campaign from brand b1
	resp := env.request(t, http.MethodPost, "/api/g-keys/acquire", `{"category":"Technology","campaignId":"c1","brandId":"b1"}`, "streamer-1", auth.RoleStreamer)
	require.Equal(t, http.StatusOK, resp.Code)

	// 2. A second campaign cannot take the key
	resp = env.request(t, http.MethodPost, "/api/g-keys/acquire", `{"category":"technology","campaignId":"c2","brandId":"b2"}`, "streamer-1", auth.RoleStreamer)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "already in use by another campaign")

	// 3. Campaign completes with a 24h cooloff
	resp = env.request(t, http.MethodPost, "/api/g-keys/release", `{"category":"technology","campaignId":"c1","brandId":"b1","cooloffHours":24}`, "streamer-1", auth.RoleStreamer)
	require.Equal(t, http.StatusOK, resp.Code)

	// 4. Another brand is refused with the cooloff end
	resp = env.request(t, http.MethodPost, "/api/g-keys/acquire", `{"category":"technology","campaignId":"c3","brandId":"b2"}`, "streamer-1", auth.RoleStreamer)
	assert.Equal(t, http.StatusConflict, resp.Code)
	var refused map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &refused))
	assert.Equal(t, "KEY_IN_COOLOFF", refused["code"])
	assert.NotEmpty(t, refused["cooloffEndsAt"])

	// 5. The same brand may come back during cooloff
	resp = env.request(t, http.MethodPost, "/api/g-keys/acquire", `{"category":"TECHNOLOGY","campaignId":"c4","brandId":"b1"}`, "streamer-1", auth.RoleStreamer)
	assert.Equal(t, http.StatusOK, resp.Code)

	// 6. The key reads as locked by c4
	resp = env.request(t, http.MethodGet, "/api/g-keys/category/technology", "", "streamer-1", auth.RoleStreamer)
	require.Equal(t, http.StatusOK, resp.Code)
	var key model.GKey
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &key))
	assert.Equal(t, model.GKeyLocked, key.Status)
	require.NotNil(t, key.LockedWith)
	assert.Equal(t, "c4", *key.LockedWith)

	// 7. Admin sees it
	resp = env.request(t, http.MethodGet, "/api/g-keys/admin/keys?status=locked", "", "admin-1", auth.RoleAdmin)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"lockedWith":"c4"`)

	// 8. Health check needs no session
	resp = env.request(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestProxyRoutesE2E(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" && r.URL.Path != "/overlay/ov-1/widget" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"path":"`+r.URL.Path+`"}`)
	}))
	defer backend.Close()

	env := setupE2E(t, backend.URL)

	resp := env.request(t, http.MethodGet, "/api/wallet/balance", "", "brand-1", auth.RoleBrand)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"path":"/wallet/balance"}`, resp.Body.String())

	resp = env.request(t, http.MethodGet, "/api/overlay/ov-1/widget", "", "", "")
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = env.request(t, http.MethodGet, "/api/campaigns/list", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}
