package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"streamads/internal/auth"
	"streamads/internal/config"
	"streamads/internal/logger"

	"github.com/gin-gonic/gin"
)

// maxErrorBody caps how much of a non-JSON backend error is copied into the JSON error.
const maxErrorBody = 4 << 10

type contextKey string

const (
	backendPathContextKey = contextKey("backendPath")
	bearerContextKey      = contextKey("bearerToken")
)

// Proxy relays requests to the marketplace backend and hands its response
// back with the same status code.
type Proxy struct {
	reverseProxy *httputil.ReverseProxy
	targetURL    *url.URL
	logger       *slog.Logger
}

// New creates a Proxy for the configured backend.
func New(cfg config.BackendConfig, log *slog.Logger) (*Proxy, error) {
	targetURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if targetURL.Scheme == "" || targetURL.Host == "" {
		return nil, fmt.Errorf("backend url %q must include scheme and host", cfg.BaseURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.TimeoutDuration()

	proxy := &Proxy{
		targetURL: targetURL,
		logger:    logger.Component(log, "proxy"),
	}
	proxy.reverseProxy = &httputil.ReverseProxy{
		Director:       proxy.director,
		Transport:      transport,
		ModifyResponse: proxy.modifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrAbortHandler) {
				proxy.logger.Warn("Client disconnected", "path", r.URL.Path, "error", err)
				return
			}
			proxy.logger.Error("Backend request failed", "path", r.URL.Path, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		},
	}
	return proxy, nil
}

// Handler forwards requests matched by route to its backend path.
func (p *Proxy) Handler(route Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		backendPath, ok := expandPath(route.Backend, c.Params)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid path"})
			return
		}
		ctx := context.WithValue(c.Request.Context(), backendPathContextKey, backendPath)
		if claims, ok := auth.ClaimsFrom(c); ok {
			ctx = context.WithValue(ctx, bearerContextKey, claims.Token)
		}
		p.reverseProxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}

func (p *Proxy) director(req *http.Request) {
	backendPath, _ := req.Context().Value(backendPathContextKey).(string)
	rawPath := strings.TrimSuffix(p.targetURL.EscapedPath(), "/") + backendPath

	req.URL.Scheme = p.targetURL.Scheme
	req.URL.Host = p.targetURL.Host
	req.Host = p.targetURL.Host
	req.URL.RawPath = rawPath
	if path, err := url.PathUnescape(rawPath); err == nil {
		req.URL.Path = path
	} else {
		req.URL.Path = rawPath
		req.URL.RawPath = ""
	}
	// RawQuery is left untouched so the client's query string reaches the backend verbatim.

	// Only the validated session token is forwarded; anything else the client sent is dropped.
	if token, _ := req.Context().Value(bearerContextKey).(string); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}
	req.Header.Del("Cookie")

	p.logger.Debug("Proxying request", "method", req.Method, "backend_path", req.URL.Path)
}

// modifyResponse marks relayed responses uncacheable and turns non-JSON
// backend errors into a JSON error body with the same status.
func (p *Proxy) modifyResponse(resp *http.Response) error {
	resp.Header.Set("Cache-Control", "no-store")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	if resp.Header.Get("Content-Encoding") == "" && resp.Body != nil {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if err != nil {
			return fmt.Errorf("failed to read backend error body: %w", err)
		}
		if text := strings.TrimSpace(string(body)); text != "" {
			message = text
		}
	}
	if resp.Body != nil {
		resp.Body.Close()
	}

	payload, err := json.Marshal(gin.H{"error": message})
	if err != nil {
		return err
	}
	p.logger.Debug("Backend returned error", "status", resp.StatusCode, "path", resp.Request.URL.Path)

	resp.Body = io.NopCloser(bytes.NewReader(payload))
	resp.ContentLength = int64(len(payload))
	resp.Header.Set("Content-Length", strconv.Itoa(len(payload)))
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp.Header.Del("Content-Encoding")
	return nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(gin.H{"error": message})
}
