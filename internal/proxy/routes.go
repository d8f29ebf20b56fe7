package proxy

import (
	"net/url"
	"strings"

	"streamads/internal/auth"

	"github.com/gin-gonic/gin"
)

// Route maps a local path onto a backend path template.
//
// Path uses gin syntax. Backend may reference the same :param and *wildcard
// names, which are substituted from the matched request.
type Route struct {
	// Methods restricts the route; empty means any method.
	Methods    []string
	Path       string
	Backend    string
	Capability auth.Capability
	// Public routes skip the session check, e.g. overlays authenticated by path token.
	Public bool
}

// DefaultRoutes is the backend surface exposed through the gateway.
var DefaultRoutes = []Route{
	{Path: "/api/campaigns/*path", Backend: "/campaigns/*path", Capability: auth.CapCampaigns},
	{Path: "/api/wallet/*path", Backend: "/wallet/*path", Capability: auth.CapWallet},
	{Path: "/api/notifications/*path", Backend: "/notifications/*path", Capability: auth.CapNotifications},
	{Path: "/api/kyc/*path", Backend: "/kyc/*path", Capability: auth.CapKYC},
	{Path: "/api/admin/*path", Backend: "/admin/*path", Capability: auth.CapAdmin},
	{Methods: []string{"GET", "POST"}, Path: "/api/overlay/:token/*path", Backend: "/overlay/:token/*path", Public: true},
}

// RegisterRoutes mounts every route on router, guarded by the session and
// capability middleware unless the route is public.
func RegisterRoutes(router gin.IRouter, p *Proxy, verifier *auth.Verifier, routes []Route) {
	for _, route := range routes {
		var handlers []gin.HandlerFunc
		if !route.Public {
			handlers = append(handlers, auth.SessionMiddleware(verifier), auth.RequireCapability(route.Capability))
		}
		handlers = append(handlers, p.Handler(route))

		if len(route.Methods) == 0 {
			router.Any(route.Path, handlers...)
			continue
		}
		for _, method := range route.Methods {
			router.Handle(method, route.Path, handlers...)
		}
	}
}

// expandPath fills a backend template from the matched route params and
// returns the escaped path. Named params are escaped as a single segment;
// a wildcard keeps its slashes. It reports false when a param holds a "." or
// ".." segment, which would let the backend path leave the route's prefix.
func expandPath(template string, params gin.Params) (string, bool) {
	segments := strings.Split(template, "/")
	for i, segment := range segments {
		switch {
		case strings.HasPrefix(segment, ":"):
			value, _ := params.Get(segment[1:])
			if isDotSegment(value) {
				return "", false
			}
			segments[i] = url.PathEscape(value)
		case strings.HasPrefix(segment, "*"):
			value, _ := params.Get(segment[1:])
			parts := strings.Split(strings.TrimPrefix(value, "/"), "/")
			for j := range parts {
				if isDotSegment(parts[j]) {
					return "", false
				}
				parts[j] = url.PathEscape(parts[j])
			}
			segments[i] = strings.Join(parts, "/")
		}
	}

	path := strings.Join(segments, "/")
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path, true
}

// isDotSegment reports whether a decoded path segment is "." or "..".
func isDotSegment(segment string) bool {
	return segment == "." || segment == ".."
}
