package internal

import (
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
)

func TestPublicIngestionRouteRateLimited(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	routes := srv.App.GetRoutes(true)

	var pageviewRoute *fiber.Route
	for idx := range routes {
		route := routes[idx]
		if route.Method == fiber.MethodPost && route.Path == "/x/api/v1/pageviews" {
			pageviewRoute = &routes[idx]
			break
		}
	}

	require.NotNil(t, pageviewRoute, "expected pageview ingestion route to be registered")

	// The rate limiter is wrapped in a conditional function that only applies
	// in production. In test environment, it passes through but the wrapper
	// still exists. Check for the conditional wrapper (defined in MountAppRoutes).
	hasRateLimiter := false
	var handlerNames []string
	for _, handler := range pageviewRoute.Handlers {
		name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
		handlerNames = append(handlerNames, name)
		// Check for either the raw limiter or our conditional wrapper
		if strings.Contains(name, "middleware/limiter") || strings.Contains(name, "MountAppRoutes.func") {
			hasRateLimiter = true
			break
		}
	}

	require.Truef(t, hasRateLimiter, "expected rate limiter middleware for pageview ingestion route, handlers: %v", handlerNames)
}

func TestAdminRoutesGuarded(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	routes := srv.App.GetRoutes(true)

	adminPaths := map[string]bool{
		"/admin/api/overview":    false,
		"/admin/api/stats/daily": false,
		"/admin/api/alerts":      false,
	}

	for _, route := range routes {
		if route.Method != fiber.MethodGet {
			continue
		}
		if _, ok := adminPaths[route.Path]; !ok {
			continue
		}

		for _, handler := range route.Handlers {
			name := runtime.FuncForPC(reflect.ValueOf(handler).Pointer()).Name()
			if strings.Contains(name, "AdminBasicAuth") {
				adminPaths[route.Path] = true
				break
			}
		}
	}

	for path, guarded := range adminPaths {
		require.Truef(t, guarded, "expected basic auth middleware on %s", path)
	}
}

func TestHealthRouteRegistered(t *testing.T) {
	srv := testsupport.NewTestServer(t, testsupport.TestServerOptions{
		RouteMountFunc: MountAppRoutes,
	})
	routes := srv.App.GetRoutes(true)

	var hasGet, hasHead bool
	for _, route := range routes {
		if route.Path != "/_health" {
			continue
		}
		switch route.Method {
		case fiber.MethodGet:
			hasGet = true
		case fiber.MethodHead:
			hasHead = true
		}
	}

	require.True(t, hasGet, "expected GET /_health to be registered")
	require.True(t, hasHead, "expected HEAD /_health to be registered")
}
