package server

import (
	"net/http"

	"github.com/demo/eksdemo/internal/greeting"
	"github.com/demo/eksdemo/internal/openapi"
	"github.com/demo/eksdemo/internal/platform/health"
)

func jsonOK(description string, example any) openapi.Response {
	return openapi.Response{Status: http.StatusOK, Description: description, ContentType: "application/json", Example: example}
}

// publishedRoutes describes the routes New mounts for /openapi.json.
func publishedRoutes(home, metrics bool) []openapi.Route {
	var routes []openapi.Route
	if home {
		routes = append(routes, openapi.Route{
			Method:      http.MethodGet,
			Path:        "/",
			OperationID: "getGreeting",
			Summary:     "Return the greeting and count the request",
			Tag:         "greeting",
			Responses: []openapi.Response{{
				Status:      http.StatusOK,
				Description: "Fixed greeting",
				ContentType: "text/plain",
				Example:     greeting.Message,
			}},
		})
	}

	routes = append(routes,
		openapi.Route{
			Method:      http.MethodGet,
			Path:        "/health",
			OperationID: "getHealth",
			Summary:     "Liveness check",
			Tag:         "platform",
			Responses:   []openapi.Response{jsonOK("Process is alive", map[string]any{"status": "ok"})},
		},
		openapi.Route{
			Method:      http.MethodGet,
			Path:        "/readyz",
			OperationID: "getReadiness",
			Summary:     "Readiness check",
			Tag:         "platform",
			Responses: []openapi.Response{
				jsonOK("All dependencies healthy", map[string]any{"status": health.StatusReady}),
				{Status: http.StatusServiceUnavailable, Description: "A dependency is unhealthy", ContentType: "application/json", Example: map[string]any{"status": health.StatusDegraded}},
			},
		},
	)

	if metrics {
		routes = append(routes, openapi.Route{
			Method:      http.MethodGet,
			Path:        "/metrics",
			OperationID: "getMetrics",
			Summary:     "Prometheus exposition",
			Tag:         "platform",
			Responses: []openapi.Response{{
				Status:      http.StatusOK,
				Description: "Text exposition format",
				ContentType: "text/plain",
			}},
		})
	}
	return routes
}
