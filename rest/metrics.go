package rest

import (
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generic client metrics.
var (
	requestCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orthanc_client_request_count",
		Help: "Total number of requests by route",
	}, []string{"method", "route"})

	requestSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orthanc_client_request_seconds",
		Help: "Total amount of request time by route, in seconds",
	}, []string{"method", "route"})
)

// trackMetrics records a completed request under its route family.
func trackMetrics(resp *resty.Response) {
	method := resp.Request.Method
	route := routeLabel(resp.Request.RawRequest.URL.Path)

	requestCount.WithLabelValues(method, route).Inc()
	requestSeconds.WithLabelValues(method, route).Add(resp.Time().Seconds())
}

// routeLabel maps a request path to its leading segment ("studies", "series",
// "instances", "tools", ...) to keep label cardinality bounded: resource
// identifiers never become label values.
func routeLabel(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}
