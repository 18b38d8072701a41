package tally

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the body of GET /v1/status.
type Status struct {
	Group      string `json:"group"`
	Indicators int    `json:"indicators"`
}

// QueryRouter routes the HTTP query surface of ep:
//
//	GET /v1/query        every app's results, keyed by app name
//	GET /v1/query/:app   one app's results, as a list
//	GET /v1/status       the group and how many indicators are registered
//	GET /metrics         g in the Prometheus exposition format, if g is non-nil
//
// Both query routes accept an args query parameter holding JSON, which is passed to every indicator invoked.
func QueryRouter(ep *EndPoint, g prometheus.Gatherer) *Router {
	router := &Router{}
	router.GET("/v1/query", func(req Request) Response {
		args, err := req.Args()
		if err != nil {
			return Response{Error: err}
		}
		results, err := ep.InvokeAll(req, args)
		if err != nil {
			return Response{Error: err}
		}
		return req.Response(results)
	})
	router.GET("/v1/query/:app", func(req Request) Response {
		args, err := req.Args()
		if err != nil {
			return Response{Error: err}
		}
		results, err := ep.Invoke(req, req.Param("app"), args)
		if err != nil {
			return Response{Error: err}
		}
		if results == nil {
			results = []interface{}{}
		}
		return req.Response(results)
	})
	router.GET("/v1/status", func(req Request) Response {
		return req.Response(Status{
			Group:      ep.Group(),
			Indicators: ep.Len()})
	})
	if g != nil {
		router.GET("/metrics", HandlerService(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
	return router
}

// QueryService is the filtered Service for QueryRouter. timeout bounds every request, and should exceed the
// EndPoint's QueryTimeout so a slow indicator costs only its own results rather than the whole query. Zero leaves
// requests unbounded unless the caller sends a Timeout header.
func QueryService(ep *EndPoint, g prometheus.Gatherer, timeout time.Duration) Service {
	return QueryRouter(ep, g).Serve().
		Filter(ExpirationFilter).
		Filter(TimeoutFilter(timeout)).
		Filter(ErrorFilter)
}
