package tally

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"
	"github.com/monzo/terrors"
)

// A Router multiplexes requests to a set of Services by method and path, extracting path parameters on the way. The
// zero value is an empty Router.
//
// Pattern syntax is httprouter's: /v1/query/:app captures one segment, /files/*path captures the rest.
type Router struct {
	m sync.RWMutex
	r *httprouter.Router
}

// routeCapture is what a registered handle is invoked with at lookup time: the handle hands over its Service rather
// than serving anything.
type routeCapture struct {
	http.ResponseWriter
	svc Service
}

// Register associates a Service with a method and path. It panics if the pattern conflicts with one already
// registered.
func (r *Router) Register(method, pattern string, svc Service) {
	r.m.Lock()
	defer r.m.Unlock()
	if r.r == nil {
		r.r = httprouter.New()
	}
	r.r.Handle(method, pattern, func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.(*routeCapture).svc = svc
	})
}

// Lookup returns the Service and extracted path parameters for the HTTP method and path.
func (r *Router) Lookup(method, path string) (Service, httprouter.Params, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	if r.r == nil {
		return nil, nil, false
	}
	h, params, _ := r.r.Lookup(method, path)
	if h == nil {
		return nil, nil, false
	}
	c := &routeCapture{}
	h(c, nil, params)
	return c.svc, params, c.svc != nil
}

// Serve returns a Service which will route inbound requests to the enclosed routes.
func (r *Router) Serve() Service {
	return func(req Request) Response {
		svc, params, ok := r.Lookup(req.Method, req.URL.Path)
		if !ok {
			txt := fmt.Sprintf("No handler for %s %s", req.Method, req.URL.Path)
			rsp := NewResponse(req)
			rsp.Error = terrors.NotFound("no_handler", txt, nil)
			return rsp
		}
		req.params = params
		return svc(req)
	}
}

// GET is shorthand for Register("GET", pattern, svc).
func (r *Router) GET(pattern string, svc Service) { r.Register(http.MethodGet, pattern, svc) }

// POST is shorthand for Register("POST", pattern, svc).
func (r *Router) POST(pattern string, svc Service) { r.Register(http.MethodPost, pattern, svc) }
