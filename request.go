package tally

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/monzo/terrors"
)

// A Request wraps the inbound http.Request. It is also the context.Context of the query it carries, so it can be
// passed straight to an EndPoint.
type Request struct {
	http.Request
	context.Context
	params httprouter.Params
	err    error // Any error from request construction; read by ErrorFilter
}

// Param returns the value of the named path parameter, or "" if the route did not capture one.
func (r Request) Param(name string) string {
	return r.params.ByName(name)
}

// Args decodes the JSON in the args query parameter. A request without one has nil args.
func (r Request) Args() (interface{}, error) {
	if r.URL == nil {
		return nil, nil
	}
	raw := r.URL.Query().Get("args")
	if raw == "" {
		return nil, nil
	}
	var args interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, terrors.BadRequest("bad_args", fmt.Sprintf("args is not valid JSON: %v", err), map[string]string{
			"args": raw})
	}
	return args, nil
}

// Response constructs a new Response to the request, and if non-nil, encodes the given body into it.
func (r Request) Response(body interface{}) Response {
	rsp := NewResponse(r)
	if body != nil {
		rsp.Encode(body)
	}
	return rsp
}

func (r Request) String() string {
	if r.URL == nil {
		return "Request(Unknown)"
	}
	return fmt.Sprintf("Request(%s %s)", r.Method, r.URL.Path)
}

// NewRequest constructs a new body-less Request. It is mostly useful for calling a Service directly.
func NewRequest(ctx context.Context, method, url string) Request {
	if ctx == nil {
		ctx = context.Background()
	}
	httpReq, err := http.NewRequest(method, url, nil)
	req := Request{
		Context: ctx,
		err:     err}
	if httpReq != nil {
		httpReq.Body = &bufCloser{}
		req.Request = *httpReq
	}
	return req
}
