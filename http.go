package tally

import (
	"io"
	"net/http"

	"github.com/monzo/slog"
)

// HttpHandler adapts a Service to net/http. The request's context is cancelled when the client goes away, which
// cuts short any query it is waiting on.
func HttpHandler(svc Service) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, httpReq *http.Request) {
		if httpReq.Body != nil {
			defer httpReq.Body.Close()
		}

		req := Request{
			Context: httpReq.Context(),
			Request: *httpReq}
		rsp := svc(req)
		if rsp.Response == nil {
			rsp.Response = newHTTPResponse(req, http.StatusOK)
		}

		// Write the response out to the wire
		for k, v := range rsp.Header {
			if k == "Content-Length" {
				continue
			}
			rw.Header()[k] = v
		}
		rw.WriteHeader(rsp.StatusCode)
		if rsp.Body != nil {
			defer rsp.Body.Close()
			if _, err := io.Copy(rw, rsp.Body); err != nil {
				slog.Error(req, "Error copying response body: %v", err)
			}
		}
	})
}

// HandlerService adapts a plain http.Handler to a Service.
func HandlerService(h http.Handler) Service {
	return func(req Request) Response {
		rsp := NewResponse(req)
		r := req.Request.WithContext(req.Context)
		h.ServeHTTP(rsp.Writer(), r)
		return rsp
	}
}
