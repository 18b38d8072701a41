package tally

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/monzo/terrors"
)

var mapTerr2Status = map[string]int{
	terrors.ErrBadRequest:         http.StatusBadRequest,          // 400
	terrors.ErrForbidden:          http.StatusForbidden,           // 403
	terrors.ErrInternalService:    http.StatusInternalServerError, // 500
	terrors.ErrNotFound:           http.StatusNotFound,            // 404
	terrors.ErrPreconditionFailed: http.StatusPreconditionFailed,  // 412
	terrors.ErrTimeout:            http.StatusGatewayTimeout,      // 504
	terrors.ErrUnauthorized:       http.StatusUnauthorized,        // 401
	terrors.ErrRateLimited:        http.StatusTooManyRequests,     // 429
}

// ErrorStatusCode returns a HTTP status code for the given error.
//
// If the error is not a terror, this will always be 500 (Internal Server Error).
func ErrorStatusCode(err error) int {
	code := terrors.Wrap(err, nil).(*terrors.Error).Code
	if c, ok := mapTerr2Status[strings.SplitN(code, ".", 2)[0]]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// ErrorFilter turns a response error into a terror body with a matching status code and a Terror: 1 header. Bodies
// are JSON unless the request asked for application/protobuf.
func ErrorFilter(req Request, svc Service) Response {
	var rsp Response
	if req.err != nil {
		rsp = NewResponse(req)
		rsp.Error = req.err
	} else {
		rsp = svc(req)
		if rsp.Response == nil {
			rsp.Response = newHTTPResponse(req, http.StatusOK)
		}
	}
	if rsp.Request == nil {
		rsp.Request = &req
	}

	if rsp.Error != nil && rsp.Error.Error() == "" {
		rsp.Error = fmt.Errorf("Response error (%d)", rsp.StatusCode)
	}

	if rsp.Error != nil && rsp.StatusCode < 400 {
		if rsp.Body != nil {
			rsp.Body.Close()
		}
		rsp.Body = &bufCloser{}
		rsp.ContentLength = 0
		terr := terrors.Wrap(rsp.Error, nil).(*terrors.Error)
		rsp.Encode(terrors.Marshal(terr))
		rsp.Error = terr
		rsp.StatusCode = ErrorStatusCode(terr)
		rsp.Header.Set("Terror", "1")
	}
	return rsp
}
