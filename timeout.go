package tally

import (
	"context"
	"strconv"
	"time"

	"github.com/monzo/terrors"
)

// TimeoutFilter bounds each request by defaultTimeout, or by the number of milliseconds in its Timeout header. A
// request which overruns fails with a timeout error.
func TimeoutFilter(defaultTimeout time.Duration) Filter {
	return func(req Request, svc Service) Response {
		timeout := defaultTimeout
		if t, err := strconv.Atoi(req.Header.Get("Timeout")); err == nil && t > 0 {
			timeout = time.Duration(t) * time.Millisecond
		}
		if timeout <= 0 {
			return svc(req)
		}

		var cancel context.CancelFunc
		req.Context, cancel = context.WithTimeout(req.Context, timeout)
		defer cancel()

		rspChan := make(chan Response, 1)
		go func() {
			rspChan <- svc(req)
		}()

		select {
		case rsp := <-rspChan:
			return rsp
		case <-req.Context.Done():
			return Response{
				Error: terrors.Timeout("", "Request timed out", nil)}
		}
	}
}
