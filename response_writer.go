package tally

import (
	"net/http"
)

// A ResponseWriter populates a Response through the http.ResponseWriter interface.
type ResponseWriter interface {
	http.ResponseWriter
	// WriteJSON writes the given data as JSON to the Response.
	WriteJSON(interface{})
	// WriteError sets the Response's error; ErrorFilter renders it.
	WriteError(err error)
}

type responseWriterWrapper struct {
	r *Response
}

func (rw responseWriterWrapper) Header() http.Header {
	return rw.r.Header
}

func (rw responseWriterWrapper) Write(b []byte) (int, error) {
	return rw.r.Write(b)
}

func (rw responseWriterWrapper) WriteHeader(status int) {
	rw.r.StatusCode = status
}

func (rw responseWriterWrapper) WriteJSON(v interface{}) {
	rw.r.Encode(v)
}

func (rw responseWriterWrapper) WriteError(err error) {
	rw.r.Error = err
}
