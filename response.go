package tally

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	legacyproto "github.com/golang/protobuf/proto"
	"github.com/monzo/terrors"
)

// A Response wraps the http.Response a Service produces.
type Response struct {
	*http.Response
	Error   error
	Request *Request // The Request that we are responding to
}

// Encode serialises the passed object into the body. Protobuf messages are sent as protobuf when the request's Accept
// header asks for it; everything else is JSON.
func (r *Response) Encode(v interface{}) {
	if r.Response == nil {
		r.Response = newHTTPResponse(Request{}, http.StatusOK)
	}
	if m, ok := v.(legacyproto.Message); ok && r.Request != nil &&
		strings.Contains(r.Request.Header.Get("Accept"), "application/protobuf") {
		r.EncodeAsProtobuf(m)
		return
	}
	r.EncodeAsJSON(v)
}

// EncodeAsJSON writes the response as JSON. This is the default encoding type when using Encode.
func (r *Response) EncodeAsJSON(v interface{}) {
	if err := json.NewEncoder(r).Encode(v); err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	r.Header.Set("Content-Type", "application/json")
}

// EncodeAsProtobuf writes the passed message as protobuf wire format into the body.
func (r *Response) EncodeAsProtobuf(m legacyproto.Message) {
	b, err := legacyproto.Marshal(m)
	if err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	if _, err := r.Write(b); err != nil {
		r.Error = terrors.Wrap(err, nil)
		return
	}
	r.Header.Set("Content-Type", "application/protobuf")
}

// Write writes the passed bytes to the response's body.
func (r *Response) Write(b []byte) (n int, err error) {
	if r.Response == nil {
		r.Response = newHTTPResponse(Request{}, http.StatusOK)
	}
	buf, ok := r.Body.(*bufCloser)
	if !ok {
		buf = &bufCloser{}
		if r.Body != nil {
			if _, err := io.Copy(buf, r.Body); err != nil {
				return 0, err
			}
			r.Body.Close()
		}
		r.Body = buf
	}
	n, err = buf.Write(b)
	r.ContentLength = int64(buf.Len())
	return n, err
}

// BodyBytes fully reads the response body and returns the bytes read. If consume is false, the body may be read
// again afterwards.
func (r *Response) BodyBytes(consume bool) ([]byte, error) {
	if consume {
		defer r.Body.Close()
		return io.ReadAll(r.Body)
	}

	switch rc := r.Body.(type) {
	case *bufCloser:
		return rc.Bytes(), nil
	default:
		buf := &bufCloser{}
		r.Body = buf
		defer rc.Close()
		return io.ReadAll(io.TeeReader(rc, buf))
	}
}

// Decode de-serialises a JSON body into v, or returns the response's error.
func (r *Response) Decode(v interface{}) error {
	if r.Error != nil {
		return r.Error
	}
	if r.Response == nil {
		return terrors.InternalService("", "Response has no body", nil)
	}
	b, err := r.BodyBytes(true)
	if err != nil {
		return terrors.WrapWithCode(err, nil, terrors.ErrBadResponse)
	}
	return terrors.WrapWithCode(json.Unmarshal(b, v), nil, terrors.ErrBadResponse)
}

// Writer returns a ResponseWriter which can be used to populate the response, so a plain http.Handler can serve
// into it.
func (r *Response) Writer() ResponseWriter {
	return responseWriterWrapper{
		r: r}
}

func (r Response) String() string {
	b := new(bytes.Buffer)
	fmt.Fprint(b, "Response(")
	if r.Response != nil {
		fmt.Fprintf(b, "%d", r.StatusCode)
	} else {
		fmt.Fprint(b, "???")
	}
	if r.Error != nil {
		fmt.Fprintf(b, ", error: %v", r.Error)
	}
	fmt.Fprint(b, ")")
	return b.String()
}

func newHTTPResponse(req Request, statusCode int) *http.Response {
	return &http.Response{
		StatusCode:    statusCode,
		Proto:         req.Proto,
		ProtoMajor:    req.ProtoMajor,
		ProtoMinor:    req.ProtoMinor,
		ContentLength: 0,
		Header:        make(http.Header, 5),
		Body:          &bufCloser{}}
}

// NewResponse constructs a Response with status code 200.
func NewResponse(req Request) Response {
	return NewResponseWithCode(req, http.StatusOK)
}

// NewResponseWithCode constructs a Response with the given status code.
func NewResponseWithCode(req Request, statusCode int) Response {
	return Response{
		Request:  &req,
		Response: newHTTPResponse(req, statusCode)}
}
