package tally

import (
	"context"
	"net/http"
	"testing"

	"github.com/monzo/terrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routerTestCase struct {
	// inputs

	method string
	path   string

	// expected outputs

	status int
	route  string
	params map[string]string
}

func routerTestHarness() (*Router, []routerTestCase) {
	router := &Router{}
	route := func(name string) Service {
		return func(req Request) Response {
			params := map[string]string{}
			for _, p := range req.params {
				params[p.Key] = p.Value
			}
			return req.Response(map[string]interface{}{
				"route":  name,
				"params": params})
		}
	}
	router.GET("/foo", route("foo"))
	router.GET("/foo/:param/:param2", route("two-params"))
	router.POST("/foo/:param/:param2", route("post-two-params"))
	router.GET("/files/*path", route("files"))

	cases := []routerTestCase{
		{
			// Unknown path: 404
			method: http.MethodGet,
			path:   "/",
			status: http.StatusNotFound,
		},
		{
			method: http.MethodGet,
			path:   "/foo",
			status: http.StatusOK,
			route:  "foo",
			params: map[string]string{},
		},
		{
			method: http.MethodGet,
			path:   "/foo/bar2b채r/baz",
			status: http.StatusOK,
			route:  "two-params",
			params: map[string]string{
				"param":  "bar2b채r",
				"param2": "baz"},
		},
		{
			method: http.MethodPost,
			path:   "/foo/a/b",
			status: http.StatusOK,
			route:  "post-two-params",
			params: map[string]string{
				"param":  "a",
				"param2": "b"},
		},
		{
			// Too many params
			method: http.MethodGet,
			path:   "/foo/bar/bar/baz",
			status: http.StatusNotFound,
		},
		{
			// Wrong method
			method: http.MethodDelete,
			path:   "/foo",
			status: http.StatusNotFound,
		},
		{
			method: http.MethodGet,
			path:   "/files/a/b/c",
			status: http.StatusOK,
			route:  "files",
			params: map[string]string{
				"path": "/a/b/c"},
		},
	}
	return router, cases
}

func TestRouter(t *testing.T) {
	t.Parallel()
	router, cases := routerTestHarness()
	svc := router.Serve().Filter(ErrorFilter)

	for _, c := range cases {
		t.Run(c.method+" "+c.path, func(t *testing.T) {
			rsp := svc(NewRequest(context.Background(), c.method, c.path))
			assert.Equal(t, c.status, rsp.StatusCode)
			if c.status != http.StatusOK {
				require.Error(t, rsp.Error)
				assert.True(t, terrors.Wrap(rsp.Error, nil).(*terrors.Error).Matches("not_found.no_handler"))
				return
			}

			body := struct {
				Route  string            `json:"route"`
				Params map[string]string `json:"params"`
			}{}
			require.NoError(t, rsp.Decode(&body))
			assert.Equal(t, c.route, body.Route)
			assert.Equal(t, c.params, body.Params)
		})
	}
}

func TestRouterLookup(t *testing.T) {
	t.Parallel()
	router, _ := routerTestHarness()

	svc, params, ok := router.Lookup(http.MethodGet, "/foo/x/y")
	require.True(t, ok)
	assert.NotNil(t, svc)
	assert.Equal(t, "x", params.ByName("param"))

	_, _, ok = router.Lookup(http.MethodGet, "/nope")
	assert.False(t, ok)

	empty := &Router{}
	_, _, ok = empty.Lookup(http.MethodGet, "/foo")
	assert.False(t, ok)
}
