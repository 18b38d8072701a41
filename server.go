package tally

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/monzo/slog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// A Server serves a Service over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	l              net.Listener
	srv            *http.Server
	shuttingDown   chan struct{}
	shutdownOnce   sync.Once
	shutdownFuncs  []func(context.Context)
	shutdownFuncsM sync.Mutex
}

// ServerOption allows customizing the underling http.Server
type ServerOption func(*Server)

// Listener returns the network listener that this server is active on.
func (s *Server) Listener() net.Listener {
	return s.l
}

// Done returns a channel that will be closed when the server begins to shutdown. The server may still be draining its
// connections at the time the channel is closed.
func (s *Server) Done() <-chan struct{} {
	return s.shuttingDown
}

// Stop shuts down the server, returning when there are no more connections still open and every shutdown func has
// returned. Graceful shutdown will be attempted until the passed context expires, at which time all connections will
// be forcibly terminated.
func (s *Server) Stop(ctx context.Context) {
	s.shutdownFuncsM.Lock()
	defer s.shutdownFuncsM.Unlock()
	s.shutdownOnce.Do(func() {
		close(s.shuttingDown)
		wg := sync.WaitGroup{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.srv.Shutdown(ctx); err != nil {
				slog.Debug(ctx, "Graceful shutdown failed; forcibly closing connections")
				if err := s.srv.Close(); err != nil {
					slog.Error(ctx, "Forceful shutdown failed: %v", err)
				}
			}
		}()
		for _, f := range s.shutdownFuncs {
			f := f
			wg.Add(1)
			go func() {
				defer wg.Done()
				f(ctx)
			}()
		}
		wg.Wait()
	})
}

// OnShutdown registers a function that will be called when the server is stopped. The function is expected to try to
// shutdown gracefully until the context expires, at which time it should terminate its work forcefully.
func (s *Server) OnShutdown(f func(context.Context)) {
	s.shutdownFuncsM.Lock()
	defer s.shutdownFuncsM.Unlock()
	s.shutdownFuncs = append(s.shutdownFuncs, f)
}

// Serve starts a HTTP server, binding the passed Service to the passed listener and applying the passed ServerOptions.
func Serve(svc Service, l net.Listener, opts ...ServerOption) (*Server, error) {
	s := &Server{
		l:            l,
		shuttingDown: make(chan struct{})}
	s.srv = &http.Server{
		Handler:        h2c.NewHandler(HttpHandler(svc), &http2.Server{}),
		MaxHeaderBytes: http.DefaultMaxHeaderBytes}

	for _, opt := range opts {
		opt(s)
	}

	go func() {
		err := s.srv.Serve(l)
		if err != nil && err != http.ErrServerClosed {
			slog.Error(nil, "HTTP server error: %v", err)
			// Stopping with an already-closed context means we go immediately to "forceful" mode
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			s.Stop(ctx)
		}
	}()
	return s, nil
}

// Listen starts a HTTP server on addr. If addr is empty, LISTEN_ADDR is used, then :$PORT, then a random port.
func Listen(svc Service, addr string, opts ...ServerOption) (*Server, error) {
	if addr == "" {
		if _addr := os.Getenv("LISTEN_ADDR"); _addr != "" {
			addr = _addr
		} else if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil && port >= 0 {
			addr = fmt.Sprintf(":%d", port)
		} else {
			addr = ":0"
		}
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return Serve(svc, l, opts...)
}

// WithEndPoint ties ep's lifetime to the server's: once the server stops, ep is destroyed and its indicators are
// disconnected.
func WithEndPoint(ep *EndPoint) ServerOption {
	return func(s *Server) {
		s.OnShutdown(func(ctx context.Context) {
			if err := ep.Destroy(ctx); err != nil {
				slog.Error(ctx, "Error destroying EndPoint %s: %v", ep.Group(), err, map[string]string{
					"group": ep.Group()})
			}
		})
	}
}

// TimeoutOptions specifies various server timeouts. See http.Server for details of what these do. Connections using
// h2c do not respect them.
type TimeoutOptions struct {
	Read       time.Duration
	ReadHeader time.Duration
	Write      time.Duration
	Idle       time.Duration
}

// WithTimeout sets the server timeouts.
func WithTimeout(opts TimeoutOptions) ServerOption {
	return func(s *Server) {
		s.srv.ReadTimeout = opts.Read
		s.srv.ReadHeaderTimeout = opts.ReadHeader
		s.srv.WriteTimeout = opts.Write
		s.srv.IdleTimeout = opts.Idle
	}
}
