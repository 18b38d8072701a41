package tally

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/monzo/slog"

	"github.com/tallyhq/tally/transport"
)

// fakeTransport hands registrations to the bound handlers synchronously.
type fakeTransport struct {
	sync.Mutex
	handlers []transport.DiscoveryHandler
	closes   int
	onClose  func()
}

func (t *fakeTransport) Discovery(h transport.DiscoveryHandler) error {
	t.Lock()
	defer t.Unlock()
	t.handlers = append(t.handlers, h)
	return nil
}

func (t *fakeTransport) Close(ctx context.Context) error {
	t.Lock()
	t.closes++
	onClose := t.onClose
	t.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

// register offers reg to every handler, returning the config replied with, if any.
func (t *fakeTransport) register(reg transport.Registration, conn transport.Conn) (map[string]interface{}, bool) {
	t.Lock()
	handlers := append([]transport.DiscoveryHandler(nil), t.handlers...)
	t.Unlock()

	var cfg map[string]interface{}
	replied := false
	reply := func(c map[string]interface{}) error {
		cfg, replied = c, true
		return nil
	}
	for _, h := range handlers {
		h(reg, reply, conn)
	}
	return cfg, replied
}

var connIDs int64

type fakeConn struct {
	id     string
	call   func(ctx context.Context, inv transport.Invocation) (transport.Outcome, error)
	done   chan struct{}
	once     sync.Once
	closes   int32
	closeErr error
}

func newConn(call func(ctx context.Context, inv transport.Invocation) (transport.Outcome, error)) *fakeConn {
	return &fakeConn{
		id:   fmt.Sprintf("conn-%d", atomic.AddInt64(&connIDs, 1)),
		call: call,
		done: make(chan struct{})}
}

// returning is a connection whose indicator always answers with results.
func returning(results ...interface{}) *fakeConn {
	return newConn(func(ctx context.Context, inv transport.Invocation) (transport.Outcome, error) {
		return transport.Outcome{Results: results}, nil
	})
}

// failing is a connection whose indicator always reports msg as its error.
func failing(msg string) *fakeConn {
	return newConn(func(ctx context.Context, inv transport.Invocation) (transport.Outcome, error) {
		return transport.Outcome{Error: msg}, nil
	})
}

func (c *fakeConn) ID() string {
	return c.id
}

func (c *fakeConn) Call(ctx context.Context, inv transport.Invocation) (transport.Outcome, error) {
	select {
	case <-c.done:
		return transport.Outcome{}, transport.ErrClosed
	default:
	}
	return c.call(ctx, inv)
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

func (c *fakeConn) Close() error {
	atomic.AddInt32(&c.closes, 1)
	c.once.Do(func() {
		close(c.done)
	})
	return c.closeErr
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// recordingLogger keeps every formatted log line.
type recordingLogger struct {
	sync.Mutex
	lines []string
}

func (l *recordingLogger) record(level, msg string, params ...interface{}) {
	if n := len(params); n > 0 {
		if _, ok := params[n-1].(map[string]string); ok {
			params = params[:n-1]
		}
	}
	l.Lock()
	defer l.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(msg, params...))
}

func (l *recordingLogger) Error(ctx context.Context, msg string, params ...interface{}) {
	l.record("ERROR", msg, params...)
}

func (l *recordingLogger) Warn(ctx context.Context, msg string, params ...interface{}) {
	l.record("WARN", msg, params...)
}

func (l *recordingLogger) Info(ctx context.Context, msg string, params ...interface{}) {
	l.record("INFO", msg, params...)
}

func (l *recordingLogger) Debug(ctx context.Context, msg string, params ...interface{}) {
	l.record("DEBUG", msg, params...)
}

func (l *recordingLogger) contains(level, substr string) bool {
	l.Lock()
	defer l.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// eventLogger collects the events sent to slog's default logger.
type eventLogger struct {
	sync.Mutex
	events []slog.Event
}

func (l *eventLogger) Log(evs ...slog.Event) {
	l.Lock()
	defer l.Unlock()
	l.events = append(l.events, evs...)
}

func (l *eventLogger) Flush() error {
	return nil
}

func (l *eventLogger) find(sev slog.Severity, substr string) (slog.Event, bool) {
	l.Lock()
	defer l.Unlock()
	for _, ev := range l.events {
		if ev.Severity == sev && strings.Contains(ev.Message, substr) {
			return ev, true
		}
	}
	return slog.Event{}, false
}

// captureSlog swaps slog's default logger for an eventLogger until the returned func is called.
func captureSlog() (*eventLogger, func()) {
	prev := slog.DefaultLogger()
	l := &eventLogger{}
	slog.SetDefaultLogger(l)
	return l, func() {
		slog.SetDefaultLogger(prev)
	}
}
