package tally

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/monzo/slog"
	"github.com/monzo/terrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/transport"
)

func TestIndicatorProxyMatch(t *testing.T) {
	t.Parallel()
	p := NewIndicatorProxy(returning())
	p.Build(singleton("svc1", "ind1"))

	assert.True(t, p.Match("", ""))
	assert.True(t, p.Match("svc1", ""))
	assert.True(t, p.Match("svc1", "ind1"))
	assert.True(t, p.Match("", "ind1"))
	assert.False(t, p.Match("svc2", ""))
	assert.False(t, p.Match("svc1", "ind2"))
}

func TestIndicatorProxyInvoke(t *testing.T) {
	t.Parallel()
	p := NewIndicatorProxy(returning(1, "two"))
	p.Build(normal("svc1"))

	r := p.Invoke(context.Background(), nil)
	require.True(t, r.Success())
	assert.Equal(t, "g1", r.Group())
	assert.Equal(t, "svc1", r.AppName())
	assert.Equal(t, "ind", r.IndicatorName())
	assert.Equal(t, []interface{}{1, "two"}, r.Results())
	assert.Equal(t, "", r.ErrorMessage())
}

func TestIndicatorProxyReportedFailure(t *testing.T) {
	t.Parallel()
	p := NewIndicatorProxy(failing("out of cheese"))
	p.Build(normal("svc1"))

	r := p.Invoke(context.Background(), nil)
	require.False(t, r.Success())
	assert.Equal(t, "svc1", r.AppName())
	assert.Equal(t, "out of cheese", r.ErrorMessage())
	assert.True(t, terrors.Wrap(r.Err(), nil).(*terrors.Error).Matches("internal_service.indicator"))
}

func TestIndicatorProxyCallFailure(t *testing.T) {
	t.Parallel()
	conn := returning(1)
	p := NewIndicatorProxy(conn)
	p.Build(normal("svc1"))
	p.Destroy()

	r := p.Invoke(context.Background(), nil)
	require.False(t, r.Success())
	assert.Equal(t, transport.ErrClosed, r.Err())
}

func TestIndicatorProxyBindRemoveFiresOnce(t *testing.T) {
	defer leaktest.Check(t)()
	conn := returning()
	p := NewIndicatorProxy(conn)
	p.Build(normal("svc1"))

	fired := make(chan Indicator, 2)
	p.BindRemove(func(ind Indicator) { fired <- ind })
	p.BindRemove(func(ind Indicator) { fired <- ind })
	conn.Close()

	select {
	case ind := <-fired:
		assert.Equal(t, p, ind)
	case <-time.After(time.Second):
		require.FailNow(t, "removal callback never fired")
	}
	select {
	case <-fired:
		assert.Fail(t, "removal callback fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFailedResultWithoutError(t *testing.T) {
	t.Parallel()
	r := FailedResult("g1", "svc1", "ind", nil)
	assert.False(t, r.Success())
	assert.NotEmpty(t, r.ErrorMessage())
}

func TestIndicatorProxyDestroyLogsCloseError(t *testing.T) {
	l, restore := captureSlog()
	defer restore()
	c := returning()
	c.closeErr = errors.New("connection reset")
	p := NewIndicatorProxy(c)
	p.Build(normal("svc1"))

	p.Destroy()
	assert.True(t, c.closed())
	ev, ok := l.find(slog.DebugSeverity, "connection reset")
	require.True(t, ok, "close error was not logged")
	assert.Equal(t, c.ID(), ev.Metadata["conn"])
}
