package tally

import (
	"context"
	"sync"

	"github.com/monzo/slog"
	"github.com/monzo/terrors"

	"github.com/tallyhq/tally/transport"
)

// IndicatorProxy is the Indicator for a transport connection: invocations are sent over the connection and answered
// by the indicator process at the other end.
type IndicatorProxy struct {
	conn       transport.Conn
	m          sync.RWMutex
	reg        transport.Registration
	removeOnce sync.Once
}

var _ Indicator = (*IndicatorProxy)(nil)

// NewIndicatorProxy vends a proxy for conn. It must be built before use.
func NewIndicatorProxy(conn transport.Conn) Indicator {
	return &IndicatorProxy{
		conn: conn}
}

func (p *IndicatorProxy) Build(reg transport.Registration) {
	p.m.Lock()
	defer p.m.Unlock()
	p.reg = reg
}

// Registration returns what the indicator registered with.
func (p *IndicatorProxy) Registration() transport.Registration {
	p.m.RLock()
	defer p.m.RUnlock()
	return p.reg
}

// ConnID identifies the proxy's connection.
func (p *IndicatorProxy) ConnID() string {
	return p.conn.ID()
}

func (p *IndicatorProxy) Match(appName, indicatorName string) bool {
	reg := p.Registration()
	if appName != "" && appName != reg.AppName {
		return false
	}
	return indicatorName == "" || indicatorName == reg.IndicatorName
}

func (p *IndicatorProxy) Invoke(ctx context.Context, args interface{}) Result {
	reg := p.Registration()
	out, err := p.conn.Call(ctx, transport.Invocation{Args: args})
	if err != nil {
		return FailedResult(reg.Group, reg.AppName, reg.IndicatorName, err)
	}

	appName := out.AppName
	if appName == "" {
		appName = reg.AppName
	}
	if out.Error != "" {
		return FailedResult(reg.Group, appName, reg.IndicatorName, terrors.InternalService("indicator", out.Error,
			map[string]string{"conn": p.conn.ID()}))
	}
	return NewResult(reg.Group, appName, reg.IndicatorName, out.Results)
}

func (p *IndicatorProxy) BindRemove(f func(Indicator)) {
	go func() {
		<-p.conn.Done()
		p.removeOnce.Do(func() {
			f(p)
		})
	}()
}

func (p *IndicatorProxy) Destroy() {
	if err := p.conn.Close(); err != nil {
		slog.Debug(context.Background(), "Failed to close indicator connection %s: %v", p.conn.ID(), err,
			map[string]string{"conn": p.conn.ID()})
	}
}
