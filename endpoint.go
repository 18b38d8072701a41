// Package tally implements an EndPoint: the aggregation node indicators register with, and which fans queries out
// to them.
package tally

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/monzo/terrors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tallyhq/tally/transport"
)

type state int

const (
	uninitialised state = iota
	active
	destroyed
)

func (s state) String() string {
	switch s {
	case active:
		return "active"
	case destroyed:
		return "destroyed"
	default:
		return "uninitialised"
	}
}

// An EndPoint collects the indicators registered under its group and serves queries across them.
type EndPoint struct {
	group        string
	transport    transport.Transport
	newIndicator IndicatorFactory
	registerer   prometheus.Registerer
	metrics      *endpointMetrics
	logger       atomic.Value // loggerBox

	// m guards everything below. Mutations of the indicator set, config reads for registration replies, and the
	// snapshot taken at the start of a query all happen under it.
	m          sync.RWMutex
	state      state
	cfg        Config
	indicators []Indicator
}

// An Option configures an EndPoint at construction.
type Option func(*EndPoint)

// WithTransport sets the Transport registrations arrive over.
func WithTransport(t transport.Transport) Option {
	return func(e *EndPoint) {
		e.transport = t
	}
}

// WithLogger replaces the default slog logger.
func WithLogger(l Logger) Option {
	return func(e *EndPoint) {
		e.SetLogger(l)
	}
}

// WithConfig merges p into the default configuration.
func WithConfig(p ConfigPatch) Option {
	return func(e *EndPoint) {
		e.cfg = e.cfg.merge(p)
	}
}

// WithIndicatorFactory replaces how handles are built for new connections. The default is NewIndicatorProxy.
func WithIndicatorFactory(f IndicatorFactory) Option {
	return func(e *EndPoint) {
		if f != nil {
			e.newIndicator = f
		}
	}
}

// WithRegisterer exports the EndPoint's operational metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *EndPoint) {
		e.registerer = reg
	}
}

// New vends an EndPoint for group with an empty indicator set. It does nothing until initialised.
func New(group string, opts ...Option) *EndPoint {
	e := &EndPoint{
		group:        group,
		newIndicator: NewIndicatorProxy,
		cfg:          DefaultConfig()}
	e.logger.Store(loggerBox{slogLogger{}})
	for _, opt := range opts {
		opt(e)
	}
	e.metrics = newEndpointMetrics(group, e.registerer, e.log())
	return e
}

// Group is the registration namespace the EndPoint serves.
func (e *EndPoint) Group() string {
	return e.group
}

// SetLogger replaces the logger; nil restores the default.
func (e *EndPoint) SetLogger(l Logger) {
	if l == nil {
		l = slogLogger{}
	}
	e.logger.Store(loggerBox{l})
}

func (e *EndPoint) log() Logger {
	return e.logger.Load().(loggerBox).Logger
}

func (e *EndPoint) logParams() map[string]string {
	return map[string]string{"group": e.group}
}

// Initialize binds the EndPoint to its Transport's discovery. An EndPoint without a group cannot start.
func (e *EndPoint) Initialize(ctx context.Context) error {
	if e.group == "" {
		return terrors.BadRequest("missing_group", "EndPoint group is required", nil)
	}
	if e.transport == nil {
		return terrors.PreconditionFailed("missing_transport", "EndPoint has no transport", e.logParams())
	}

	e.m.Lock()
	if e.state != uninitialised {
		s := e.state
		e.m.Unlock()
		return terrors.PreconditionFailed("not_uninitialised", "EndPoint is already "+s.String(), e.logParams())
	}
	e.state = active
	e.m.Unlock()

	e.log().Debug(ctx, "EndPoint(%s) listening for indicators", e.group, e.logParams())
	if err := e.transport.Discovery(e.registerIndicator); err != nil {
		e.m.Lock()
		e.state = uninitialised
		e.m.Unlock()
		return terrors.Wrap(err, nil)
	}
	return nil
}

// SetConfig shallow-merges p into the current configuration. Registrations accepted afterwards receive the merged
// InitConfig.
func (e *EndPoint) SetConfig(p ConfigPatch) {
	e.m.Lock()
	defer e.m.Unlock()
	e.cfg = e.cfg.merge(p)
}

// Config returns a copy of the current configuration.
func (e *EndPoint) Config() Config {
	e.m.RLock()
	defer e.m.RUnlock()
	return e.cfg.copy()
}

// Len is the number of indicators currently registered.
func (e *EndPoint) Len() int {
	e.m.RLock()
	defer e.m.RUnlock()
	return len(e.indicators)
}

// Destroy tears down every registered indicator and then closes the Transport. The EndPoint cannot be used again;
// further calls are no-ops.
func (e *EndPoint) Destroy(ctx context.Context) error {
	e.m.Lock()
	if e.state == destroyed {
		e.m.Unlock()
		return nil
	}
	e.state = destroyed
	indicators := e.indicators
	e.indicators = nil
	e.m.Unlock()

	for _, ind := range indicators {
		ind.Destroy()
	}
	e.metrics.indicators.Set(0)
	e.log().Info(ctx, "EndPoint(%s) destroyed %d indicators", e.group, len(indicators), e.logParams())

	if e.transport == nil {
		return nil
	}
	return terrors.Wrap(e.transport.Close(ctx), nil)
}
