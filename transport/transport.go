package transport

import (
	"context"

	"github.com/monzo/terrors"
)

var (
	// ErrClosed indicates the Transport or connection has been closed
	ErrClosed = terrors.PreconditionFailed("closed", "Transport closed", nil)
	// ErrTimeout indicates a timeout was exceeded
	ErrTimeout = terrors.Timeout("", "Timed out", nil)
	// ErrNoListener indicates that nothing is bound to the Transport's discovery yet
	ErrNoListener = terrors.PreconditionFailed("no_listener", "No discovery handler is bound", nil)
)

// IndicatorType says how many live instances of an indicator an EndPoint accepts.
type IndicatorType string

const (
	// Normal indicators may register any number of times.
	Normal IndicatorType = "normal"
	// Singleton indicators are limited to one live instance per (app, indicator) pair.
	Singleton IndicatorType = "singleton"
)

// A Registration is the first message an indicator sends over a new connection.
type Registration struct {
	Group         string
	AppName       string
	IndicatorName string
	Type          IndicatorType
}

// IsSingleton reports whether the registration asks for singleton semantics.
func (r Registration) IsSingleton() bool {
	return r.Type == Singleton
}

// An Invocation carries a query's arguments to an indicator.
type Invocation struct {
	Args interface{}
}

// An Outcome is an indicator's answer to an Invocation. A non-empty Error marks a failure.
type Outcome struct {
	AppName string
	Results []interface{}
	Error   string
}

// ReplyFunc returns the init config to the registering indicator over its own connection.
type ReplyFunc func(initConfig map[string]interface{}) error

// DiscoveryHandler is called once per registration received by a Transport.
type DiscoveryHandler func(reg Registration, reply ReplyFunc, conn Conn)

// A Transport delivers indicator registrations. Several handlers may be bound to one Transport; each sees every
// registration and is expected to filter on the group.
type Transport interface {
	// Discovery binds a handler which receives every subsequent registration.
	Discovery(h DiscoveryHandler) error
	// Close tears the Transport down, disconnecting every connection. It returns once done or when ctx expires.
	Close(ctx context.Context) error
}

// A Conn is the EndPoint's side of one live indicator connection.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string
	// Call sends an invocation to the indicator and waits for its outcome, a ctx expiry, or a disconnect.
	Call(ctx context.Context, inv Invocation) (Outcome, error)
	// Done is closed when the connection goes away, for whatever reason.
	Done() <-chan struct{}
	// Close disconnects the indicator.
	Close() error
}

// IndicatorFunc computes an indicator's metrics inside the indicator process.
type IndicatorFunc func(ctx context.Context, inv Invocation) Outcome

// A Peer is the indicator process's side of a registration.
type Peer interface {
	// InitConfig waits for the EndPoint to accept the registration and returns the config it sent back. Dropped
	// registrations never receive one, so callers should bound ctx.
	InitConfig(ctx context.Context) (map[string]interface{}, error)
	// Done is closed once the peer is disconnected.
	Done() <-chan struct{}
	// Disconnect closes the connection.
	Disconnect() error
}
