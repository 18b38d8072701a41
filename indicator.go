package tally

import (
	"context"

	"github.com/tallyhq/tally/transport"
)

// An Indicator is the EndPoint's handle onto one registered indicator. There is one per live connection.
//
// Invoke must never panic or block forever on its own account: failures belong inside the returned Result, and
// deadlines come from ctx.
type Indicator interface {
	// Build finishes initialisation from the registration the indicator sent.
	Build(reg transport.Registration)
	// Match reports whether the indicator belongs to appName and, if indicatorName is non-empty, has that name. An
	// empty appName matches any app.
	Match(appName, indicatorName string) bool
	// Invoke queries the indicator.
	Invoke(ctx context.Context, args interface{}) Result
	// BindRemove registers f to be called, once, when the indicator's connection goes away.
	BindRemove(f func(Indicator))
	// Destroy disconnects the indicator.
	Destroy()
}

// IndicatorFactory builds the handle for a newly registered connection.
type IndicatorFactory func(conn transport.Conn) Indicator
