package tally

import (
	"context"
	"strconv"

	"github.com/tallyhq/tally/transport"
)

// registerIndicator is bound to the Transport's discovery. Registrations for other groups share the Transport and are
// none of our business.
func (e *EndPoint) registerIndicator(reg transport.Registration, reply transport.ReplyFunc, conn transport.Conn) {
	if reg.Group != e.group {
		return
	}
	ctx := context.Background()
	params := map[string]string{
		"group":     e.group,
		"app":       reg.AppName,
		"indicator": reg.IndicatorName,
		"type":      string(reg.Type),
		"conn":      conn.ID()}

	e.m.Lock()
	if e.state != active {
		s := e.state
		e.m.Unlock()
		e.metrics.registrations.WithLabelValues("ignored").Inc()
		e.log().Debug(ctx, "EndPoint(%s) is %s; ignoring indicator %s", e.group, s, reg.IndicatorName, params)
		return
	}

	if reg.IsSingleton() {
		for _, ind := range e.indicators {
			if ind.Match(reg.AppName, reg.IndicatorName) {
				e.m.Unlock()
				// The indicator is told nothing: it just never receives its config
				e.metrics.registrations.WithLabelValues("dropped_singleton").Inc()
				e.log().Info(ctx, "Dropped duplicate singleton indicator %s for app %s", reg.IndicatorName, reg.AppName,
					params)
				return
			}
		}
	}

	if err := reply(e.cfg.copy().InitConfig); err != nil {
		e.log().Warn(ctx, "Failed to send init config to indicator %s: %v", reg.IndicatorName, err, params)
	}
	ind := e.newIndicator(conn)
	ind.Build(reg)
	e.indicators = append(e.indicators, ind)
	n := len(e.indicators)
	e.metrics.indicators.Set(float64(n))
	e.m.Unlock()

	// Bound only once the handle is in the set, so a connection that has already gone is evicted rather than leaked
	ind.BindRemove(e.removeClient)

	e.metrics.registrations.WithLabelValues("accepted").Inc()
	params["indicators"] = strconv.Itoa(n)
	e.log().Info(ctx, "Registered indicator %s for app %s", reg.IndicatorName, reg.AppName, params)
}

// removeClient evicts exactly ind from the set. Removing an indicator that is not there is a no-op.
func (e *EndPoint) removeClient(ind Indicator) {
	e.m.Lock()
	remaining := make([]Indicator, 0, len(e.indicators))
	for _, other := range e.indicators {
		if other != ind {
			remaining = append(remaining, other)
		}
	}
	removed := len(remaining) != len(e.indicators)
	e.indicators = remaining
	n := len(remaining)
	e.metrics.indicators.Set(float64(n))
	e.m.Unlock()

	if removed {
		e.log().Debug(context.Background(), "EndPoint(%s) removed an indicator; %d remain", e.group, n, e.logParams())
	}
}
