package tally

import (
	"context"
	"fmt"
	"strconv"

	"github.com/monzo/terrors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("github.com/tallyhq/tally")

// Results maps an app name to the values its indicators reported, in indicator registration order.
type Results map[string][]interface{}

// Invoke queries every indicator belonging to appName and returns the values reported under appName. Indicators
// which fail are logged and left out; the query only fails if the fan-out itself breaks.
func (e *EndPoint) Invoke(ctx context.Context, appName string, args interface{}) ([]interface{}, error) {
	if appName == "" {
		return nil, terrors.BadRequest("missing_app_name", "An app name is required; use InvokeAll to query every app",
			e.logParams())
	}
	results, err := e.invoke(ctx, appName, args)
	if err != nil {
		return nil, err
	}
	return results[appName], nil
}

// InvokeAll queries every registered indicator and returns their values keyed by the app each reported under.
func (e *EndPoint) InvokeAll(ctx context.Context, args interface{}) (Results, error) {
	return e.invoke(ctx, "", args)
}

func (e *EndPoint) invoke(ctx context.Context, appName string, args interface{}) (Results, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := tracer.Start(ctx, "tally.EndPoint/Invoke", trace.WithAttributes(
		attribute.String("tally.group", e.group),
		attribute.String("tally.app", appName)))
	defer span.End()

	// Later registrations and removals must not affect this query, so take a copy
	e.m.RLock()
	if e.state != active {
		s := e.state
		e.m.RUnlock()
		return nil, terrors.PreconditionFailed("not_active", "EndPoint is "+s.String(), e.logParams())
	}
	selected := make([]Indicator, 0, len(e.indicators))
	for _, ind := range e.indicators {
		if appName == "" || ind.Match(appName, "") {
			selected = append(selected, ind)
		}
	}
	timeout := e.cfg.QueryTimeout
	e.m.RUnlock()

	span.SetAttributes(attribute.Int("tally.indicators", len(selected)))
	e.log().Debug(ctx, "EndPoint(%s) querying %d indicators for app %q", e.group, len(selected), appName,
		e.logParams())

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Results are stored by position so aggregation follows the set's order, not completion order. The group has no
	// derived context: once started, every invocation runs to completion.
	results := make([]Result, len(selected))
	var g errgroup.Group
	for i, ind := range selected {
		i, ind := i, ind
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = terrors.InternalService("fanout_failed", fmt.Sprintf("Indicator invocation panicked: %v", r),
						map[string]string{"position": strconv.Itoa(i)})
				}
			}()
			results[i] = ind.Invoke(ctx, args)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.metrics.queries.WithLabelValues("failed").Inc()
		e.log().Error(ctx, "EndPoint(%s) query fan-out failed: %v", e.group, err, e.logParams())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.metrics.queries.WithLabelValues("ok").Inc()
	return e.processQueryResults(ctx, results), nil
}

// processQueryResults accumulates successful results under the app name each one reports. Failures are logged and
// contribute nothing.
func (e *EndPoint) processQueryResults(ctx context.Context, results []Result) Results {
	all := Results{}
	for _, r := range results {
		if !r.Success() {
			e.metrics.failures.Inc()
			e.log().Error(ctx, "Query group(%s) results error, message = %s", r.Group(), r.ErrorMessage(),
				map[string]string{
					"group":     r.Group(),
					"app":       r.AppName(),
					"indicator": r.IndicatorName()})
			continue
		}
		if _, ok := all[r.AppName()]; !ok {
			all[r.AppName()] = []interface{}{}
		}
		all[r.AppName()] = append(all[r.AppName()], r.Results()...)
	}
	return all
}
