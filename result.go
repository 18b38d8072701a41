package tally

import "github.com/monzo/terrors"

// A Result is the outcome of invoking one indicator.
type Result struct {
	group         string
	appName       string
	indicatorName string
	results       []interface{}
	err           error
}

// NewResult constructs a successful Result. appName is the app the values are reported under, which need not be
// the app the query asked for.
func NewResult(group, appName, indicatorName string, results []interface{}) Result {
	return Result{
		group:         group,
		appName:       appName,
		indicatorName: indicatorName,
		results:       results}
}

// FailedResult constructs a Result recording that an indicator could not answer.
func FailedResult(group, appName, indicatorName string, err error) Result {
	if err == nil {
		err = terrors.InternalService("indicator_failed", "Indicator failed without an error", nil)
	}
	return Result{
		group:         group,
		appName:       appName,
		indicatorName: indicatorName,
		err:           err}
}

// Success reports whether the indicator answered.
func (r Result) Success() bool {
	return r.err == nil
}

// AppName is the app the indicator reported its values under.
func (r Result) AppName() string {
	return r.appName
}

// IndicatorName names the indicator that produced the Result.
func (r Result) IndicatorName() string {
	return r.indicatorName
}

// Group is the indicator's registration group.
func (r Result) Group() string {
	return r.group
}

// Results are the indicator's values, in the order it returned them.
func (r Result) Results() []interface{} {
	return r.results
}

// Err is the failure, if any.
func (r Result) Err() error {
	return r.err
}

// ErrorMessage is a human-readable description of the failure, or "" on success.
func (r Result) ErrorMessage() string {
	switch err := r.err.(type) {
	case nil:
		return ""
	case *terrors.Error:
		return err.Message
	default:
		return err.Error()
	}
}
