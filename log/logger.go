// Package log is the logging seam for the client stack. Components take a
// Logger in their Config and default to NewNop, so library users who bring
// no logger get no output.
package log

import "context"

// Logger is what authsvc, refresh, credits, sso and tokenstore log through.
// The ctx argument carries the active span so the zerolog adapter can stamp
// trace and span ids on each event. Every field map is added to the event. Error
// and Fatal take the cause separately so it lands in the "error" field.
// Session derives per-component loggers with With, adding "component".
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	// Fatal logs and exits the process.
	Fatal(ctx context.Context, msg string, err error, fields ...map[string]interface{})
	With(fields map[string]interface{}) Logger
}
