// Package logx wraps zerolog behind a small structured-logging API.
//
// It provides:
//   - a Logger whose zero value is a safe no-op
//   - Field helpers (String, Int64, Err, ...) applied per call site
//   - a Service that owns the sinks (console, file) and supports
//     runtime re-configuration via Apply()
package logx
