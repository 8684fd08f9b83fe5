// Package logx wraps zerolog behind a small structured-logging facade.
//
// It provides:
//   - a Logger value type with fixed fields (With) and a safe zero value
//   - a Service that swaps sinks (console/file/Discord) at runtime
//   - a rate-limited Discord channel sink for operational alerts
package logx
