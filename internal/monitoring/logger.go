// Package monitoring holds the package logger, the rolling per-channel
// status board and the HTTP status server.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. Lines carry a bracketed
// component tag such as "[Publisher]". It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
