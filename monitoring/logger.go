// Package monitoring holds run-level diagnostics shared by every package.
package monitoring

import "log"

// Logf is used by the pipeline and the CLI for progress and diagnostics.
// Defaults to log.Printf; replace it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Nil mutes logging.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
