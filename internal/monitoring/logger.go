// Package monitoring holds the process-wide diagnostic logging hook.
package monitoring

import "log"

// Logf is the diagnostic logger shared by all packages. It defaults to
// log.Printf; SetLogger swaps it out, which tests use to capture or mute
// pipeline chatter.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. A nil argument installs a no-op
// logger rather than panicking on the next Logf call.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
