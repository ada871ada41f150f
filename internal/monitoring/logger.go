// Package monitoring carries the toolkit's diagnostic logging hooks.
package monitoring

import "log"

// Logf is the package-level diagnostic logger, defaulting to log.Printf.
// Batch runs produce one line per notable per-frame event; tests mute it
// via SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Verbose gates Debugf. Off by default; the CLI's -v flag turns it on.
var Verbose bool

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Debugf logs only when Verbose is set. Used for per-channel and per-pixel
// detail that would swamp normal batch output.
func Debugf(format string, v ...interface{}) {
	if Verbose {
		Logf(format, v...)
	}
}
