// Package logging is the ambient debug logger for the streaming engine,
// modeled on the teacher's internal/debug: cheap no-op when disabled,
// gated by a single environment variable instead of scanning the call
// stack for per-function/per-file filters.
package logging

import (
	"fmt"
	"log"
	"os"
)

var opts struct {
	enabled bool
	logger  *log.Logger
}

var _ = initLogging()

func initLogging() bool {
	if os.Getenv("MONKEY_DEBUG") == "" {
		return false
	}
	opts.enabled = true
	opts.logger = log.New(os.Stderr, "monkeyd: ", log.LstdFlags|log.Lmicroseconds)
	return true
}

// Log writes a debug line if MONKEY_DEBUG is set in the environment.
func Log(format string, args ...interface{}) {
	if !opts.enabled {
		return
	}
	opts.logger.Printf(format, args...)
}

// Errorf always writes to stderr, regardless of MONKEY_DEBUG: it reports a
// transient failure that a timer will retry (spec's "log and continue").
func Errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "monkeyd: "+format+"\n", args...)
}
