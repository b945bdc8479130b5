package debug

import (
	"fmt"
	"runtime"
)

// NOTE: assertions guard programmer errors only (broken invariants, bad
// constructor arguments). anything a remote peer can cause must be handled as
// a regular error instead.

// Assert panics with the caller's location if truth is false. msg is
// optional, at most one.
//
// NOTE: originally stolen from
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(fmt.Sprintf("assertion failed%s", msg))
	}
}

// Assertf is Assert with a formatted message.
func Assertf(truth bool, format string, args ...any) {
	if !truth {
		fail("assertion failed: " + fmt.Sprintf(format, args...))
	}
}

func fail(msg string) {
	// include information about the assertion location (skip fail and
	// Assert/Assertf). due to panic recovery, this location is otherwise
	// buried in the middle of the panicking stack.
	if _, file, line, ok := runtime.Caller(2); ok {
		msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
	}
	panic(msg)
}
