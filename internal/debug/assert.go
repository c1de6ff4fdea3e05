package debug

import (
	"fmt"
	"runtime"
)

// Assert panics with the caller's location when truth is false. It guards
// internal invariants only; anything a peer can trigger must be an error.
//
// NOTE: originally stolen from
// https://github.com/golang/go/blob/eaa7d9ff86b35c72cc35bd7c14b349fa414c392f/src/go/types/errors.go#L18
func Assert(truth bool, msg ...string) {
	if len(msg) > 1 {
		panic("invalid assert args")
	}
	if !truth {
		fail(2, msg)
	}
}

// Unreachable marks a branch that must never execute, e.g. the default case
// of a switch over a closed set of constants.
func Unreachable(msg string) {
	fail(2, []string{msg})
}

func fail(skip int, msg []string) {
	text := fmt.Sprintf("assertion failed(%s)", msg)
	if _, file, line, ok := runtime.Caller(skip); ok {
		text = fmt.Sprintf("%s:%d: %s", file, line, text)
	}
	panic(text)
}
