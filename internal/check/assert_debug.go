//go:build debug

package check

import "fmt"

// Assert panics if cond is false. Compiled in only under the debug tag;
// release builds carry no assertion cost.
func Assert(cond bool, msg string) {
	if !cond {
		panic("assertion failed: " + msg)
	}
}

// Assertf is Assert with a formatted message.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, args...))
	}
}
