//go:build windows

package dl

import "syscall"

// withLastError runs call, which performs exactly one loader call and
// returns its result, the last-error code captured right after it, and
// whether it succeeded. A failure with code 0 is reported as Unknown.
func withLastError(op Op, name string, call func() (uintptr, syscall.Errno, bool)) (uintptr, error) {
	var (
		v   uintptr
		err error
	)
	guard(func() {
		var (
			code syscall.Errno
			ok   bool
		)
		if v, code, ok = call(); ok {
			return
		}
		if code == 0 {
			err = &Error{Op: op, Name: name, Unknown: true}
			return
		}
		err = &Error{Op: op, Name: name, Code: code}
	})
	return v, err
}
