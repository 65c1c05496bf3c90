//go:build !windows

package dl

import "github.com/thesyncim/godl/internal/ffi"

// withDlerror runs call, which performs exactly one loader call and reports
// whether it succeeded. On failure dlerror is consulted before the lock is
// released and its text copied into the returned error.
func withDlerror(op Op, name string, call func() (uintptr, bool)) (uintptr, error) {
	var (
		v   uintptr
		err error
	)
	guard(func() {
		var ok bool
		if v, ok = call(); ok {
			return
		}
		err = dlerrorFor(op, name)
	})
	return v, err
}

// withDlsym runs a dlsym call. The error state is cleared first, because a
// null address is only an error when dlerror says so: symbols can have a
// null value. A null result without error text is success.
func withDlsym(name string, call func() uintptr) (uintptr, error) {
	var (
		addr uintptr
		err  error
	)
	guard(func() {
		ffi.Dlerror()
		if addr = call(); addr != 0 {
			return
		}
		if msg := ffi.Dlerror(); msg != 0 {
			err = &Error{Op: OpDlsym, Name: name, Desc: ffi.GoString(msg)}
		}
	})
	return addr, err
}

func dlerrorFor(op Op, name string) error {
	msg := ffi.Dlerror()
	if msg == 0 {
		return &Error{Op: op, Name: name, Unknown: true}
	}
	return &Error{Op: op, Name: name, Desc: ffi.GoString(msg)}
}
