//go:build !windows

package dl

import (
	"fmt"

	"github.com/thesyncim/godl/internal/ffi"
)

// Flags are dlopen(3) mode bits.
type Flags int

// dlopen modes.
const (
	RTLD_LAZY   Flags = ffi.RTLD_LAZY
	RTLD_NOW    Flags = ffi.RTLD_NOW
	RTLD_GLOBAL Flags = ffi.RTLD_GLOBAL
	RTLD_LOCAL  Flags = ffi.RTLD_LOCAL

	// DefaultFlags is used by Open.
	DefaultFlags Flags = ffi.DefaultFlags
)

// Open loads the named library with DefaultFlags.
//
// A name containing a slash is a path. Any other name is searched for by
// the system loader. Names are passed to the loader as bytes, unvalidated;
// []uint16 names are converted from UTF-16 first.
func Open[N Text](name N) (*Library, error) {
	return OpenWithFlags(name, DefaultFlags)
}

// OpenWithFlags loads the named library with the given dlopen mode.
func OpenWithFlags[N Text](name N, flags Flags) (*Library, error) {
	if err := ffi.Bind(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	t := textOf(name)
	display := t.String()
	var handle uintptr
	err := t.withNarrow(func(p *byte) error {
		var err error
		handle, err = withDlerror(OpDlopen, display, func() (uintptr, bool) {
			h := ffi.Dlopen(p, int(flags))
			return h, h != 0
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return newLibrary(handle, display), nil
}

// OpenSelf returns the running program. Every symbol in the global scope
// can be found through it, including those of libraries loaded with
// RTLD_GLOBAL.
func OpenSelf() (*Library, error) {
	if err := ffi.Bind(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	handle, err := withDlerror(OpDlopen, "", func() (uintptr, bool) {
		h := ffi.Dlopen(nil, ffi.RTLD_NOW)
		return h, h != 0
	})
	if err != nil {
		return nil, err
	}
	return newLibrary(handle, ""), nil
}

func (l *Library) lookup(t text) (uintptr, error) {
	display := t.String()
	var addr uintptr
	err := t.withNarrow(func(p *byte) error {
		var err error
		addr, err = withDlsym(display, func() uintptr {
			return ffi.Dlsym(l.handle, p)
		})
		return err
	})
	return addr, err
}

func closeHandle(handle uintptr, name string) error {
	_, err := withDlerror(OpDlclose, name, func() (uintptr, bool) {
		return 0, ffi.Dlclose(handle) == 0
	})
	return err
}
