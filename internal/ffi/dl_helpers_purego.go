//go:build (!linux || !cgo) && !windows

package ffi

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
)

// RTLD flags for dlopen - exported from purego for use by pkg/dl
const (
	RTLD_LAZY   = purego.RTLD_LAZY
	RTLD_NOW    = purego.RTLD_NOW
	RTLD_GLOBAL = purego.RTLD_GLOBAL
	RTLD_LOCAL  = purego.RTLD_LOCAL

	// DefaultFlags resolves every relocation at open time.
	DefaultFlags = RTLD_NOW | RTLD_LOCAL
)

// The libc entry points are bound to Go funcs rather than used through
// purego.Dlopen and friends: those take Go strings and fold dlerror into
// their result, and pkg/dl needs to pass its own buffers and read dlerror
// itself.
var (
	dlopen  func(path *byte, mode int32) uintptr
	dlsym   func(handle uintptr, name *byte) uintptr
	dlclose func(handle uintptr) int32
	dlerror func() uintptr

	bindOnce sync.Once
	bindErr  error
)

// Bind resolves the loader entry points. It is safe to call repeatedly.
func Bind() error {
	bindOnce.Do(func() {
		fns := []struct {
			name string
			fptr any
		}{
			{"dlopen", &dlopen},
			{"dlsym", &dlsym},
			{"dlclose", &dlclose},
			{"dlerror", &dlerror},
		}
		for _, fn := range fns {
			addr, err := purego.Dlsym(purego.RTLD_DEFAULT, fn.name)
			if err != nil {
				bindErr = fmt.Errorf("resolve %s: %w", fn.name, err)
				return
			}
			purego.RegisterFunc(fn.fptr, addr)
		}
	})
	return bindErr
}

// Dlopen calls dlopen(3). A nil path opens the running program.
func Dlopen(path *byte, flags int) uintptr {
	return dlopen(path, int32(flags))
}

// Dlsym calls dlsym(3).
func Dlsym(handle uintptr, name *byte) uintptr {
	return dlsym(handle, name)
}

// Dlclose calls dlclose(3) and returns its result code.
func Dlclose(handle uintptr) int32 {
	return dlclose(handle)
}

// Dlerror calls dlerror(3) and returns the message address, or 0.
func Dlerror() uintptr {
	return dlerror()
}
