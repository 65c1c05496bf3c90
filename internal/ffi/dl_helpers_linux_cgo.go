//go:build linux && cgo

package ffi

/*
#cgo LDFLAGS: -ldl

#include <dlfcn.h>
#include <stdlib.h>
*/
import "C"

import "unsafe"

// RTLD flags for dlopen - using C constants from dlfcn.h
const (
	RTLD_LAZY   = C.RTLD_LAZY
	RTLD_NOW    = C.RTLD_NOW
	RTLD_GLOBAL = C.RTLD_GLOBAL
	RTLD_LOCAL  = C.RTLD_LOCAL

	// DefaultFlags resolves every relocation at open time.
	DefaultFlags = RTLD_NOW | RTLD_LOCAL
)

// Bind is a no-op: the loader is linked directly.
func Bind() error { return nil }

// Dlopen calls dlopen(3). A nil path opens the running program.
func Dlopen(path *byte, flags int) uintptr {
	return uintptr(C.dlopen((*C.char)(unsafe.Pointer(path)), C.int(flags)))
}

// Dlsym calls dlsym(3).
func Dlsym(handle uintptr, name *byte) uintptr {
	return uintptr(C.dlsym(unsafe.Pointer(handle), (*C.char)(unsafe.Pointer(name))))
}

// Dlclose calls dlclose(3) and returns its result code.
func Dlclose(handle uintptr) int32 {
	return int32(C.dlclose(unsafe.Pointer(handle)))
}

// Dlerror calls dlerror(3) and returns the message address, or 0.
func Dlerror() uintptr {
	return uintptr(unsafe.Pointer(C.dlerror()))
}
