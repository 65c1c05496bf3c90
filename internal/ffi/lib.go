// Package ffi binds the operating system's dynamic loader.
// It supports both purego (default) and CGO backends via build tags.
//
// Every function here is a single native call with no error interpretation;
// callers are responsible for serialising calls together with the error query
// that follows them.
package ffi

import "unsafe"

// GoString copies the NUL-terminated C string at p into Go memory.
// Returns an empty string if p is 0.
func GoString(p uintptr) string {
	if p == 0 {
		return ""
	}
	// Go through a pointer to p so vet does not flag the uintptr conversion.
	ptr := *(*unsafe.Pointer)(unsafe.Pointer(&p))
	n := 0
	for *(*byte)(unsafe.Add(ptr, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(ptr), n))
}
