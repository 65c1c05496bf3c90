//go:build windows

package dl

import (
	"sync/atomic"

	"golang.org/x/sys/windows"

	"github.com/thesyncim/godl/internal/ffi"
)

// useErrorMode is set once SetThreadErrorMode turns out to be unavailable.
var useErrorMode atomic.Bool

// suppressErrorDialogs stops the loader from showing a dialog for a module
// that fails to load, and returns a func restoring the previous mode. The
// caller must hold its OS thread until the restore.
func suppressErrorDialogs() (restore func()) {
	if !useErrorMode.Load() {
		if !ffi.HasSetThreadErrorMode() {
			useErrorMode.Store(true)
		} else {
			prev, ok, errno := ffi.SetThreadErrorMode(ffi.SEM_FAILCRITICALERRORS)
			switch {
			case ok && prev == ffi.SEM_FAILCRITICALERRORS:
				return func() {}
			case ok:
				return func() { ffi.SetThreadErrorMode(prev) }
			case errno == windows.ERROR_CALL_NOT_IMPLEMENTED:
				useErrorMode.Store(true)
			default:
				// Worst case a dialog is shown.
				return func() {}
			}
		}
	}

	// The process-wide mode is shared with concurrent loads. Leaving a mode
	// that is already set alone keeps one load from clearing it under another.
	prev := ffi.SetErrorMode(ffi.SEM_FAILCRITICALERRORS)
	if prev == ffi.SEM_FAILCRITICALERRORS {
		return func() {}
	}
	return func() { ffi.SetErrorMode(prev) }
}
