//go:build windows

package dl

import (
	"syscall"

	"github.com/thesyncim/godl/internal/ffi"
)

// Flags are LoadLibraryExW flags.
type Flags uint32

// LoadLibraryExW flags.
const (
	DONT_RESOLVE_DLL_REFERENCES         Flags = ffi.DONT_RESOLVE_DLL_REFERENCES
	LOAD_LIBRARY_AS_DATAFILE            Flags = ffi.LOAD_LIBRARY_AS_DATAFILE
	LOAD_WITH_ALTERED_SEARCH_PATH       Flags = ffi.LOAD_WITH_ALTERED_SEARCH_PATH
	LOAD_IGNORE_CODE_AUTHZ_LEVEL        Flags = ffi.LOAD_IGNORE_CODE_AUTHZ_LEVEL
	LOAD_LIBRARY_AS_IMAGE_RESOURCE      Flags = ffi.LOAD_LIBRARY_AS_IMAGE_RESOURCE
	LOAD_LIBRARY_AS_DATAFILE_EXCLUSIVE  Flags = ffi.LOAD_LIBRARY_AS_DATAFILE_EXCLUSIVE
	LOAD_LIBRARY_REQUIRE_SIGNED_TARGET  Flags = ffi.LOAD_LIBRARY_REQUIRE_SIGNED_TARGET
	LOAD_LIBRARY_SEARCH_DLL_LOAD_DIR    Flags = ffi.LOAD_LIBRARY_SEARCH_DLL_LOAD_DIR
	LOAD_LIBRARY_SEARCH_APPLICATION_DIR Flags = ffi.LOAD_LIBRARY_SEARCH_APPLICATION_DIR
	LOAD_LIBRARY_SEARCH_USER_DIRS       Flags = ffi.LOAD_LIBRARY_SEARCH_USER_DIRS
	LOAD_LIBRARY_SEARCH_SYSTEM32        Flags = ffi.LOAD_LIBRARY_SEARCH_SYSTEM32
	LOAD_LIBRARY_SEARCH_DEFAULT_DIRS    Flags = ffi.LOAD_LIBRARY_SEARCH_DEFAULT_DIRS
	LOAD_LIBRARY_SAFE_CURRENT_DIRS      Flags = ffi.LOAD_LIBRARY_SAFE_CURRENT_DIRS

	// DefaultFlags is used by Open.
	DefaultFlags Flags = ffi.DefaultFlags
)

// Open loads the named library the way LoadLibraryW does.
//
// Names are passed to the loader as UTF-16. string and []byte names must be
// valid UTF-8. The loader's error dialogs are suppressed while loading.
func Open[N Text](name N) (*Library, error) {
	return OpenWithFlags(name, DefaultFlags)
}

// OpenWithFlags loads the named library with LoadLibraryExW.
func OpenWithFlags[N Text](name N, flags Flags) (*Library, error) {
	t := textOf(name)
	display := t.String()
	var handle uintptr
	err := t.withWide(func(p *uint16) error {
		var err error
		handle, err = withLastError(OpLoadLibraryExW, display, func() (uintptr, syscall.Errno, bool) {
			restore := suppressErrorDialogs()
			defer restore()
			h, code := ffi.LoadLibraryExW(p, uint32(flags))
			return h, code, h != 0
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return newLibrary(handle, display), nil
}

// OpenSelf returns the running executable. Only symbols the executable
// itself exports can be found through it.
func OpenSelf() (*Library, error) {
	handle, err := withLastError(OpGetModuleHandleExW, "", func() (uintptr, syscall.Errno, bool) {
		h, code := ffi.GetModuleHandleExW()
		return h, code, h != 0
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
		addr, err = withLastError(OpGetProcAddress, display, func() (uintptr, syscall.Errno, bool) {
			a, code := ffi.GetProcAddress(l.handle, p)
			return a, code, a != 0
		})
		return err
	})
	return addr, err
}

func closeHandle(handle uintptr, name string) error {
	_, err := withLastError(OpFreeLibrary, name, func() (uintptr, syscall.Errno, bool) {
		ok, code := ffi.FreeLibrary(handle)
		return 0, code, ok
	})
	return err
}
