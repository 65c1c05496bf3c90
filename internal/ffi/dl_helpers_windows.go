//go:build windows

package ffi

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// LoadLibraryExW flags.
const (
	DONT_RESOLVE_DLL_REFERENCES         = 0x00000001
	LOAD_LIBRARY_AS_DATAFILE            = 0x00000002
	LOAD_WITH_ALTERED_SEARCH_PATH       = 0x00000008
	LOAD_IGNORE_CODE_AUTHZ_LEVEL        = 0x00000010
	LOAD_LIBRARY_AS_IMAGE_RESOURCE      = 0x00000020
	LOAD_LIBRARY_AS_DATAFILE_EXCLUSIVE  = 0x00000040
	LOAD_LIBRARY_REQUIRE_SIGNED_TARGET  = 0x00000080
	LOAD_LIBRARY_SEARCH_DLL_LOAD_DIR    = 0x00000100
	LOAD_LIBRARY_SEARCH_APPLICATION_DIR = 0x00000200
	LOAD_LIBRARY_SEARCH_USER_DIRS       = 0x00000400
	LOAD_LIBRARY_SEARCH_SYSTEM32        = 0x00000800
	LOAD_LIBRARY_SEARCH_DEFAULT_DIRS    = 0x00001000
	LOAD_LIBRARY_SAFE_CURRENT_DIRS      = 0x00002000

	// DefaultFlags matches LoadLibraryW.
	DefaultFlags = 0

	// SEM_FAILCRITICALERRORS stops the loader from showing a dialog when a
	// module fails to load.
	SEM_FAILCRITICALERRORS = 0x0001
)

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procLoadLibraryExW     = kernel32.NewProc("LoadLibraryExW")
	procGetModuleHandleExW = kernel32.NewProc("GetModuleHandleExW")
	procGetProcAddress     = kernel32.NewProc("GetProcAddress")
	procFreeLibrary        = kernel32.NewProc("FreeLibrary")
	procSetThreadErrorMode = kernel32.NewProc("SetThreadErrorMode")
	procSetErrorMode       = kernel32.NewProc("SetErrorMode")
)

// Bind is a no-op: kernel32 procs are resolved lazily.
func Bind() error { return nil }

func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return 0
}

// LoadLibraryExW calls LoadLibraryExW(path, NULL, flags). The returned
// code is the thread's last error as captured right after the call.
func LoadLibraryExW(path *uint16, flags uint32) (uintptr, syscall.Errno) {
	handle, _, err := procLoadLibraryExW.Call(uintptr(unsafe.Pointer(path)), 0, uintptr(flags))
	return handle, errnoOf(err)
}

// GetModuleHandleExW calls GetModuleHandleExW(0, NULL, &handle), which
// returns a counted handle to the executable.
func GetModuleHandleExW() (uintptr, syscall.Errno) {
	var handle uintptr
	ret, _, err := procGetModuleHandleExW.Call(0, 0, uintptr(unsafe.Pointer(&handle)))
	if ret == 0 {
		return 0, errnoOf(err)
	}
	return handle, 0
}

// GetProcAddress calls GetProcAddress(handle, name).
func GetProcAddress(handle uintptr, name *byte) (uintptr, syscall.Errno) {
	addr, _, err := procGetProcAddress.Call(handle, uintptr(unsafe.Pointer(name)))
	return addr, errnoOf(err)
}

// FreeLibrary calls FreeLibrary(handle). Note the inverted convention:
// a zero return is a failure.
func FreeLibrary(handle uintptr) (bool, syscall.Errno) {
	ret, _, err := procFreeLibrary.Call(handle)
	return ret != 0, errnoOf(err)
}

// HasSetThreadErrorMode reports whether kernel32 exports SetThreadErrorMode.
func HasSetThreadErrorMode() bool {
	return procSetThreadErrorMode.Find() == nil
}

// SetThreadErrorMode sets the calling thread's error mode and returns the
// previous one.
func SetThreadErrorMode(mode uint32) (prev uint32, ok bool, errno syscall.Errno) {
	ret, _, err := procSetThreadErrorMode.Call(uintptr(mode), uintptr(unsafe.Pointer(&prev)))
	if ret == 0 {
		return 0, false, errnoOf(err)
	}
	return prev, true, 0
}

// SetErrorMode sets the process error mode and returns the previous one.
func SetErrorMode(mode uint32) uint32 {
	prev, _, _ := procSetErrorMode.Call(uintptr(mode))
	return uint32(prev)
}
