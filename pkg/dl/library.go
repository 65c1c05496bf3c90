// Package dl opens shared libraries and binds the symbols they export.
//
// A Library is opened with Open, OpenWithFlags or OpenSelf and released with
// Close, or automatically once it is no longer reachable. Symbols are looked
// up with Find or FindOptional and carry a reference to their Library, so a
// library is never unloaded behind a reachable Symbol. Getting a data
// symbol's value keeps its library loaded until an explicit Close. An
// explicit Close still invalidates every Symbol found in the library: using
// one afterwards fails with ErrLibraryClosed.
//
// IntoRaw and FromRawHandle move a native handle out of and into a Library,
// for handing it to code that loads libraries by other means.
//
// Loader errors are captured under a process-wide lock together with the
// call that produced them, so concurrent use from many goroutines reports
// each failure against the call that caused it.
package dl

import (
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Library is an open shared library.
//
// A Library is safe for concurrent use. It must not be copied.
type Library struct {
	handle uintptr
	name   string

	mu     sync.Mutex
	idle   sync.Cond
	pins     int
	closed   bool
	retained bool

	cleanup runtime.Cleanup
}

// nativeHandle is what the automatic cleanup needs to unload a library. It
// must not point back to the Library, or the Library would never become
// unreachable.
type nativeHandle struct {
	handle uintptr
	name   string
}

func newLibrary(handle uintptr, name string) *Library {
	l := &Library{handle: handle, name: name}
	l.idle.L = &l.mu
	l.cleanup = runtime.AddCleanup(l, teardown(closeHandle), nativeHandle{handle: handle, name: name})
	Logger().Debug("library opened",
		zap.String("library", l.displayName()), zap.Uintptr("handle", handle))
	return l
}

// teardown returns the cleanup that unloads an unreachable library.
func teardown(unload func(handle uintptr, name string) error) func(nativeHandle) {
	return func(h nativeHandle) {
		if err := unload(h.handle, h.name); err != nil {
			teardownFailed(h.name, err)
			return
		}
		Logger().Debug("library closed", zap.String("library", h.name), zap.Bool("automatic", true))
	}
}

// FromRawHandle returns a Library owning handle, a native library handle
// obtained from IntoRaw, dlopen or LoadLibrary. handle must be open and must
// not be closed by anyone else afterwards; this is not checked. name is
// used in errors and logs only.
func FromRawHandle(handle uintptr, name string) *Library {
	return newLibrary(handle, name)
}

// Name returns the name the library was opened with, or "" for the
// library returned by OpenSelf.
func (l *Library) Name() string { return l.name }

func (l *Library) String() string {
	return fmt.Sprintf("dl.Library(%s)", l.displayName())
}

func (l *Library) displayName() string {
	if l.name == "" {
		return "<self>"
	}
	return l.name
}

// Close unloads the library. It waits for running Symbol.Use callbacks to
// return, so it must not be called from inside one on the same library.
// Every Symbol found in the library is invalid afterwards. Closing a closed
// library returns ErrLibraryClosed.
func (l *Library) Close() error {
	if err := l.release(); err != nil {
		return err
	}
	if err := closeHandle(l.handle, l.name); err != nil {
		return err
	}
	Logger().Debug("library closed", zap.String("library", l.displayName()))
	return nil
}

// IntoRaw gives up ownership of the native handle without unloading the
// library, and returns it. l behaves as closed afterwards, and, like Close,
// IntoRaw waits for running Symbol.Use callbacks. The caller becomes
// responsible for closing the handle, or for passing it to FromRawHandle.
func (l *Library) IntoRaw() (uintptr, error) {
	if err := l.release(); err != nil {
		return 0, err
	}
	Logger().Debug("library detached",
		zap.String("library", l.displayName()), zap.Uintptr("handle", l.handle))
	return l.handle, nil
}

// release marks l closed once no symbol use is in flight and cancels the
// automatic close. The handle is left open.
func (l *Library) release() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.closedError()
	}
	l.closed = true
	for l.pins > 0 {
		l.idle.Wait()
	}
	l.mu.Unlock()

	l.cleanup.Stop()
	return nil
}

// retain cancels the automatic close, leaving l loaded until it is closed
// explicitly. It is used when a value pointing into the library escapes
// without a reference to l.
func (l *Library) retain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.retained || l.closed {
		return
	}
	l.retained = true
	l.cleanup.Stop()
}

// pin keeps the library loaded until the matching unpin.
func (l *Library) pin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return l.closedError()
	}
	l.pins++
	return nil
}

func (l *Library) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Library) unpin() {
	l.mu.Lock()
	l.pins--
	if l.pins == 0 {
		l.idle.Broadcast()
	}
	l.mu.Unlock()
}

func (l *Library) closedError() error {
	return fmt.Errorf("%s: %w", l.displayName(), ErrLibraryClosed)
}

// Lookup returns the address of the named symbol. The address may be 0 on
// platforms where a symbol can have a null value. It is only valid while
// the library is open; Find binds a symbol to its library instead.
func Lookup[N Text](l *Library, name N) (uintptr, error) {
	if err := l.pin(); err != nil {
		return 0, err
	}
	defer l.unpin()
	return l.lookup(textOf(name))
}
