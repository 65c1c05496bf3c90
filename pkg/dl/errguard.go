package dl

import (
	"runtime"
	"sync"
)

// loaderMu serialises every native loader call together with the read of
// the error state it may leave behind. The loaders' error reporting is
// process or thread global, so the lock is too.
var loaderMu sync.Mutex

// guard runs fn with loaderMu held and the goroutine wired to its OS
// thread, so the error query in fn sees the state of the call before it.
func guard(fn func()) {
	loaderMu.Lock()
	runtime.LockOSThread()
	defer func() {
		runtime.UnlockOSThread()
		loaderMu.Unlock()
	}()
	fn()
}
