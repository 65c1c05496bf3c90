package dl

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/thesyncim/godl/internal/testutil"
)

// Failures induced on some goroutines must be reported to exactly those
// goroutines, whatever the interleaving.
func TestConcurrentErrorAttribution(t *testing.T) {
	path := testutil.TestLib(t)

	const (
		goroutines = 16
		iterations = 50
	)
	var wg sync.WaitGroup
	errs := make(chan error, goroutines*iterations)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			failing := g%2 == 1
			missing := fmt.Sprintf("godl_missing_%d", g)
			for i := 0; i < iterations; i++ {
				lib, err := Open(path)
				if err != nil {
					errs <- fmt.Errorf("goroutine %d: open: %w", g, err)
					return
				}
				name := "test_identity_u32"
				if failing {
					name = missing
				}
				_, err = Lookup(lib, name)
				switch {
				case failing && err == nil:
					errs <- fmt.Errorf("goroutine %d: lookup of %s succeeded", g, name)
				case failing && !errors.Is(err, ErrFind):
					errs <- fmt.Errorf("goroutine %d: got %v, want ErrFind", g, err)
				case failing && runtime.GOOS != "windows" && !strings.Contains(err.Error(), missing):
					errs <- fmt.Errorf("goroutine %d: error for another call: %v", g, err)
				case !failing && err != nil:
					errs <- fmt.Errorf("goroutine %d: lookup: %w", g, err)
				}
				if err := lib.Close(); err != nil {
					errs <- fmt.Errorf("goroutine %d: close: %w", g, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	seen := 0
	for err := range errs {
		if seen < 10 {
			t.Error(err)
		}
		seen++
	}
}

func TestConcurrentSymbolUse(t *testing.T) {
	lib := openTestLib(t)
	sym, err := Find[func(uint32) uint32](lib, "test_identity_u32")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g uint32) {
			defer wg.Done()
			f := sym.MustGet()
			for i := uint32(0); i < 100; i++ {
				if got := f(g*1000 + i); got != g*1000+i {
					t.Errorf("identity(%d) = %d", g*1000+i, got)
					return
				}
			}
		}(uint32(g))
	}
	wg.Wait()
}
