// Package testutil builds the native library the loader tests run against.
package testutil

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

//go:embed testdata/testlib.c
var testlibSource []byte

var (
	buildOnce sync.Once
	buildDir  string
	buildPath string
	buildErr  error
)

// LibName is the base name of the test library.
const LibName = "testlib"

// LibFilename returns the platform file name of the test library.
func LibFilename() string {
	switch runtime.GOOS {
	case "windows":
		return LibName + ".dll"
	case "darwin", "ios":
		return "lib" + LibName + ".dylib"
	default:
		return "lib" + LibName + ".so"
	}
}

// TestLib returns the path of the compiled test library, building it on
// first use. The test is skipped when no C compiler is available.
func TestLib(tb testing.TB) string {
	tb.Helper()
	buildOnce.Do(build)
	if buildErr != nil {
		tb.Skipf("test library unavailable: %v", buildErr)
	}
	return buildPath
}

// TestLibDir returns the directory holding the compiled test library.
func TestLibDir(tb testing.TB) string {
	tb.Helper()
	return filepath.Dir(TestLib(tb))
}

// Cleanup removes the build directory. Call it from TestMain after m.Run.
func Cleanup() {
	if buildDir != "" {
		os.RemoveAll(buildDir)
	}
}

func build() {
	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}
	if _, err := exec.LookPath(cc); err != nil {
		buildErr = fmt.Errorf("no C compiler: %w", err)
		return
	}

	dir, err := os.MkdirTemp("", "godl-testlib-")
	if err != nil {
		buildErr = err
		return
	}
	buildDir = dir

	src := filepath.Join(dir, "testlib.c")
	if err := os.WriteFile(src, testlibSource, 0o644); err != nil {
		buildErr = err
		return
	}

	out := filepath.Join(dir, LibFilename())
	args := []string{"-shared", "-O2", "-o", out, src}
	if runtime.GOOS != "windows" {
		args = append([]string{"-fPIC"}, args...)
	}
	cmd := exec.Command(cc, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		buildErr = fmt.Errorf("%s %v: %w\n%s", cc, args, err, output)
		return
	}
	buildPath = out
}
