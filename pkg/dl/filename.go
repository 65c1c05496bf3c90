package dl

import "runtime"

// PlatformFilename returns the file name the system uses for a shared
// library with the given base name on the running platform:
// libm.so on Linux and the BSDs, libm.dylib on Darwin, m.dll on Windows.
func PlatformFilename(base string) string {
	return PlatformFilenameFor(runtime.GOOS, base)
}

// PlatformFilenameFor is PlatformFilename for an explicit GOOS.
func PlatformFilenameFor(goos, base string) string {
	switch goos {
	case "windows":
		return base + ".dll"
	case "darwin", "ios":
		return "lib" + base + ".dylib"
	default:
		return "lib" + base + ".so"
	}
}
