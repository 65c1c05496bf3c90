// Package locate finds shared libraries to load with package dl.
//
// A Locator resolves a base name such as "m" or "sqlite3" to a path by
// looking, in order, at:
//  1. the path named by the environment variable Config.EnvVar
//  2. each of Config.SearchDirs, and its {os}_{arch} subdirectory
//  3. lib/{os}_{arch}/ next to the executable and under the working directory
//  4. the download cache, fetching the library described by the manifest at
//     Config.ManifestPath unless downloads are disabled
//  5. the bare platform file name, left to the system loader's search
package locate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/thesyncim/godl/pkg/dl"
)

var (
	// ErrUnsupportedPlatform is returned when the manifest cannot describe
	// the running platform.
	ErrUnsupportedPlatform = errors.New("unsupported platform for download")

	// ErrChecksumMismatch is returned when a downloaded archive does not
	// match the manifest's checksum. It is never retried.
	ErrChecksumMismatch = errors.New("archive checksum mismatch")

	// ErrManifest is returned for a manifest that is missing, unreadable or
	// has no entry for the requested library.
	ErrManifest = errors.New("invalid library manifest")
)

// Config controls where a Locator looks for libraries.
type Config struct {
	// EnvVar names an environment variable holding an explicit library
	// path. Empty disables the check.
	EnvVar string `mapstructure:"env_var"`
	// SearchDirs are searched before the default locations.
	SearchDirs []string `mapstructure:"search_dirs"`
	// ManifestPath is a JSON manifest describing downloadable libraries.
	// Empty disables downloads.
	ManifestPath string `mapstructure:"manifest"`
	// Flavor selects a manifest flavor. Defaults to "default".
	Flavor string `mapstructure:"flavor"`
	// CacheDir holds downloaded libraries. Defaults to ~/.godl.
	CacheDir string `mapstructure:"cache_dir"`
	// BaseURL overrides the manifest's base_url.
	BaseURL string `mapstructure:"base_url"`
	// DisableDownload skips the download step.
	DisableDownload bool `mapstructure:"disable_download"`
	// Flags are passed to dl.OpenWithFlags by Open. Zero means
	// dl.DefaultFlags.
	Flags dl.Flags `mapstructure:"flags"`
}

const defaultFlavor = "default"

// Locator resolves and opens libraries. It is safe for concurrent use.
type Locator struct {
	cfg    Config
	logger *zap.Logger
	client *http.Client

	attempts   uint
	retryDelay time.Duration
}

// Option configures a Locator.
type Option func(*Locator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Locator) { l.logger = logger }
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Locator) { l.client = client }
}

// WithRetry sets how many times a download is attempted and the initial
// delay between attempts.
func WithRetry(attempts uint, delay time.Duration) Option {
	if attempts == 0 {
		attempts = 1
	}
	return func(l *Locator) {
		l.attempts = attempts
		l.retryDelay = delay
	}
}

// New returns a Locator for cfg.
func New(cfg Config, opts ...Option) *Locator {
	if cfg.Flavor == "" {
		cfg.Flavor = defaultFlavor
	}
	l := &Locator{
		cfg:        cfg,
		logger:     zap.NewNop(),
		client:     &http.Client{Timeout: downloadTimeout},
		attempts:   3,
		retryDelay: time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Resolve returns the path to load for the library with the given base
// name. When nothing is found locally and the download fails, the bare
// platform file name is returned together with the download error, so the
// caller may still try the system loader.
func (l *Locator) Resolve(ctx context.Context, base string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if path, ok := l.findLocal(base); ok {
		l.logger.Debug("library found", zap.String("library", base), zap.String("path", path))
		return path, nil
	}

	filename := dl.PlatformFilename(base)
	if l.cfg.DisableDownload || l.cfg.ManifestPath == "" {
		return filename, nil
	}

	path, err := l.download(ctx, base)
	if err != nil {
		l.logger.Warn("library download failed", zap.String("library", base), zap.Error(err))
		return filename, err
	}
	return path, nil
}

// Open resolves base and opens the result.
func (l *Locator) Open(ctx context.Context, base string) (*dl.Library, error) {
	path, downloadErr := l.Resolve(ctx, base)
	if path == "" {
		return nil, downloadErr
	}

	flags := l.cfg.Flags
	if flags == 0 {
		flags = dl.DefaultFlags
	}
	lib, err := dl.OpenWithFlags(path, flags)
	if err != nil {
		if downloadErr != nil {
			return nil, fmt.Errorf("failed to load %s: %w (download failed: %w)", path, err, downloadErr)
		}
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	l.logger.Info("library loaded", zap.String("library", base), zap.String("path", path))
	return lib, nil
}

// candidates lists the local paths checked for base, in order.
func (l *Locator) candidates(base string) []string {
	filename := dl.PlatformFilename(base)
	platformDir := fmt.Sprintf("%s_%s", runtime.GOOS, runtime.GOARCH)

	var paths []string
	for _, dir := range l.cfg.SearchDirs {
		paths = append(paths,
			filepath.Join(dir, filename),
			filepath.Join(dir, platformDir, filename),
		)
	}
	if execPath, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(execPath), "lib", platformDir, filename))
	}
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths,
			filepath.Join(wd, "lib", platformDir, filename),
			filepath.Join(wd, "..", "lib", platformDir, filename),
		)
	}
	return paths
}

func (l *Locator) findLocal(base string) (string, bool) {
	if l.cfg.EnvVar != "" {
		if path := os.Getenv(l.cfg.EnvVar); path != "" {
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
			l.logger.Warn("library path from environment does not exist",
				zap.String("env", l.cfg.EnvVar), zap.String("path", path))
		}
	}

	for _, path := range l.candidates(base) {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			absPath, err := filepath.Abs(path)
			if err != nil {
				return path, true
			}
			return absPath, true
		}
	}
	return "", false
}
