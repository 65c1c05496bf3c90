package locate

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/gofrs/flock"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/thesyncim/godl/pkg/dl"
)

const (
	downloadTimeout   = 10 * time.Minute
	downloadLockDelay = 200 * time.Millisecond
)

// Manifest describes downloadable builds of one library.
type Manifest struct {
	SchemaVersion int               `json:"schema_version"`
	BaseURL       string            `json:"base_url"`
	Flavors       map[string]Flavor `json:"flavors"`
}

// Flavor is one build variant of a library, published under a release tag.
type Flavor struct {
	ReleaseTag string           `json:"release_tag"`
	Assets     map[string]Asset `json:"assets"`
}

// Asset is a tar.gz archive for one platform.
type Asset struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
}

// LoadManifest reads and checks a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrManifest, path, err)
	}
	if m.SchemaVersion != 1 {
		return nil, fmt.Errorf("%w: unsupported schema_version %d", ErrManifest, m.SchemaVersion)
	}
	return &m, nil
}

// asset returns the release tag and asset for flavor on platform.
func (m *Manifest) asset(flavor, platform string) (string, Asset, error) {
	info, ok := m.Flavors[flavor]
	if !ok {
		return "", Asset{}, fmt.Errorf("%w: missing flavor %q", ErrManifest, flavor)
	}
	if info.ReleaseTag == "" {
		return "", Asset{}, fmt.Errorf("%w: missing release_tag for flavor %q", ErrManifest, flavor)
	}
	asset, ok := info.Assets[platform]
	if !ok {
		return "", Asset{}, fmt.Errorf("%w: missing asset for %s flavor %q", ErrManifest, platform, flavor)
	}
	if asset.File == "" {
		return "", Asset{}, fmt.Errorf("%w: missing file for %s flavor %q", ErrManifest, platform, flavor)
	}
	if !isValidSHA256(asset.SHA256) {
		return "", Asset{}, fmt.Errorf("%w: invalid sha256 for %s flavor %q: %q", ErrManifest, platform, flavor, asset.SHA256)
	}
	return info.ReleaseTag, asset, nil
}

// PlatformKeyFor returns the manifest asset key for a platform.
func PlatformKeyFor(goos, goarch string) (string, error) {
	switch goos {
	case "darwin", "linux", "windows", "freebsd":
		switch goarch {
		case "amd64", "arm64":
			return goos + "_" + goarch, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func (l *Locator) cacheRoot() (string, error) {
	if l.cfg.CacheDir != "" {
		return homedir.Expand(l.cfg.CacheDir)
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".godl"), nil
}

// download installs base into the cache, if it is not there yet, and
// returns its path.
func (l *Locator) download(ctx context.Context, base string) (string, error) {
	manifest, err := LoadManifest(l.cfg.ManifestPath)
	if err != nil {
		return "", err
	}
	platform, err := PlatformKeyFor(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return "", err
	}
	releaseTag, asset, err := manifest.asset(l.cfg.Flavor, platform)
	if err != nil {
		return "", err
	}

	baseURL := strings.TrimRight(manifest.BaseURL, "/")
	if l.cfg.BaseURL != "" {
		baseURL = strings.TrimRight(l.cfg.BaseURL, "/")
	}
	if baseURL == "" {
		return "", fmt.Errorf("%w: base_url is empty", ErrManifest)
	}
	url := fmt.Sprintf("%s/%s/%s", baseURL, releaseTag, asset.File)

	cacheRoot, err := l.cacheRoot()
	if err != nil {
		return "", err
	}
	libName := dl.PlatformFilename(base)
	destDir := filepath.Join(cacheRoot, base, l.cfg.Flavor, releaseTag, platform)
	libPath := filepath.Join(destDir, libName)

	if _, err := os.Stat(libPath); err == nil {
		l.logger.Debug("library found in cache", zap.String("path", libPath))
		return libPath, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	err = withDownloadLock(ctx, destDir, func() error {
		if _, err := os.Stat(libPath); err == nil {
			return nil
		}
		return retry.Do(
			func() error {
				return l.fetch(ctx, url, asset.SHA256, destDir, libName)
			},
			retry.Context(ctx),
			retry.Attempts(l.attempts),
			retry.Delay(l.retryDelay),
			retry.MaxDelay(5*l.retryDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				l.logger.Warn("download attempt failed",
					zap.String("url", url), zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)
	})
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(libPath); err != nil {
		return "", fmt.Errorf("library not found after download: %s", libPath)
	}
	return libPath, nil
}

// withDownloadLock runs fn holding an exclusive lock on dir, shared with
// other processes.
func withDownloadLock(ctx context.Context, dir string, fn func() error) error {
	fl := flock.New(filepath.Join(dir, ".download.lock"))
	locked, err := fl.TryLockContext(ctx, downloadLockDelay)
	if err != nil {
		return fmt.Errorf("acquire download lock in %s: %w", dir, err)
	}
	if !locked {
		return fmt.Errorf("timeout waiting for download lock in %s", dir)
	}
	defer fl.Unlock()
	return fn()
}

func (l *Locator) fetch(ctx context.Context, url, expectedSHA256, destDir, libName string) error {
	l.logger.Info("downloading library", zap.String("url", url))

	tmpFile, err := os.CreateTemp(destDir, "download-*.tgz")
	if err != nil {
		return fmt.Errorf("create download temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		_ = tmpFile.Close()
		return retry.Unrecoverable(err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = tmpFile.Close()
		err := fmt.Errorf("download archive: unexpected status %s", resp.Status)
		if resp.StatusCode < http.StatusInternalServerError {
			return retry.Unrecoverable(err)
		}
		return err
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmpFile, hasher), resp.Body); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("download archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}

	actualSHA := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actualSHA, expectedSHA256) {
		return retry.Unrecoverable(fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedSHA256, actualSHA))
	}

	if err := installFromArchive(tmpPath, destDir, libName); err != nil {
		return retry.Unrecoverable(fmt.Errorf("extract archive: %w", err))
	}
	l.logger.Info("library installed", zap.String("path", filepath.Join(destDir, libName)))
	return nil
}

// installFromArchive streams the gzipped tarball at archivePath and installs
// libName, plus LICENSE and NOTICE when present, into destDir. Entries are
// matched by base name wherever they sit in the archive. Every entry name is
// checked, including ones that are not installed.
func installFromArchive(archivePath, destDir, libName string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	libMode := fs.FileMode(0o755)
	if runtime.GOOS == "windows" {
		libMode = 0o644
	}
	modes := map[string]fs.FileMode{libName: libMode, "LICENSE": 0o644, "NOTICE": 0o644}

	tr := tar.NewReader(zr)
	haveLib := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if !filepath.IsLocal(hdr.Name) {
			return fmt.Errorf("invalid archive path: %s", hdr.Name)
		}
		base := path.Base(hdr.Name)
		mode, ok := modes[base]
		if !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := installFile(filepath.Join(destDir, base), tr, mode); err != nil {
			return fmt.Errorf("install %s: %w", hdr.Name, err)
		}
		haveLib = haveLib || base == libName
	}
	if !haveLib {
		return fmt.Errorf("%s not found in archive", libName)
	}
	return nil
}

// installFile writes r to dst through a temporary file in the same
// directory, so dst is either absent or complete.
func installFile(dst string, r io.Reader, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".install-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func isValidSHA256(value string) bool {
	if len(value) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
