package locate

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/thesyncim/godl/pkg/dl"
)

type archiveFile struct {
	name string
	body string
}

func makeArchive(t *testing.T, files ...archiveFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, f := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.body)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func platformKey(t *testing.T) string {
	t.Helper()
	key, err := PlatformKeyFor(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		t.Skip(err)
	}
	return key
}

func writeManifest(t *testing.T, baseURL, checksum string) string {
	t.Helper()
	m := Manifest{
		SchemaVersion: 1,
		BaseURL:       baseURL,
		Flavors: map[string]Flavor{
			"default": {
				ReleaseTag: "v1.2.3",
				Assets: map[string]Asset{
					platformKey(t): {File: "fake.tgz", SHA256: checksum},
				},
			},
		},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// archiveServer serves archive at /v1.2.3/fake.tgz after failing the first
// failures requests with status.
func archiveServer(t *testing.T, archive []byte, failures int32, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if r.URL.Path != "/v1.2.3/fake.tgz" {
			http.NotFound(w, r)
			return
		}
		if n <= failures {
			w.WriteHeader(status)
			return
		}
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func newDownloader(t *testing.T, manifest string) *Locator {
	t.Helper()
	return New(Config{
		SearchDirs:   []string{t.TempDir()},
		ManifestPath: manifest,
		CacheDir:     t.TempDir(),
	}, WithLogger(zaptest.NewLogger(t)), WithRetry(3, time.Millisecond))
}

func TestDownload(t *testing.T) {
	libName := dl.PlatformFilename("fake")
	archive := makeArchive(t,
		archiveFile{"fake/lib/" + libName, "library bytes"},
		archiveFile{"fake/LICENSE", "license text"},
	)
	srv, requests := archiveServer(t, archive, 0, 0)
	l := newDownloader(t, writeManifest(t, srv.URL, sum(archive)))

	path, err := l.Resolve(context.Background(), "fake")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := filepath.Join(l.cfg.CacheDir, "fake", "default", "v1.2.3", platformKey(t), libName)
	if path != want {
		t.Errorf("Resolve = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "library bytes" {
		t.Errorf("installed %q", data)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(path), "LICENSE")); err != nil {
		t.Errorf("LICENSE not installed: %v", err)
	}

	// The second resolve is served from the cache.
	if _, err := l.Resolve(context.Background(), "fake"); err != nil {
		t.Fatal(err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("%d requests, want 1", n)
	}
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	archive := makeArchive(t, archiveFile{dl.PlatformFilename("fake"), "x"})
	srv, requests := archiveServer(t, archive, 2, http.StatusServiceUnavailable)
	l := newDownloader(t, writeManifest(t, srv.URL, sum(archive)))

	if _, err := l.Resolve(context.Background(), "fake"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("%d requests, want 3", n)
	}
}

func TestDownloadGivesUp(t *testing.T) {
	archive := makeArchive(t, archiveFile{dl.PlatformFilename("fake"), "x"})
	srv, requests := archiveServer(t, archive, 100, http.StatusBadGateway)
	l := newDownloader(t, writeManifest(t, srv.URL, sum(archive)))

	path, err := l.Resolve(context.Background(), "fake")
	if err == nil {
		t.Fatal("Resolve succeeded")
	}
	if path != dl.PlatformFilename("fake") {
		t.Errorf("Resolve = %q, want the bare file name", path)
	}
	if n := requests.Load(); n != 3 {
		t.Errorf("%d requests, want 3", n)
	}
}

func TestDownloadClientErrorNotRetried(t *testing.T) {
	archive := makeArchive(t, archiveFile{dl.PlatformFilename("fake"), "x"})
	srv, requests := archiveServer(t, archive, 100, http.StatusNotFound)
	l := newDownloader(t, writeManifest(t, srv.URL, sum(archive)))

	if _, err := l.Resolve(context.Background(), "fake"); err == nil {
		t.Fatal("Resolve succeeded")
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("%d requests, want 1", n)
	}
}

func TestDownloadChecksumMismatch(t *testing.T) {
	archive := makeArchive(t, archiveFile{dl.PlatformFilename("fake"), "x"})
	srv, requests := archiveServer(t, archive, 0, 0)
	l := newDownloader(t, writeManifest(t, srv.URL, sum([]byte("something else"))))

	_, err := l.Resolve(context.Background(), "fake")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
	if n := requests.Load(); n != 1 {
		t.Errorf("%d requests, want 1", n)
	}
}

func TestDownloadRejectsPathTraversal(t *testing.T) {
	archive := makeArchive(t, archiveFile{"../" + dl.PlatformFilename("fake"), "x"})
	srv, _ := archiveServer(t, archive, 0, 0)
	l := newDownloader(t, writeManifest(t, srv.URL, sum(archive)))

	_, err := l.Resolve(context.Background(), "fake")
	if err == nil || !(strings.Contains(err.Error(), "invalid archive path") || errors.Is(err, tar.ErrInsecurePath)) {
		t.Fatalf("got %v, want an invalid archive path error", err)
	}
}

func TestDownloadMissingLibraryInArchive(t *testing.T) {
	archive := makeArchive(t, archiveFile{"README", "x"})
	srv, _ := archiveServer(t, archive, 0, 0)
	l := newDownloader(t, writeManifest(t, srv.URL, sum(archive)))

	if _, err := l.Resolve(context.Background(), "fake"); err == nil {
		t.Fatal("Resolve succeeded")
	}
}

func TestInstallFromArchive(t *testing.T) {
	libName := dl.PlatformFilename("fake")
	archive := makeArchive(t,
		archiveFile{"fake-1.0/README", "readme"},
		archiveFile{"fake-1.0/share/NOTICE", "notice"},
		archiveFile{"fake-1.0/lib/" + libName, "library bytes"},
		archiveFile{"fake-1.0/include/fake.h", "header"},
	)
	archivePath := filepath.Join(t.TempDir(), "fake.tgz")
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		t.Fatal(err)
	}
	dest := t.TempDir()

	if err := installFromArchive(archivePath, dest, libName); err != nil {
		t.Fatalf("installFromArchive: %v", err)
	}
	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	want := []string{"NOTICE", libName}
	if libName < "NOTICE" {
		want = []string{libName, "NOTICE"}
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("installed files mismatch (-want +got):\n%s", diff)
	}
	data, err := os.ReadFile(filepath.Join(dest, libName))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "library bytes" {
		t.Errorf("installed %q", data)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dest, libName))
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm()&0o111 == 0 {
			t.Errorf("library mode %v is not executable", info.Mode())
		}
	}
}

func TestBaseURLOverride(t *testing.T) {
	archive := makeArchive(t, archiveFile{dl.PlatformFilename("fake"), "x"})
	srv, _ := archiveServer(t, archive, 0, 0)
	l := New(Config{
		ManifestPath: writeManifest(t, "http://invalid.invalid", sum(archive)),
		CacheDir:     t.TempDir(),
		BaseURL:      srv.URL + "/",
	}, WithRetry(1, time.Millisecond))

	if _, err := l.Resolve(context.Background(), "fake"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestManifestErrors(t *testing.T) {
	key := platformKey(t)
	valid := strings.Repeat("ab", 32)
	tests := []struct {
		name     string
		manifest string
	}{
		{"not json", "{"},
		{"wrong schema", `{"schema_version": 2}`},
		{"missing flavor", `{"schema_version": 1, "base_url": "http://x", "flavors": {}}`},
		{"missing release tag", `{"schema_version": 1, "base_url": "http://x", "flavors": {"default": {"assets": {"` + key + `": {"file": "a.tgz", "sha256": "` + valid + `"}}}}}`},
		{"missing asset", `{"schema_version": 1, "base_url": "http://x", "flavors": {"default": {"release_tag": "v1", "assets": {}}}}`},
		{"bad checksum", `{"schema_version": 1, "base_url": "http://x", "flavors": {"default": {"release_tag": "v1", "assets": {"` + key + `": {"file": "a.tgz", "sha256": "zz"}}}}}`},
		{"empty base url", `{"schema_version": 1, "flavors": {"default": {"release_tag": "v1", "assets": {"` + key + `": {"file": "a.tgz", "sha256": "` + valid + `"}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "manifest.json")
			if err := os.WriteFile(path, []byte(tt.manifest), 0o644); err != nil {
				t.Fatal(err)
			}
			l := New(Config{ManifestPath: path, CacheDir: t.TempDir()})
			_, err := l.Resolve(context.Background(), "fake")
			if !errors.Is(err, ErrManifest) {
				t.Fatalf("got %v, want ErrManifest", err)
			}
		})
	}
}

func TestPlatformKeyFor(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"linux", "amd64", "linux_amd64"},
		{"linux", "arm64", "linux_arm64"},
		{"darwin", "arm64", "darwin_arm64"},
		{"windows", "amd64", "windows_amd64"},
		{"freebsd", "amd64", "freebsd_amd64"},
	}
	for _, tt := range tests {
		got, err := PlatformKeyFor(tt.goos, tt.goarch)
		if err != nil || got != tt.want {
			t.Errorf("PlatformKeyFor(%s, %s) = %q, %v; want %q", tt.goos, tt.goarch, got, err, tt.want)
		}
	}

	for _, bad := range [][2]string{{"linux", "386"}, {"plan9", "amd64"}, {"js", "wasm"}} {
		if _, err := PlatformKeyFor(bad[0], bad[1]); !errors.Is(err, ErrUnsupportedPlatform) {
			t.Errorf("PlatformKeyFor(%s, %s): got %v, want ErrUnsupportedPlatform", bad[0], bad[1], err)
		}
	}
}
