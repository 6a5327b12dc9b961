//go:build cgo

package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPlatformArchive(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"linux", "amd64", "linux-x64", false},
		{"linux", "arm64", "linux-aarch64", false},
		{"darwin", "amd64", "osx-x86_64", false},
		{"darwin", "arm64", "osx-arm64", false},
		{"windows", "amd64", "", true},
		{"linux", "riscv64", "", true},
	}
	for _, tt := range tests {
		got, err := getPlatformArchive(tt.goos, tt.goarch)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrUnsupportedPlatform, "%s/%s", tt.goos, tt.goarch)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestBuildDownloadURL(t *testing.T) {
	url := buildDownloadURL("1.23.0", "linux-x64")
	assert.Equal(t, "https://github.com/microsoft/onnxruntime/releases/download/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz", url)
}

func TestGetONNXLibraryPath_EnvOverride(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", GetONNXLibraryPath())
}

// buildTestArchive creates a minimal ONNX-release-shaped tar.gz containing
// the shared library for the current platform.
func buildTestArchive(t *testing.T, version string) []byte {
	t.Helper()

	platform, err := getPlatformArchive(runtime.GOOS, runtime.GOARCH)
	require.NoError(t, err)
	libName := getLibraryName(runtime.GOOS)

	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)

	content := []byte("not a real shared library")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "onnxruntime-" + platform + "-" + version + "/lib/" + libName,
		Mode:     0o644,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(content)
	require.NoError(t, err)

	// A file outside lib/ that must not be extracted.
	readme := []byte("readme")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "onnxruntime-" + platform + "-" + version + "/README.md",
		Mode:     0o644,
		Size:     int64(len(readme)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(readme)
	require.NoError(t, err)

	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())
	return buf.Bytes()
}

func TestExtractTarGz(t *testing.T) {
	platform, err := getPlatformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		t.Skip("unsupported platform")
	}

	const version = "1.23.0"
	archive := buildTestArchive(t, version)
	destDir := t.TempDir()

	require.NoError(t, extractTarGz(bytes.NewReader(archive), destDir, version, platform))

	libPath := filepath.Join(destDir, getLibraryName(runtime.GOOS))
	_, err = os.Stat(libPath)
	assert.NoError(t, err, "library should be extracted")

	_, err = os.Stat(filepath.Join(destDir, "README.md"))
	assert.True(t, os.IsNotExist(err), "files outside lib/ must be skipped")
}

func TestExtractTarGz_MissingLibrary(t *testing.T) {
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	require.NoError(t, tw.Close())
	require.NoError(t, gzw.Close())

	err := extractTarGz(bytes.NewReader(buf.Bytes()), t.TempDir(), "1.23.0", "linux-x64")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in archive")
}
