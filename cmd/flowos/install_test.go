package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowos/internal/config"
	"github.com/rendis/flowos/internal/layout"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o755,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestMermaidASCIIAssetName(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"linux", "amd64", "mermaid-ascii_Linux_x86_64.tar.gz", false},
		{"darwin", "arm64", "mermaid-ascii_Darwin_arm64.tar.gz", false},
		{"linux", "386", "mermaid-ascii_Linux_i386.tar.gz", false},
		{"windows", "amd64", "", true},
		{"linux", "riscv64", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.goos+"/"+tc.goarch, func(t *testing.T) {
			got, err := mermaidASCIIAssetName(tc.goos, tc.goarch)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			if tc.goarch != "386" {
				assert.Contains(t, mermaidASCIIChecksums, got)
			}
		})
	}
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := tarGz(t, map[string]string{
		"README.md":                        "docs",
		"mermaid-ascii_1.1.0/mermaid-ascii": "#!/bin/sh\necho hi\n",
	})

	require.NoError(t, extractTarGz(bytes.NewReader(archive), dir, "mermaid-ascii"))
	data, err := os.ReadFile(filepath.Join(dir, "mermaid-ascii"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi\n", string(data))
	_, err = os.Stat(filepath.Join(dir, "README.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractTarGz_Errors(t *testing.T) {
	dir := t.TempDir()

	err := extractTarGz(bytes.NewReader(tarGz(t, map[string]string{"other": "x"})), dir, "mermaid-ascii")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in archive")

	err = extractTarGz(bytes.NewReader([]byte("not gzip")), dir, "mermaid-ascii")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip")
}

func TestInstallMermaidASCII_AlreadyInstalled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mermaid-ascii"), []byte("bin"), 0o755))
	client := &fakeGetter{status: http.StatusOK}

	var out bytes.Buffer
	require.NoError(t, installMermaidASCII(context.Background(), dir, client, &out))
	assert.Contains(t, out.String(), "already installed")
	assert.Empty(t, client.urls)
}

func TestInstallMermaidASCII_RejectsChecksumMismatch(t *testing.T) {
	asset, err := mermaidASCIIAssetName(runtime.GOOS, runtime.GOARCH)
	if err != nil || mermaidASCIIChecksums[asset] == "" {
		t.Skip("no pinned checksum for this platform")
	}
	dir := t.TempDir()
	client := &fakeGetter{status: http.StatusOK, body: string(tarGz(t, map[string]string{"mermaid-ascii": "tampered"}))}

	err = installMermaidASCII(context.Background(), dir, client, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
	require.Len(t, client.urls, 1)
	assert.Contains(t, client.urls[0], asset)
	_, statErr := os.Stat(filepath.Join(dir, "mermaid-ascii"))
	assert.True(t, os.IsNotExist(statErr))
}

// --- install command ---

func TestRunInstall_WritesSettings(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "settings.yaml")

	var out bytes.Buffer
	err := runInstall(context.Background(), []string{
		"-config", path,
		"-listen-addr", ":9999",
		"-direction", "LR",
		"-skip-tools",
	}, &out, io.Discard)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, layout.DirectionLR, cfg.Layout.Direction)
	assert.Equal(t, "info", cfg.LogLevel)

	// A second run keeps earlier values.
	require.NoError(t, runInstall(context.Background(), []string{"-config", path, "-log-level", "debug", "-skip-tools"}, io.Discard, io.Discard))
	cfg, err = config.FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestRunInstall_RejectsInvalidSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	err := runInstall(context.Background(), []string{"-config", path, "-direction", "sideways", "-skip-tools"}, io.Discard, io.Discard)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSignalRunningServer_NoPidfile(t *testing.T) {
	_, ok := signalRunningServer(filepath.Join(t.TempDir(), "flowos.pid"))
	assert.False(t, ok)
}

func TestReadPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowos.pid")
	require.NoError(t, writePID(path))
	pid, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err = readPID(path)
	assert.Error(t, err)
}
