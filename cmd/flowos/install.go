package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/rendis/flowos/internal/config"
	"github.com/rendis/flowos/internal/layout"
)

const mermaidASCIIVersion = "1.1.0"

// SHA-256 checksums for mermaid-ascii v1.1.0 release assets.
var mermaidASCIIChecksums = map[string]string{
	"mermaid-ascii_Darwin_arm64.tar.gz":  "068d2ff869d4921655cab471500fffd8c3ed28155b100518ed3cf3835d53d3d0",
	"mermaid-ascii_Darwin_x86_64.tar.gz": "0cd4c9c01a03284fe866f39a1ce1aaee1e6a2fbd91deedc4ec254cb87622eec8",
	"mermaid-ascii_Linux_arm64.tar.gz":   "3b7d0a95141bfbca838e445ea802ffb7fba8873b3c4af498482c84f83526f2db",
	"mermaid-ascii_Linux_x86_64.tar.gz":  "838ea93d561b3bc83aa15531c6ed7d2d261a8edc521d5484f7e91fe831cc4c65",
}

// runInstall writes a settings file from flags, fetches the optional
// mermaid-ascii renderer and asks a running server to reload.
func runInstall(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := newFlagSet("install", stderr)
	settings := flags.String("config", config.SettingsPath(), "settings file to write (.yaml or .json)")
	listenAddr := flags.String("listen-addr", "", "TCP listen address")
	dbPath := flags.String("db-path", "", "database path")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error")
	direction := flags.String("direction", "", "default layout direction")
	skipTools := flags.Bool("skip-tools", false, "do not download mermaid-ascii")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.FromFile(*settings)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return err
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *direction != "" {
		cfg.Layout.Direction = layout.Direction(*direction)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := cfg.Save(*settings); err != nil {
		return fmt.Errorf("cannot write %s: %w", *settings, err)
	}
	fmt.Fprintf(stdout, "Config written to %s\n", *settings)

	if !*skipTools {
		client := &http.Client{Timeout: 60 * time.Second}
		if err := installMermaidASCII(ctx, cfg.BinDir, client, stdout); err != nil {
			fmt.Fprintf(stderr, "Warning: %v; ASCII diagrams will use the built-in renderer\n", err)
		}
	}

	if pid, ok := signalRunningServer(config.PIDPath()); ok {
		fmt.Fprintf(stdout, "Signaled running server (PID %d) to reload configuration\n", pid)
	}
	return nil
}

// signalRunningServer sends SIGHUP to the server recorded in the pidfile.
func signalRunningServer(pidPath string) (int, bool) {
	pid, err := readPID(pidPath)
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return 0, false
	}
	return pid, true
}

// installMermaidASCII downloads, verifies and extracts mermaid-ascii into binDir.
func installMermaidASCII(ctx context.Context, binDir string, client httpGetter, stdout io.Writer) error {
	destPath := filepath.Join(binDir, "mermaid-ascii")
	if _, err := os.Stat(destPath); err == nil {
		fmt.Fprintf(stdout, "mermaid-ascii already installed at %s\n", destPath)
		return nil
	}

	assetName, err := mermaidASCIIAssetName(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://github.com/AlexanderGrooff/mermaid-ascii/releases/download/%s/%s",
		mermaidASCIIVersion, assetName)

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", binDir, err)
	}
	fmt.Fprintf(stdout, "Downloading mermaid-ascii %s...\n", mermaidASCIIVersion)
	dl, err := fetchToTemp(ctx, url, binDir, client)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer os.Remove(dl.Path)

	if err := dl.Verify(mermaidASCIIChecksums[assetName]); err != nil {
		return fmt.Errorf("%s: %w", assetName, err)
	}

	f, err := os.Open(dl.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := extractTarGz(f, binDir, "mermaid-ascii"); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("extraction failed: %w", err)
	}

	fmt.Fprintf(stdout, "mermaid-ascii installed to %s\n", destPath)
	return nil
}

// mermaidASCIIAssetName returns the release asset name for a platform.
func mermaidASCIIAssetName(goos, goarch string) (string, error) {
	osNames := map[string]string{"darwin": "Darwin", "linux": "Linux"}
	archNames := map[string]string{"amd64": "x86_64", "arm64": "arm64", "386": "i386"}

	osName, ok := osNames[goos]
	if !ok {
		return "", fmt.Errorf("mermaid-ascii: unsupported OS %q", goos)
	}
	archName, ok := archNames[goarch]
	if !ok {
		return "", fmt.Errorf("mermaid-ascii: unsupported architecture %q", goarch)
	}
	return fmt.Sprintf("mermaid-ascii_%s_%s.tar.gz", osName, archName), nil
}

// extractTarGz extracts the regular file named targetName from a tar.gz
// stream into destDir, matching by base name.
func extractTarGz(r io.Reader, destDir, targetName string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("file %q not found in archive", targetName)
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}
		if filepath.Base(hdr.Name) != targetName || hdr.Typeflag != tar.TypeReg {
			continue
		}

		destPath := filepath.Join(destDir, targetName)
		f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("create %s: %w", destPath, err)
		}
		if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // bounded by tar header size
			f.Close()
			return fmt.Errorf("write %s: %w", destPath, err)
		}
		return f.Close()
	}
}
