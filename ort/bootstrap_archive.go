package ort

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// downloadAndInstallRuntime fetches the archive, verifies it, extracts it into
// a staging directory and renames the result into installDir.
func downloadAndInstallRuntime(cfg bootstrapConfig, artifact runtimeArtifact, installDir string) error {
	url := artifact.downloadURL(cfg.baseURL, cfg.version)
	archivePath, checksum, err := downloadRuntimeArchive(cfg, url)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(archivePath) }()

	if cfg.expectedSHA256 != "" && checksum != cfg.expectedSHA256 {
		return fmt.Errorf("download checksum mismatch: expected %s, got %s", cfg.expectedSHA256, checksum)
	}
	cfg.logger.Debug("downloaded ONNX Runtime archive", zap.String("url", url), zap.String("sha256", checksum))

	staging := fmt.Sprintf("%s.staging-%d", installDir, time.Now().UnixNano())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("failed to create bootstrap staging directory %q: %w", staging, err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	if err := extractArchive(archivePath, staging, artifact.archiveExtension); err != nil {
		return err
	}

	// Release archives wrap everything in a directory named after the archive;
	// fall back to the staging root when they do not.
	extracted := filepath.Join(staging, artifact.archiveName(cfg.version))
	if info, err := os.Stat(extracted); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to inspect extracted install directory %q: %w", extracted, err)
		}
		extracted = staging
	} else if !info.IsDir() {
		return fmt.Errorf("extracted install path is not a directory: %q", extracted)
	}

	if _, err := resolveExtractedLibraryPath(extracted, artifact); err != nil {
		if errors.Is(err, errSharedLibraryNotFound) {
			return fmt.Errorf("downloaded archive did not contain expected shared library in %q", filepath.Join(extracted, "lib"))
		}
		return err
	}

	if err := os.RemoveAll(installDir); err != nil {
		return fmt.Errorf("failed to remove previous ONNX Runtime install at %q: %w", installDir, err)
	}
	if err := os.Rename(extracted, installDir); err != nil {
		return fmt.Errorf("failed to install ONNX Runtime to %q: %w", installDir, err)
	}
	return nil
}

func downloadRuntimeArchive(cfg bootstrapConfig, url string) (archivePath, checksum string, err error) {
	resp, err := cfg.httpClient.Get(url)
	if err != nil {
		return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if s := strings.TrimSpace(string(snippet)); s != "" {
			return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: HTTP %d: %s", url, resp.StatusCode, s)
		}
		return "", "", fmt.Errorf("failed to download ONNX Runtime archive from %q: HTTP %d", url, resp.StatusCode)
	}

	if err := os.MkdirAll(cfg.cacheDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create cache directory %q: %w", cfg.cacheDir, err)
	}
	tmp, err := os.CreateTemp(cfg.cacheDir, "onnxruntime-*.archive")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temporary archive file: %w", err)
	}
	defer func() {
		err = errors.Join(err, tmp.Close())
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to write ONNX Runtime archive to %q: %w", tmp.Name(), err)
	}
	if written == 0 {
		return "", "", fmt.Errorf("downloaded ONNX Runtime archive is empty")
	}
	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), nil
}

func extractArchive(archivePath, dest, extension string) error {
	var (
		files int
		err   error
	)
	switch extension {
	case "tgz":
		files, err = extractTGZ(archivePath, dest)
	case "zip":
		files, err = extractZIP(archivePath, dest)
	default:
		return fmt.Errorf("unsupported archive extension %q", extension)
	}
	if err != nil {
		return err
	}
	if files == 0 {
		return fmt.Errorf("archive %q did not contain regular files", archivePath)
	}
	return nil
}

func extractTGZ(archivePath, dest string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive %q: %w", archivePath, err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read gzip archive %q: %w", archivePath, err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	files := 0
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, fmt.Errorf("failed to read tar entry from %q: %w", archivePath, err)
		}

		target, err := secureArchiveJoin(dest, header.Name)
		if err != nil {
			return files, err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("failed to create directory %q: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeArchiveEntry(target, header.FileInfo().Mode().Perm(), tr); err != nil {
				return files, err
			}
			files++
		default:
			// Links and special files are skipped; the runtime ships regular files.
		}
	}
}

func extractZIP(archivePath, dest string) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open ZIP archive %q: %w", archivePath, err)
	}
	defer func() { _ = reader.Close() }()

	files := 0
	for _, entry := range reader.File {
		target, err := secureArchiveJoin(dest, entry.Name)
		if err != nil {
			return files, err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("failed to create directory %q: %w", target, err)
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return files, fmt.Errorf("failed to open ZIP entry %q: %w", entry.Name, err)
		}
		err = writeArchiveEntry(target, entry.Mode().Perm(), rc)
		if closeErr := rc.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close ZIP entry %q: %w", entry.Name, closeErr)
		}
		if err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func writeArchiveEntry(target string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %q: %w", target, err)
	}
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create extracted file %q: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to extract file %q: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close extracted file %q: %w", target, err)
	}
	return nil
}

// secureArchiveJoin joins an archive entry name onto baseDir, rejecting
// absolute paths, drive letters and anything that escapes baseDir.
func secureArchiveJoin(baseDir, entry string) (string, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", fmt.Errorf("invalid empty archive entry path")
	}

	normalized := strings.ReplaceAll(entry, "\\", "/")
	if strings.HasPrefix(normalized, "/") {
		return "", fmt.Errorf("invalid absolute archive entry path %q", entry)
	}
	if len(normalized) >= 2 && normalized[1] == ':' && isASCIILetter(normalized[0]) {
		return "", fmt.Errorf("invalid archive entry path with drive letter %q", entry)
	}

	cleaned := filepath.Clean(filepath.FromSlash(normalized))
	if cleaned == "." {
		return "", fmt.Errorf("invalid archive entry path %q", entry)
	}
	target := filepath.Join(baseDir, cleaned)
	rel, err := filepath.Rel(baseDir, target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve archive path %q: %w", entry, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("unsafe archive entry path %q", entry)
	}
	return target, nil
}

func isASCIILetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
