package models

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"veil/internal/detect"
	"veil/internal/logging"
)

// ErrUnpinned is returned when a model has no checksum and unpinned installs
// were not allowed.
var ErrUnpinned = errors.New("model archive has no pinned checksum")

type Progress struct {
	Downloaded int64
	Total      int64
	SpeedMBps  float64
	ETA        time.Duration
}

type ProgressCallback func(Progress)

// Downloader fetches model archives and installs them atomically. Installs
// through the same Downloader are serialized.
type Downloader struct {
	Client    *http.Client
	Retries   int
	RetryWait time.Duration
	// AllowUnpinned installs models whose spec has no checksum. The computed
	// checksum is still recorded.
	AllowUnpinned bool

	log zerolog.Logger
	mu  sync.Mutex
}

func NewDownloader(log zerolog.Logger) *Downloader {
	return &Downloader{
		Client:    &http.Client{},
		Retries:   2,
		RetryWait: 500 * time.Millisecond,
		log:       logging.Component(log, "models"),
	}
}

// DownloadAndInstall fetches model.URL into root/<name>. The archive checksum
// is verified while streaming; the previous install is kept until the new one
// is in place.
func (d *Downloader) DownloadAndInstall(ctx context.Context, model ModelSpec, root string, onProgress ProgressCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if strings.TrimSpace(model.URL) == "" {
		return fmt.Errorf("model %s has no download url", model.Name)
	}
	if !model.Pinned() && !d.AllowUnpinned {
		return fmt.Errorf("%s: %w", model.Name, ErrUnpinned)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	tmpDir, err := os.MkdirTemp(root, model.Name+"-download-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	archive := filepath.Join(tmpDir, model.Name+".tar.gz")
	sum, err := d.fetchWithRetry(ctx, model.URL, archive, onProgress)
	if err != nil {
		return err
	}
	if model.Pinned() && sum != model.Checksum {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", model.Checksum, sum)
	}

	extracted := filepath.Join(tmpDir, "extract")
	if err := ExtractTarGz(archive, extracted); err != nil {
		return fmt.Errorf("extract %s: %w", model.Name, err)
	}
	modelDir, err := locateModelDir(extracted)
	if err != nil {
		return err
	}
	if err := detect.CheckModelFiles(modelDir); err != nil {
		return fmt.Errorf("invalid model archive: %w", err)
	}
	mf, err := buildManifest(modelDir)
	if err != nil {
		return err
	}
	if err := mf.write(modelDir); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(modelDir, checksumFile), []byte(sum+"\n"), 0o644); err != nil {
		return err
	}

	final := InstallPath(root, model.Name)
	backup := final + ".bak"
	_ = os.RemoveAll(backup)
	if _, err := os.Stat(final); err == nil {
		if err := os.Rename(final, backup); err != nil {
			return err
		}
	}
	if err := os.Rename(modelDir, final); err != nil {
		_ = os.Rename(backup, final)
		return err
	}
	_ = os.RemoveAll(backup)
	d.log.Info().Str("model", model.Name).Str("path", final).Str("checksum", sum).Msg("model installed")
	return nil
}

func (d *Downloader) fetchWithRetry(ctx context.Context, url, dest string, onProgress ProgressCallback) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= d.Retries; attempt++ {
		if attempt > 0 {
			d.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("retrying model download")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.RetryWait):
			}
		}
		sum, err := d.fetch(ctx, url, dest, onProgress)
		if err == nil {
			return sum, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("download failed after retries: %w", lastErr)
}

// fetch streams url into dest and returns the sha256 of the body in the
// catalog's "sha256:<hex>" form.
func (d *Downloader) fetch(ctx context.Context, url, dest string, onProgress ProgressCallback) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer out.Close()

	h := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, start: time.Now(), fn: onProgress}
	if _, err := io.Copy(io.MultiWriter(out, h, pw), resp.Body); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return formatSum(h), nil
}

type progressWriter struct {
	total   int64
	written int64
	start   time.Time
	fn      ProgressCallback
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.fn == nil {
		return len(b), nil
	}
	pr := Progress{Downloaded: p.written, Total: p.total}
	if elapsed := time.Since(p.start).Seconds(); elapsed > 0 {
		pr.SpeedMBps = float64(p.written) / elapsed / (1 << 20)
	}
	if p.total > 0 && pr.SpeedMBps > 0 {
		remaining := float64(p.total-p.written) / (1 << 20)
		pr.ETA = time.Duration(remaining / pr.SpeedMBps * float64(time.Second))
	}
	p.fn(pr)
	return len(b), nil
}

func formatSum(h hash.Hash) string {
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// FileChecksum hashes a file in the catalog's checksum format.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return formatSum(h), nil
}

// ExtractTarGz unpacks regular files and directories into dest. Entry names
// are rooted at dest, so "../" components cannot write outside it.
func ExtractTarGz(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	root := filepath.Clean(dest)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return err
		}
		target := filepath.Join(root, filepath.Clean("/"+hdr.Name))
		if target == root || !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// locateModelDir returns base or its single-level subdirectory holding the
// required files, so archives with or without a top-level folder both work.
func locateModelDir(base string) (string, error) {
	if hasRequiredFiles(base) {
		return base, nil
	}
	entries, err := os.ReadDir(base)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if dir := filepath.Join(base, e.Name()); e.IsDir() && hasRequiredFiles(dir) {
			return dir, nil
		}
	}
	return "", fmt.Errorf("invalid model archive: missing %s", strings.Join(RequiredFiles, ", "))
}
