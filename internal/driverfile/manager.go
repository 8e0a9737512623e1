// Package driverfile downloads driver artifacts from a Maven-style repository and
// keeps them in a local cache keyed by engine type and coordinates.
package driverfile

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalidArchive means the downloaded file is not a readable jar.
var ErrInvalidArchive = errors.New("downloaded file is not a valid archive")

// DownloadError describes a failed download or validation. Callers may retry; the cache
// is left without a file for the coordinates.
type DownloadError struct {
	Op  string
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("driver %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Manager resolves coordinates to local jar files.
type Manager struct {
	StorageDir string
	Repository string
	Client     *http.Client
}

// NewManager returns a manager with a client that gives up after five minutes.
func NewManager(storageDir, repository string) *Manager {
	if repository == "" {
		repository = DefaultRepository
	}
	return &Manager{
		StorageDir: storageDir,
		Repository: repository,
		Client:     &http.Client{Timeout: 5 * time.Minute},
	}
}

// StoragePath is where the artifact for engine and c lives in the cache.
func (m *Manager) StoragePath(engine string, c Coordinates) string {
	return filepath.Join(m.StorageDir, engine, c.GroupID, c.ArtifactID, c.Version, c.FileName())
}

// Resolve returns the local path of the artifact, downloading it on a cache miss.
func (m *Manager) Resolve(ctx context.Context, engine string, c Coordinates) (string, error) {
	if engine == "" {
		return "", errors.New("resolve driver: engine type is required")
	}
	if err := c.Validate(); err != nil {
		return "", err
	}

	target := m.StoragePath(engine, c)
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		return target, nil
	}

	src, err := DownloadURL(m.Repository, c)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create driver directory: %w", err)
	}
	if err := m.download(ctx, src, target); err != nil {
		return "", err
	}
	return target, nil
}

// download streams src into a temporary file beside target, validates it and renames it
// into place. The temporary file is removed on every failure.
func (m *Manager) download(ctx context.Context, src, target string) (err error) {
	logger := slog.With(slog.String("url", src), slog.String("path", target))
	logger.InfoContext(ctx, "downloading driver")
	start := time.Now()

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.part")
	if err != nil {
		return fmt.Errorf("create driver file: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		tmp.Close()
		if rmErr := os.Remove(tmp.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.WarnContext(ctx, "remove partial driver file failed", slog.Any("err", rmErr))
		}
	}()

	n, err := m.fetch(ctx, src, tmp)
	if err != nil {
		return &DownloadError{Op: "download", URL: src, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &DownloadError{Op: "download", URL: src, Err: err}
	}
	if err := validateArchive(tmp.Name()); err != nil {
		logger.WarnContext(ctx, "discarding invalid driver archive", slog.Int64("bytes", n), slog.Any("err", err))
		return &DownloadError{Op: "validate", URL: src, Err: err}
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return &DownloadError{Op: "store", URL: src, Err: err}
	}

	logger.InfoContext(ctx, "driver downloaded", slog.Int64("bytes", n), slog.Duration("duration", time.Since(start)))
	return nil
}

func (m *Manager) fetch(ctx context.Context, src string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, err
	}
	resp, err := m.client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.Copy(dst, resp.Body)
}

func (m *Manager) client() *http.Client {
	if m.Client != nil {
		return m.Client
	}
	return http.DefaultClient
}

// validateArchive checks that path is a zip with at least one readable entry.
func validateArchive(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return fmt.Errorf("%w: archive is empty", ErrInvalidArchive)
	}
	f, err := r.File[0].Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer f.Close()
	if _, err := io.Copy(io.Discard, f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return nil
}
