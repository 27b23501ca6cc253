// Package local implements a local filesystem artifact store.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/monitorify/monitorify/internal/blob"
)

// Store writes artifacts to a single flat directory on disk.
type Store struct {
	baseDir string
}

// New creates the store, ensuring the base directory exists and is writable.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(baseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("clean up test file: %w", err)
	}

	return &Store{baseDir: baseDir}, nil
}

// Dir returns the directory artifacts are written to.
func (s *Store) Dir() string { return s.baseDir }

// Put writes data under the given base filename.
func (s *Store) Put(_ context.Context, name string, data []byte) (string, error) {
	if !blob.ValidName(name) {
		return "", blob.ErrBadName
	}
	path := filepath.Join(s.baseDir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return blob.FileURL(name), nil
}

// Delete removes one artifact. Only the base filename is honored, so a stored
// URL can never escape the upload directory.
func (s *Store) Delete(_ context.Context, name string) error {
	name = filepath.Base(name)
	if !blob.ValidName(name) {
		return blob.ErrBadName
	}
	err := os.Remove(filepath.Join(s.baseDir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// SweepOlderThan removes prefixed artifacts last modified before cutoff.
func (s *Store) SweepOlderThan(ctx context.Context, cutoff time.Time, prefixes []string) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("list artifacts: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !hasAnyPrefix(entry.Name(), prefixes) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
