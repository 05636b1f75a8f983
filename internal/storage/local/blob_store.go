// Package local stores downloaded submission payloads on the local
// filesystem, laid out by entity so one company's filings sit together.
package local

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfilings/edgarfetch/internal/edgar"
)

// Config captures the parameters for the payload store.
type Config struct {
	// BaseDir is the root directory where payloads are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store writes submission payloads to the local filesystem.
type Store struct {
	baseDir string
}

// New creates the payload store, provisioning and probing the base
// directory.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, &edgar.ConfigurationError{
			Field:       "storage base directory",
			Remediation: "set EDGAR_STORAGE_DIR or storage.base_dir in the config file",
		}
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Probe for write permissions up front rather than at first download.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

// SubmissionPath returns the destination path for one complete
// submission file. The file may not exist yet.
func (s *Store) SubmissionPath(cik int64, accession string) string {
	return filepath.Join(s.baseDir, "submissions", fmt.Sprintf("%d", cik), accession+".txt")
}

// resolve joins path under the base directory, rejecting traversal.
func (s *Store) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Join(s.baseDir, path)
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root: %s", path)
	}
	return full, nil
}

// Put writes data under the given store-relative path and returns the
// absolute location.
func (s *Store) Put(path string, data io.Reader) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move payload into place: %w", err)
	}
	return full, nil
}

// ReadSubmission loads a stored submission payload.
func (s *Store) ReadSubmission(cik int64, accession string) ([]byte, error) {
	data, err := os.ReadFile(s.SubmissionPath(cik, accession))
	if err != nil {
		return nil, fmt.Errorf("read submission %s: %w", accession, err)
	}
	return data, nil
}

// HasSubmission reports whether the payload is already on disk.
func (s *Store) HasSubmission(cik int64, accession string) bool {
	info, err := os.Stat(s.SubmissionPath(cik, accession))
	return err == nil && !info.IsDir()
}

// Usage walks the store and returns the stored file count and total
// byte size.
func (s *Store) Usage() (files int64, bytes int64, err error) {
	err = filepath.WalkDir(s.baseDir, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		files++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("walk storage root: %w", err)
	}
	return files, bytes, nil
}
