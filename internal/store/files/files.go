// Package files keeps network artifacts on local disk. Every network is stored
// compressed as <hash>.gz, and the reference network is a copy published
// under a fixed name that workers poll.
package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rchs819/leela-zero-server/internal/domain/model"
	"github.com/rchs819/leela-zero-server/internal/ingest"
)

// BestNetworkName is the file workers download to get the reference network.
const BestNetworkName = "best-network.gz"

// Store manages the artifact directory.
type Store struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	best bestCache
}

type bestCache struct {
	modTime time.Time
	size    int64
	hash    string
}

// New opens dir, creating it when missing.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, logger: logger.With("component", "artifact_store")}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the location of the artifact for hash.
func (s *Store) Path(hash string) string {
	return filepath.Join(s.dir, hash+".gz")
}

// Stage creates a temporary file in the artifact directory. Callers write the
// compressed upload to it and then either Commit or Discard it.
func (s *Store) Stage() (*Staged, error) {
	f, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	return &Staged{store: s, f: f}, nil
}

// Staged is an upload in progress.
type Staged struct {
	store *Store
	f     *os.File
	done  bool
}

func (t *Staged) Write(p []byte) (int, error) {
	return t.f.Write(p)
}

// Name returns the temporary path.
func (t *Staged) Name() string {
	return t.f.Name()
}

// Commit moves the staged file to its content-addressed location. If an
// artifact with the same hash already exists the staged copy is dropped and
// existed is true.
func (t *Staged) Commit(hash string) (existed bool, err error) {
	if t.done {
		return false, errors.New("staged artifact already finalized")
	}
	t.done = true
	tmp := t.f.Name()
	defer func() {
		if err != nil || existed {
			_ = os.Remove(tmp)
		}
	}()

	if !validHash(hash) {
		_ = t.f.Close()
		return false, model.Validationf("invalid artifact hash %q", hash)
	}
	if err := t.f.Sync(); err != nil {
		_ = t.f.Close()
		return false, fmt.Errorf("sync artifact: %w", err)
	}
	if err := t.f.Close(); err != nil {
		return false, fmt.Errorf("close artifact: %w", err)
	}

	target := t.store.Path(hash)
	if _, err := os.Stat(target); err == nil {
		return true, nil
	}
	if err := os.Rename(tmp, target); err != nil {
		return false, fmt.Errorf("rename artifact: %w", err)
	}
	return false, nil
}

// Discard removes the staged file. It is a no-op after Commit.
func (t *Staged) Discard() error {
	if t.done {
		return nil
	}
	t.done = true
	_ = t.f.Close()
	if err := os.Remove(t.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove temp artifact: %w", err)
	}
	return nil
}

// Open returns the compressed artifact for hash.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	if !validHash(hash) {
		return nil, model.Validationf("invalid artifact hash %q", hash)
	}
	f, err := os.Open(s.Path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.NotFoundf("artifact %s", hash)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Exists reports whether an artifact for hash is stored.
func (s *Store) Exists(hash string) bool {
	if !validHash(hash) {
		return false
	}
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Remove deletes the artifact for hash. A missing artifact is not an error.
func (s *Store) Remove(hash string) error {
	if !validHash(hash) {
		return model.Validationf("invalid artifact hash %q", hash)
	}
	if err := os.Remove(s.Path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// Promote publishes the artifact for hash as the reference network. The copy
// is written to a temp file and renamed over the old one, so readers observe
// either the previous or the new network and never a partial file.
func (s *Store) Promote(hash string) (err error) {
	src, err := s.Open(hash)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(s.dir, ".best-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp best network: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("copy best network: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync best network: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close best network: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bestPath := filepath.Join(s.dir, BestNetworkName)
	if err = os.Rename(tmpPath, bestPath); err != nil {
		return fmt.Errorf("publish best network: %w", err)
	}
	if info, statErr := os.Stat(bestPath); statErr == nil {
		s.best = bestCache{modTime: info.ModTime(), size: info.Size(), hash: hash}
	} else {
		s.best = bestCache{}
	}
	s.logger.Info("best network published", "network_hash", hash)
	return nil
}

// BestHash returns the content hash of the reference network. The digest is
// recomputed only when the file's modification time or size changes. It
// returns ErrNotFound when no reference network has been published.
func (s *Store) BestHash() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bestPath := filepath.Join(s.dir, BestNetworkName)
	info, err := os.Stat(bestPath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", model.NotFoundf("no best network")
	}
	if err != nil {
		return "", fmt.Errorf("stat best network: %w", err)
	}
	if s.best.hash != "" && info.ModTime().Equal(s.best.modTime) && info.Size() == s.best.size {
		return s.best.hash, nil
	}

	f, err := os.Open(bestPath)
	if err != nil {
		return "", fmt.Errorf("open best network: %w", err)
	}
	defer f.Close()
	hash, err := ingest.Digest(f)
	if err != nil {
		return "", fmt.Errorf("hash best network: %w", err)
	}
	s.best = bestCache{modTime: info.ModTime(), size: info.Size(), hash: hash}
	s.logger.Debug("best network hash recomputed", "network_hash", hash)
	return hash, nil
}

// CleanStale removes temp files older than maxAge left behind by a crash.
func (s *Store) CleanStale(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".tmp" {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func validHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
