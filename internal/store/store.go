package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-sync/internal/infrastructure/logging"
)

// Store owns the settings file. All access goes through View and Mutate;
// Mutate persists before it returns.
type Store struct {
	path    string
	backups int
	logger  *logging.Logger
	saved   func()

	mu       sync.RWMutex
	settings Settings
}

// Option configures a Store.
type Option func(*Store)

// WithBackups sets how many rotated gzip backups of the previous state
// file are kept. Zero disables backups.
func WithBackups(n int) Option {
	return func(s *Store) { s.backups = n }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSaveHook registers a callback invoked after every successful save.
// Used for metrics.
func WithSaveHook(fn func()) Option {
	return func(s *Store) { s.saved = fn }
}

// New creates a store backed by the file at path. Call Load before use.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:    path,
		backups: 3,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the state file into memory. The first result reports
// whether the file existed; a missing file is a fresh install, not an
// error.
func (s *Store) Load() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.settings = Settings{}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state file: %w", err)
	}

	var loaded Settings
	if err := sonic.Unmarshal(data, &loaded); err != nil {
		return true, fmt.Errorf("failed to parse state file %s: %w", s.path, err)
	}
	s.settings = loaded
	s.logger.Debug("state loaded",
		zap.String("path", s.path),
		zap.Int("workspace_mappings", len(loaded.Workspaces)),
		zap.Int("artifact_mappings", len(loaded.Artifacts)),
	)
	return true, nil
}

// View runs fn with a read-only snapshot of the settings. The snapshot
// is a deep copy; fn may retain it.
func (s *Store) View(fn func(*Settings)) {
	s.mu.RLock()
	snapshot := s.settings.clone()
	s.mu.RUnlock()
	fn(snapshot)
}

// Mutate applies fn to the settings and writes the file before
// returning. One save per call; callers batching several logical
// mutations into one fn get one write.
func (s *Store) Mutate(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.settings)
	if err := s.saveLocked(); err != nil {
		return err
	}
	if s.saved != nil {
		s.saved()
	}
	return nil
}

// saveLocked writes the settings atomically: marshal, write a sibling
// temp file, fsync, rename over the target. The previous file is rotated
// into gzip backups first.
func (s *Store) saveLocked() error {
	data, err := sonic.MarshalIndent(&s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if s.backups > 0 {
		if err := s.rotateBackups(); err != nil {
			// A failed backup must not block the save itself.
			s.logger.Warn("state backup rotation failed", zap.Error(err))
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// rotateBackups shifts state.json.N.gz up by one, dropping the oldest,
// and compresses the current file into slot 1.
func (s *Store) rotateBackups() error {
	current, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	oldest := fmt.Sprintf("%s.%d.gz", s.path, s.backups)
	os.Remove(oldest)
	for i := s.backups - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.%d.gz", s.path, i)
		to := fmt.Sprintf("%s.%d.gz", s.path, i+1)
		if _, err := os.Stat(from); err == nil {
			os.Rename(from, to)
		}
	}

	f, err := os.OpenFile(s.path+".1.gz", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write(current); err != nil {
		gz.Close()
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Backups lists existing backup files, newest first.
func (s *Store) Backups() []string {
	var found []string
	for i := 1; i <= s.backups; i++ {
		p := fmt.Sprintf("%s.%d.gz", s.path, i)
		if _, err := os.Stat(p); err == nil {
			found = append(found, p)
		}
	}
	return found
}

// ReadBackup decompresses one backup file.
func ReadBackup(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup %s: %w", filepath.Base(path), err)
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
