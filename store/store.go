// Package store persists purchase records to a single JSON file shared by
// every thread and process on the host. The file is the only coordination
// medium: all mutation goes through WithLock, which serializes
// load/mutate/save cycles behind a cross-process advisory lock.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/atmosphericc/stockwatch/models"
	"github.com/google/uuid"
)

// ErrLockTimeout is returned when the advisory lock could not be acquired
// within the configured budget. Callers treat it as transient: the tick is
// skipped and retried on the next cycle.
var ErrLockTimeout = errors.New("store: lock acquisition timed out")

// MutateFunc receives the current record map and returns the map to persist.
type MutateFunc func(map[string]models.PurchaseRecord) map[string]models.PurchaseRecord

// Store is the persistence contract. FileStore is the production
// implementation; MemoryStore backs tests and embedded use.
type Store interface {
	Load() map[string]models.PurchaseRecord
	Save(map[string]models.PurchaseRecord) error
	WithLock(fn MutateFunc) error
}

// FileStore is a durable key-value record store backed by one JSON file,
// with atomic replace-on-write and flock-based cross-process locking.
type FileStore struct {
	path     string
	lockPath string
	timeout  time.Duration
	retries  int
	owner    string
}

// NewFileStore creates a store for the given state and lock file paths.
// timeout bounds a single lock acquisition; retries bounds how many
// acquisitions WithLock attempts before giving up with ErrLockTimeout.
func NewFileStore(path, lockPath string, timeout time.Duration, retries int) *FileStore {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	return &FileStore{
		path:     path,
		lockPath: lockPath,
		timeout:  timeout,
		retries:  retries,
		owner:    uuid.NewString(),
	}
}

// Load reads the backing file. A missing or malformed file yields an empty
// map, never an error: corrupt state is equivalent to a fresh start.
func (s *FileStore) Load() map[string]models.PurchaseRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("state file unreadable, starting empty",
				slog.String("path", s.path),
				slog.Any("error", err),
			)
		}
		return map[string]models.PurchaseRecord{}
	}

	var records map[string]models.PurchaseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		slog.Warn("state file malformed, starting empty",
			slog.String("path", s.path),
			slog.Any("error", err),
		)
		return map[string]models.PurchaseRecord{}
	}
	if records == nil {
		records = map[string]models.PurchaseRecord{}
	}
	return records
}

// Save serializes the map to a temp file in the same directory and renames
// it over the target path, so a concurrent reader never observes a partial
// write.
func (s *FileStore) Save(records map[string]models.PurchaseRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "purchase_states-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// WithLock acquires the cross-process lock, loads the state, invokes fn
// with the snapshot, persists the map fn returns, and releases the lock.
// This is the only sanctioned way to mutate state: it guarantees
// read-modify-write atomicity across threads and processes.
func (s *FileStore) WithLock(fn MutateFunc) error {
	f, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.release(f)

	records := s.Load()
	updated := fn(records)
	if updated == nil {
		updated = map[string]models.PurchaseRecord{}
	}
	if err := s.Save(updated); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// acquire takes the exclusive flock, polling non-blocking attempts until
// the timeout budget across retries is exhausted. Non-blocking attempts
// keep a wedged lock file from stalling the caller forever.
func (s *FileStore) acquire() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	attempts := s.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		deadline := time.Now().Add(s.timeout)
		for {
			err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
			if err == nil {
				f.Truncate(0)
				f.Seek(0, 0)
				fmt.Fprintf(f, "%s %d %s\n", s.owner, os.Getpid(), time.Now().Format(time.RFC3339))
				return f, nil
			}
			if err != syscall.EWOULDBLOCK && err != syscall.EAGAIN {
				f.Close()
				return nil, fmt.Errorf("flock %s: %w", s.lockPath, err)
			}
			if time.Now().After(deadline) {
				break
			}
			time.Sleep(25 * time.Millisecond)
		}
		if attempt < attempts-1 {
			slog.Debug("lock busy, retrying",
				slog.String("path", s.lockPath),
				slog.Int("attempt", attempt+1),
			)
		}
	}

	f.Close()
	return nil, fmt.Errorf("%w after %d attempts", ErrLockTimeout, attempts)
}

func (s *FileStore) release(f *os.File) {
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}
