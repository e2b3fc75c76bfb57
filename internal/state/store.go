package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	lockTimeout  = 5 * time.Second
	lockFileName = ".state.lock"
	fileMode     = 0o644
	dirMode      = 0o755
)

// fileStore stores one JSON record file per key under a state directory,
// serialized by an advisory flock on a dedicated lock file. Record files are
// replaced atomically, so locking a separate file keeps the lock valid
// across replacements.
type fileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a state store rooted at dir.
func NewStore(dir string) *fileStore {
	return &fileStore{dir: dir}
}

func (s *fileStore) Get(ctx context.Context, key string) (*Record, error) {
	var record *Record
	err := s.withLock(ctx, false, func() error {
		var err error
		record, err = s.read(key)
		return err
	})
	return record, err
}

func (s *fileStore) Put(ctx context.Context, record *Record) error {
	if record.Key == "" {
		return fmt.Errorf("record key is required")
	}
	return s.withLock(ctx, true, func() error {
		now := time.Now().UTC()
		record.SchemaVersion = SchemaVersion
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		record.UpdatedAt = now
		return s.write(record)
	})
}

func (s *fileStore) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.withLock(ctx, false, func() error {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("read state directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			record, err := s.readFile(filepath.Join(s.dir, entry.Name()))
			if err != nil {
				return err
			}
			records = append(records, *record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

func (s *fileStore) Delete(ctx context.Context, key string) error {
	return s.withLock(ctx, true, func() error {
		err := os.Remove(s.recordPath(key))
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return fmt.Errorf("delete record %s: %w", key, err)
		}
		return nil
	})
}

// read loads and validates the record for key. Callers hold the lock.
func (s *fileStore) read(key string) (*Record, error) {
	record, err := s.readFile(s.recordPath(key))
	if err != nil {
		return nil, err
	}
	// Keys are sanitized into file names; a collision would surface here.
	if record.Key != key {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return record, nil
}

func (s *fileStore) readFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return nil, fmt.Errorf("read record file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode record file %s: %w", filepath.Base(path), err)
	}
	if err := checkSchema(record.SchemaVersion); err != nil {
		return nil, fmt.Errorf("record %s: %w", record.Key, err)
	}
	return &record, nil
}

// write persists the record atomically. Callers hold the lock.
func (s *fileStore) write(record *Record) error {
	tmp, err := os.CreateTemp(s.dir, "record-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp record file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(record); err != nil {
		tmp.Close()
		return fmt.Errorf("encode record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record file: %w", err)
	}

	if err := os.Rename(tmpPath, s.recordPath(record.Key)); err != nil {
		return fmt.Errorf("rename record file: %w", err)
	}
	tmpPath = ""
	return nil
}

// recordPath maps a key to its record file, replacing characters that do
// not belong in file names (build globs carry '*').
func (s *fileStore) recordPath(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

func sanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// withLock runs fn while holding the in-process mutex and the cross-process
// flock on the state directory's lock file.
func (s *fileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	if exclusive {
		s.mu.Lock()
		defer s.mu.Unlock()
	} else {
		s.mu.RLock()
		defer s.mu.RUnlock()
	}

	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(s.dir, lockFileName), os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return fmt.Errorf("open state lock file: %w", err)
	}
	defer func() {
		syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		lockFile.Close()
	}()

	lockType := syscall.LOCK_SH
	if exclusive {
		lockType = syscall.LOCK_EX
	}
	if err := acquireLock(ctx, lockFile, lockType); err != nil {
		return err
	}

	return fn()
}

// acquireLock attempts a non-blocking flock until it succeeds, the timeout
// expires, or ctx is done.
func acquireLock(ctx context.Context, file *os.File, lockType int) error {
	deadline := time.Now().Add(lockTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := syscall.Flock(int(file.Fd()), lockType|syscall.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != syscall.EWOULDBLOCK {
			return fmt.Errorf("acquire state lock: %w", err)
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}
