// Package watermark persists the time of the last log entry the collector has observed.
package watermark

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

// Store holds a single monotonically non-decreasing millisecond cursor
type Store interface {
	Get() (int64, error)
	// Advance persists timeMillis if, and only if, it is greater than the stored value.
	// The value is durable once Advance returns without error.
	Advance(timeMillis int64) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// FileStore keeps the cursor in a small text file, replaced atomically on each write so a crash
// never leaves a torn value behind
type FileStore struct {
	mu    sync.Mutex
	path  string
	value int64
	init  bool
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrapf(err, "Cannot create watermark directory for %s", path)
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) load() error {
	if s.init {
		return nil
	}
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.init = true
		return nil
	} else if err != nil {
		return errors.Wrapf(err, "Cannot read watermark %s", s.path)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return errors.Wrapf(err, "Watermark %s is corrupt", s.path)
	}
	s.value = value
	s.init = true
	return nil
}

func (s *FileStore) Get() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return 0, err
	}
	return s.value, nil
}

func (s *FileStore) Advance(timeMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	if timeMillis <= s.value {
		return nil
	}
	if err := renameio.WriteFile(s.path, []byte(strconv.FormatInt(timeMillis, 10)), 0600); err != nil {
		return errors.Wrapf(err, "Cannot persist watermark %d to %s", timeMillis, s.path)
	}
	s.value = timeMillis
	return nil
}

// MemoryStore is a Store without durability, for tests and dry runs
type MemoryStore struct {
	mu    sync.Mutex
	value int64
}

func NewMemoryStore(initial int64) *MemoryStore {
	return &MemoryStore{value: initial}
}

func (s *MemoryStore) Get() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, nil
}

func (s *MemoryStore) Advance(timeMillis int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeMillis > s.value {
		s.value = timeMillis
	}
	return nil
}
