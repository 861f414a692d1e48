// Package fslocker provides flock(2) based locks so that pipeline runs started by different
// processes (the daemon and a manual drain, for example) never overlap.
package fslocker

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrLocked is returned by non-blocking lock attempts when another holder exists
var ErrLocked = errors.New("lock is held by another holder")

// FSLocker is a configuration holder struct, use NewFSLocker to instantiate
type FSLocker struct {
	path string
}

// Lock is an exclusive lock on a single name
type Lock struct {
	file *os.File
}

// Unlock releases the lock. It is safe to call on a nil lock.
func (l *Lock) Unlock() {
	if l == nil {
		return
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if err != nil {
		panic(err)
	}
	shouldClose(l.file)
}

// NewFSLocker instantiates a new FSLocker instance
func NewFSLocker(path string) (*FSLocker, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, errors.Wrapf(err, "Cannot create lock directory %s", path)
	}

	return &FSLocker{path: path}, nil
}

// ExclusiveLock tries to get an exclusive Lock on name.
// If timeout is nil, then this function will be blocking, a zero timeout makes a single attempt.
// It returns ErrLocked if the lock could not be taken in time.
func (locker *FSLocker) ExclusiveLock(name string, timeout *time.Duration) (*Lock, error) {
	fd, err := locker.openLockFile(name)
	if err != nil {
		return nil, err
	}

	err = lockHelper(fd, timeout)
	if err != nil {
		shouldClose(fd)
		return nil, err
	}
	return &Lock{file: fd}, nil
}

// TryExclusiveLock is ExclusiveLock with a zero timeout
func (locker *FSLocker) TryExclusiveLock(name string) (*Lock, error) {
	var noWait time.Duration
	return locker.ExclusiveLock(name, &noWait)
}

func lockHelper(fd *os.File, timeout *time.Duration) error {
	if timeout == nil {
		return unix.Flock(int(fd.Fd()), unix.LOCK_EX)
	}

	start := time.Now()
	for {
		err := unix.Flock(int(fd.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		} else if err != unix.EWOULDBLOCK {
			return err
		}
		if time.Since(start) >= *timeout {
			return ErrLocked
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Lock names may contain slashes, every path component becomes a ".dir" directory so that a
// name can never collide with a directory of another name.
func (locker *FSLocker) openLockFile(name string) (*os.File, error) {
	dir, file := filepath.Split(filepath.Clean(name))
	pathComponents := []string{locker.path}
	for _, component := range strings.Split(dir, "/") {
		if component == "" {
			continue
		}
		pathComponents = append(pathComponents, component+".dir")
	}
	pathComponents = append(pathComponents, file+".lock")
	lockPath := filepath.Join(pathComponents...)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0700); err != nil {
		return nil, err
	}
	return os.OpenFile(lockPath, os.O_RDONLY|os.O_CREATE, 0400)
}

func shouldClose(closeable io.Closer) {
	if err := closeable.Close(); err != nil {
		panic(err)
	}
}
