// +build linux

package uploader

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// The file is created unnamed (O_TMPFILE) and only linked into place once fully written, so
// readers of the directory never see a partial upload
type linuxDestinationFile struct {
	path string
	file *os.File
}

func (df *linuxDestinationFile) File() *os.File {
	return df.file
}

func (df *linuxDestinationFile) Finish() error {
	if err := df.file.Sync(); err != nil {
		return err
	}
	err := unix.Access(df.path, unix.F_OK)
	if err == nil {
		if err = os.Remove(df.path); err != nil {
			return err
		}
	} else if err != unix.ENOENT {
		return err
	}

	procPath := filepath.Join("/proc", "self", "fd", strconv.Itoa(int(df.file.Fd())))
	return unix.Linkat(unix.AT_FDCWD, procPath, unix.AT_FDCWD, df.path, unix.AT_SYMLINK_FOLLOW)
}

func newDestinationFile(filename string, mode os.FileMode) (destinationFile, error) {
	dir := filepath.Dir(filename)
	file, err := os.OpenFile(dir, unix.O_TMPFILE|os.O_RDWR, mode)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EISDIR) {
		// Not every filesystem supports unnamed files
		return newRenameDestinationFile(filename, mode)
	} else if err != nil {
		return nil, err
	}

	return &linuxDestinationFile{
		path: filename,
		file: file,
	}, nil
}
