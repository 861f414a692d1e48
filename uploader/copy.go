package uploader

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/Netflix/devdiag/logger"
	securejoin "github.com/cyphar/filepath-securejoin"
)

type destinationFile interface {
	// File gets the underlying file object
	File() *os.File
	// Finish indicates that file handling is done. It makes the file visible to other users
	Finish() error
}

// CopyBackend is a backend that copies files into a directory on the same host, for
// development and for hosts where another agent ships the directory
type CopyBackend struct {
	Dir string `json:"directory"`
}

func NewCopyBackend(directory string) Backend {
	return &CopyBackend{Dir: directory}
}

// Upload copies a single file and its envelope
func (u *CopyBackend) Upload(ctx context.Context, local, remote string, envelope []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l, err := os.Open(local) // nolint: gosec
	if err != nil {
		return err
	}
	defer func() {
		if err = l.Close(); err != nil {
			logger.G(ctx).Warningf("Failed to close %s: %s", l.Name(), err)
		}
	}()

	if _, err = u.copyFile(ctx, l, remote); err != nil {
		return err
	}
	_, err = u.copyFile(ctx, bytes.NewReader(envelope), EnvelopeKey(remote))
	return err
}

func (u *CopyBackend) copyFile(ctx context.Context, local io.Reader, remote string) (int64, error) {
	// remote is derived from entry tags, it must not be able to escape Dir
	fullremote, err := securejoin.SecureJoin(u.Dir, remote)
	if err != nil {
		return 0, err
	}
	logger.G(ctx).WithField("remote", fullremote).Debug("Copying file")

	if err = os.MkdirAll(filepath.Dir(fullremote), 0755); err != nil { // nolint: gosec
		return 0, err
	}

	r, err := newDestinationFile(fullremote, 0644)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err = r.File().Close(); err != nil {
			logger.G(ctx).Printf("Failed to close %s: %s", r.File().Name(), err)
		}
	}()

	n, err := io.Copy(r.File(), local)
	if err != nil {
		return 0, err
	}
	return n, r.Finish()
}

// renameDestinationFile writes next to the destination and renames into place on Finish
type renameDestinationFile struct {
	path string
	file *os.File
}

func (df *renameDestinationFile) File() *os.File {
	return df.file
}

func (df *renameDestinationFile) Finish() error {
	if err := df.file.Sync(); err != nil {
		return err
	}
	return os.Rename(df.file.Name(), df.path)
}

func newRenameDestinationFile(filename string, mode os.FileMode) (destinationFile, error) {
	f, err := os.OpenFile(filename+".partial", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, err
	}
	return &renameDestinationFile{
		path: filename,
		file: f,
	}, nil
}
