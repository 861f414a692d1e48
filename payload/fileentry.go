package payload

import (
	"crypto/md5" // nolint: gosec
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// NewFileEntry hashes the file at path and names it name
func NewFileEntry(path, name string) (FileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileEntry{}, err
	}
	defer f.Close()

	h := md5.New() // nolint: gosec
	if _, err = io.Copy(h, f); err != nil {
		return FileEntry{}, errors.Wrapf(err, "Cannot hash %s", path)
	}
	return FileEntry{MD5: hex.EncodeToString(h.Sum(nil)), Name: name}, nil
}
