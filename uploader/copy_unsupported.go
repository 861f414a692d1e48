// +build !linux

package uploader

import (
	"os"
)

func newDestinationFile(filename string, mode os.FileMode) (destinationFile, error) {
	return newRenameDestinationFile(filename, mode)
}
