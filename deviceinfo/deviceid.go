package deviceinfo

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DeviceIDFile is a random device id, created on first use and persisted for the life of the install
type DeviceIDFile struct {
	id string
}

// LoadOrCreateDeviceID reads the device id stored at path, or generates and stores a new one
func LoadOrCreateDeviceID(path string) (*DeviceIDFile, error) {
	data, err := ioutil.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr == nil {
			return &DeviceIDFile{id: id}, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "Cannot read device id from %s", path)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "Cannot create device id directory")
	}
	id := uuid.New().String()
	if err = renameio.WriteFile(path, []byte(id), 0600); err != nil {
		return nil, errors.Wrapf(err, "Cannot persist device id to %s", path)
	}
	return &DeviceIDFile{id: id}, nil
}

func (d *DeviceIDFile) DeviceID() string {
	return d.id
}
