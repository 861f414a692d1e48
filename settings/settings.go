// Package settings holds the remotely managed switches that steer collection and delivery.
package settings

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

// ClientServerMode is the role of this device in a linked pair
type ClientServerMode string

const (
	ClientServerDisabled ClientServerMode = "disabled"
	// ClientServerClient devices have no route to the backend and forward everything to their server
	ClientServerClient ClientServerMode = "client"
	// ClientServerServer devices upload on behalf of their clients
	ClientServerServer ClientServerMode = "server"
)

func (m ClientServerMode) Valid() bool {
	switch m {
	case ClientServerDisabled, ClientServerClient, ClientServerServer:
		return true
	}
	return false
}

// Settings is an immutable snapshot, replaced wholesale on every update
type Settings struct {
	DataSourceEnabled bool             `json:"data_source_enabled"`
	UseMarUpload      bool             `json:"use_mar_upload"`
	ClientServerMode  ClientServerMode `json:"client_server_mode"`
	// StagingMaxBytes and StagingMaxAgeSeconds bound the upload staging directory
	StagingMaxBytes      int64 `json:"staging_max_bytes"`
	StagingMaxAgeSeconds int64 `json:"staging_max_age_sec"`
}

func (s Settings) StagingMaxAge() time.Duration {
	return time.Duration(s.StagingMaxAgeSeconds) * time.Second
}

// Validate rejects settings the rest of the pipeline cannot act on
func (s Settings) Validate() error {
	if !s.ClientServerMode.Valid() {
		return errors.Errorf("Invalid client server mode %q", s.ClientServerMode)
	}
	if s.StagingMaxBytes < 0 {
		return errors.New("Staging max bytes cannot be negative")
	}
	return nil
}

// Provider hands out the current settings
type Provider interface {
	Get() Settings
}

// Store is the process wide settings holder, persisted so a restart keeps the last fetched values
type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
}

var _ Provider = (*Store)(nil)

// NewStore loads the settings persisted at path, falling back to defaults. An empty path keeps
// the settings in memory only.
func NewStore(path string, defaults Settings) (*Store, error) {
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	s := &Store{path: path, current: defaults}
	if path == "" {
		return s, nil
	}
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "Cannot read settings from %s", path)
	}
	var persisted Settings
	if err = json.Unmarshal(data, &persisted); err != nil {
		return nil, errors.Wrapf(err, "Cannot decode settings from %s", path)
	}
	if err = persisted.Validate(); err != nil {
		return nil, err
	}
	s.current = persisted
	return s, nil
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Apply replaces the current settings. It reports whether anything changed.
func (s *Store) Apply(next Settings) (bool, error) {
	if err := next.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if next == s.current {
		return false, nil
	}
	if s.path != "" {
		data, err := json.Marshal(next)
		if err != nil {
			return false, err
		}
		if err = os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
			return false, errors.Wrap(err, "Cannot create settings directory")
		}
		if err = renameio.WriteFile(s.path, data, 0600); err != nil {
			return false, errors.Wrapf(err, "Cannot persist settings to %s", s.path)
		}
	}
	s.current = next
	return true, nil
}

// Static is a fixed Provider
type Static Settings

func (s Static) Get() Settings {
	return Settings(s)
}
