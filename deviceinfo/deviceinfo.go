// Package deviceinfo supplies the identity fields attached to every upload.
package deviceinfo

import (
	"context"
	"io/ioutil"
	"strings"
	"time"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/payload"
	"github.com/karlseguin/ccache/v2"
	"github.com/pkg/errors"
)

const (
	infoKey    = "info"
	defaultTTL = 15 * time.Minute
)

// Info is a snapshot of the device identity
type Info struct {
	DeviceID        string
	DeviceSerial    string
	HardwareVersion string
	SoftwareVersion string
}

func (i Info) Identity() payload.Identity {
	return payload.Identity{
		HardwareVersion: i.HardwareVersion,
		DeviceSerial:    i.DeviceSerial,
		SoftwareVersion: i.SoftwareVersion,
	}
}

// Provider is a read only source of device identity
type Provider interface {
	DeviceInfo(ctx context.Context) (Info, error)
}

// Config describes where identity fields come from. Fields ending in File are read on every
// cache refresh, so they can change underneath a running process (after an OTA, for example).
type Config struct {
	DeviceSerial        string
	HardwareVersion     string
	SoftwareVersion     string
	SoftwareVersionFile string
	DeviceIDPath        string
	TTL                 time.Duration
}

type cachingProvider struct {
	config   Config
	deviceID *DeviceIDFile
	cache    *ccache.Cache
}

// New returns a Provider that caches the assembled Info for config.TTL
func New(config Config) (Provider, error) {
	if config.DeviceIDPath == "" {
		return nil, errors.New("device id path must be set")
	}
	deviceID, err := LoadOrCreateDeviceID(config.DeviceIDPath)
	if err != nil {
		return nil, err
	}
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	return &cachingProvider{
		config:   config,
		deviceID: deviceID,
		cache:    ccache.New(ccache.Configure().MaxSize(16)),
	}, nil
}

func (p *cachingProvider) DeviceInfo(ctx context.Context) (Info, error) {
	item, err := p.cache.Fetch(infoKey, p.config.TTL, func() (interface{}, error) {
		return p.load(ctx)
	})
	if err != nil {
		return Info{}, err
	}
	return item.Value().(Info), nil
}

func (p *cachingProvider) load(ctx context.Context) (Info, error) {
	info := Info{
		DeviceID:        p.deviceID.DeviceID(),
		DeviceSerial:    p.config.DeviceSerial,
		HardwareVersion: p.config.HardwareVersion,
		SoftwareVersion: p.config.SoftwareVersion,
	}
	if p.config.SoftwareVersionFile != "" {
		data, err := ioutil.ReadFile(p.config.SoftwareVersionFile)
		if err != nil {
			return Info{}, errors.Wrapf(err, "Cannot read software version from %s", p.config.SoftwareVersionFile)
		}
		info.SoftwareVersion = strings.TrimSpace(string(data))
	}
	if info.DeviceSerial == "" {
		info.DeviceSerial = info.DeviceID
	}
	logger.G(ctx).WithField("serial", info.DeviceSerial).WithField("softwareVersion", info.SoftwareVersion).Debug("Loaded device info")
	return info, nil
}

// Static is a Provider that always returns the same Info
type Static Info

func (s Static) DeviceInfo(context.Context) (Info, error) {
	return Info(s), nil
}
