package settings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/tokenbucket"
	"github.com/pkg/errors"
)

// TokenBucketTag is the bucket every settings refresh takes from
const TokenBucketTag = "settings"

// UpdateTask periodically refreshes the Store from the settings endpoint
type UpdateTask struct {
	Endpoint string
	Client   *http.Client
	Buckets  *tokenbucket.Store
	Devices  deviceinfo.Provider
	Store    *Store
}

var _ runner.Task = (*UpdateTask)(nil)

func (t *UpdateTask) Name() string {
	return "settings-update"
}

type response struct {
	Data Settings `json:"data"`
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return "settings endpoint returned " + http.StatusText(e.code)
}

func (t *UpdateTask) RunOnce(ctx context.Context) runner.Result {
	if !t.Buckets.TryTake(TokenBucketTag) {
		logger.G(ctx).Debug("Settings refresh rate limited")
		return runner.Success
	}

	info, err := t.Devices.DeviceInfo(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Error("Cannot get device info")
		return runner.Failure
	}

	next, err := t.fetch(ctx, info)
	if err != nil {
		// The endpoint being unhappy is not something another attempt right now would fix
		logger.G(ctx).WithError(err).Warn("Failed to fetch settings from remote endpoint")
		return runner.Success
	}

	changed, err := t.Store.Apply(next)
	if err != nil {
		logger.G(ctx).WithError(err).Error("Cannot apply fetched settings")
		return runner.Failure
	}
	logger.G(ctx).WithField("changed", changed).Info("Settings refreshed")
	return runner.Success
}

func (t *UpdateTask) fetch(ctx context.Context, info deviceinfo.Info) (Settings, error) {
	u, err := url.Parse(t.Endpoint)
	if err != nil {
		return Settings{}, errors.Wrap(err, "Invalid settings endpoint")
	}
	q := u.Query()
	q.Set("device_serial", info.DeviceSerial)
	q.Set("software_version", info.SoftwareVersion)
	q.Set("hardware_version", info.HardwareVersion)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Settings{}, err
	}
	req.Header.Set("Accept", "application/json")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Settings{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return Settings{}, &httpStatusError{code: resp.StatusCode}
	}

	// Fields the endpoint leaves out keep their current values
	r := response{Data: t.Store.Get()}
	if err = json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return Settings{}, errors.Wrap(err, "Cannot decode settings")
	}
	if err = r.Data.Validate(); err != nil {
		return Settings{}, err
	}
	return r.Data, nil
}
