package settings

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/tokenbucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = Settings{
	DataSourceEnabled: true,
	ClientServerMode:  ClientServerDisabled,
}

func TestStorePersistsAppliedSettings(t *testing.T) {
	dir, err := ioutil.TempDir("", "settings")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "state", "settings.json")
	s, err := NewStore(path, defaults)
	require.NoError(t, err)
	assert.Equal(t, defaults, s.Get())

	next := defaults
	next.UseMarUpload = true
	changed, err := s.Apply(next)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Apply(next)
	require.NoError(t, err)
	assert.False(t, changed)

	reloaded, err := NewStore(path, defaults)
	require.NoError(t, err)
	assert.True(t, reloaded.Get().UseMarUpload)
}

func TestStoreRejectsInvalidSettings(t *testing.T) {
	s, err := NewStore("", defaults)
	require.NoError(t, err)
	_, err = s.Apply(Settings{ClientServerMode: "sideways"})
	assert.Error(t, err)
	assert.Equal(t, defaults, s.Get())

	_, err = NewStore("", Settings{})
	assert.Error(t, err)
}

func newTask(t *testing.T, endpoint string, capacity int) *UpdateTask {
	store, err := NewStore("", defaults)
	require.NoError(t, err)
	return &UpdateTask{
		Endpoint: endpoint,
		Buckets:  tokenbucket.New(tokenbucket.Config{Capacity: capacity, RefillPeriod: time.Hour}),
		Devices: deviceinfo.Static{
			DeviceSerial:    "SN1",
			HardwareVersion: "evt",
			SoftwareVersion: "1.2.3",
		},
		Store: store,
	}
}

func TestUpdateTaskAppliesFetchedSettings(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "SN1", r.URL.Query().Get("device_serial"))
		assert.Equal(t, "1.2.3", r.URL.Query().Get("software_version"))
		assert.Equal(t, "evt", r.URL.Query().Get("hardware_version"))
		fmt.Fprint(w, `{"data": {"use_mar_upload": true, "client_server_mode": "client"}}`)
	}))
	defer srv.Close()

	task := newTask(t, srv.URL+"/settings", 1)
	assert.Equal(t, runner.Success, task.RunOnce(context.Background()))

	got := task.Store.Get()
	assert.True(t, got.UseMarUpload)
	assert.Equal(t, ClientServerClient, got.ClientServerMode)
	// Not in the response, so unchanged
	assert.True(t, got.DataSourceEnabled)

	// The bucket is empty now, the second run is rate limited but still succeeds
	assert.Equal(t, runner.Success, task.RunOnce(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestUpdateTaskToleratesEndpointFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		case "/garbage":
			fmt.Fprint(w, `{"data": `)
		case "/invalid":
			fmt.Fprint(w, `{"data": {"client_server_mode": "sideways"}}`)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/broken", "/garbage", "/invalid"} {
		t.Run(path, func(t *testing.T) {
			task := newTask(t, srv.URL+path, 1)
			assert.Equal(t, runner.Success, task.RunOnce(context.Background()))
			assert.Equal(t, defaults, task.Store.Get())
		})
	}
}
