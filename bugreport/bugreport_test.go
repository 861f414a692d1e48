package bugreport

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	requests []uploader.Request
}

func (f *fakeRouter) Enqueue(ctx context.Context, req uploader.Request) *uploader.Completion {
	f.requests = append(f.requests, req)
	return uploader.Completed(nil)
}

func newTestUploader(t *testing.T) (*Uploader, *fakeRouter) {
	router := &fakeRouter{}
	return &Uploader{
		StagingDir: t.TempDir(),
		Router:     router,
		Devices:    deviceinfo.Static{DeviceSerial: "SN1"},
		Times: payload.TimeProviderFunc(func() payload.CombinedTime {
			return payload.CombinedTime{Timestamp: time.Unix(1620967982, 0)}
		}),
	}, router
}

func TestUpload(t *testing.T) {
	u, router := newTestUploader(t)
	report := filepath.Join(t.TempDir(), "bugreport.zip")
	require.NoError(t, ioutil.WriteFile(report, []byte("hello"), 0600))

	completion, err := u.Upload(context.Background(), report, "req-1")
	require.NoError(t, err)
	assert.NoError(t, completion.Wait(context.Background()))

	require.Len(t, router.requests, 1)
	req := router.requests[0]
	assert.Equal(t, DebugTag, req.DebugTag)
	assert.Equal(t, u.StagingDir, filepath.Dir(req.File))
	md := req.Metadata.(payload.BugReportMetadata)
	assert.Equal(t, "req-1", md.RequestID)
	assert.Equal(t, payload.FileEntry{MD5: "5d41402abc4b2a76b9719d911017c592", Name: "bugreport.zip"}, md.Attachment)
	assert.Equal(t, "SN1", md.DeviceSerial)

	// The operator's file is untouched
	_, err = os.Stat(report)
	assert.NoError(t, err)
}

func TestUploadGeneratesRequestID(t *testing.T) {
	u, router := newTestUploader(t)
	report := filepath.Join(t.TempDir(), "bugreport.zip")
	require.NoError(t, ioutil.WriteFile(report, []byte("x"), 0600))

	_, err := u.Upload(context.Background(), report, "")
	require.NoError(t, err)
	assert.NotEmpty(t, router.requests[0].Metadata.(payload.BugReportMetadata).RequestID)
}

func TestUploadMissingFile(t *testing.T) {
	u, router := newTestUploader(t)
	_, err := u.Upload(context.Background(), filepath.Join(t.TempDir(), "nope"), "")
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, router.requests)
}
