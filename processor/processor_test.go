package processor

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/logservice"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/uploader"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouter struct {
	requests []uploader.Request
	err      error
	pending  bool
}

func (f *fakeRouter) Enqueue(ctx context.Context, req uploader.Request) *uploader.Completion {
	f.requests = append(f.requests, req)
	if f.pending {
		return uploader.NewPreparedUploader(ctx, blockingBackend{}, metrics.Discard, uploader.PreparedUploaderConfig{}).Upload(ctx, req)
	}
	return uploader.Completed(f.err)
}

type blockingBackend struct{}

func (blockingBackend) Upload(ctx context.Context, local, remote string, envelope []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

type staticTagProcessor []string

func (s staticTagProcessor) Tags() []string {
	return s
}

func (staticTagProcessor) Process(context.Context, logservice.Entry) Result {
	return Result{Outcome: Skipped}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(staticTagProcessor{"b", "c"}, staticTagProcessor{"a"})
	assert.Equal(t, []string{"a", "b", "c"}, r.Tags())
	assert.Equal(t, 3, r.Len())

	_, ok := r.Lookup("a")
	assert.True(t, ok)
	_, ok = r.Lookup("nope")
	assert.False(t, ok)

	// Tags cannot be changed through the returned slice
	r.Tags()[0] = "z"
	assert.Equal(t, "a", r.Tags()[0])
}

func TestRegistryRejectsDuplicateTags(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry(staticTagProcessor{"a"}, staticTagProcessor{"a"})
	})
}

func TestSupportedKindsDoNotOverlap(t *testing.T) {
	r := NewRegistry(NewUploadingProcessors("", nil, nil, nil)...)
	assert.Equal(t, 11, r.Len())
	p, ok := r.Lookup("system_server_anr")
	require.True(t, ok)
	assert.Equal(t, ANR.Tags, p.Tags())
}

var (
	testDevices = deviceinfo.Static{DeviceSerial: "SN1", HardwareVersion: "evt", SoftwareVersion: "1.0"}
	testTime    = payload.CombinedTime{Timestamp: time.Unix(100, 0), UptimeMs: 50}
	testTimes   = payload.TimeProviderFunc(func() payload.CombinedTime { return testTime })
)

func stagingDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "staging")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

func inlineEntry(tag string, timeMillis int64, data string) logservice.Entry {
	return logservice.NewEntry(&logservice.WireEntry{Tag: tag, TimeMillis: timeMillis, Data: []byte(data)})
}

func TestUploadingProcessorEnqueuesEntry(t *testing.T) {
	dir := stagingDir(t)
	router := &fakeRouter{}
	p := NewUploadingProcessor(ANR, dir, router, testDevices, testTimes)

	res := p.Process(context.Background(), inlineEntry("data_app_anr", 1234, "ANR in com.example"))
	require.Equal(t, Uploaded, res.Outcome, "%v", res.Err)
	require.Len(t, router.requests, 1)

	req := router.requests[0]
	assert.Equal(t, "UPLOAD_ANR", req.DebugTag)
	assert.Equal(t, testTime, req.CollectionTime)
	data, err := ioutil.ReadFile(req.File)
	require.NoError(t, err)
	assert.Equal(t, "ANR in com.example", string(data))
	assert.Equal(t, dir, filepath.Dir(req.File))

	m := req.Metadata.(payload.DropBoxEntryMetadata)
	assert.Equal(t, payload.KindANR, m.Kind)
	assert.Equal(t, "data_app_anr", m.Tag)
	assert.Equal(t, int64(1234), m.EntryTimeMs)
	assert.Equal(t, "SN1", m.DeviceSerial)
	assert.Nil(t, m.FileTimeMs)
}

func TestUploadingProcessorSetsFileTime(t *testing.T) {
	dir := stagingDir(t)
	src := filepath.Join(dir, "SYSTEM_TOMBSTONE@5.txt")
	require.NoError(t, ioutil.WriteFile(src, []byte("backtrace"), 0600))
	mtime := time.Unix(1620000000, 0)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	router := &fakeRouter{}
	p := NewUploadingProcessor(Tombstone, dir, router, testDevices, testTimes)
	res := p.Process(context.Background(), logservice.NewEntry(&logservice.WireEntry{Tag: "SYSTEM_TOMBSTONE", TimeMillis: 5, Path: src}))
	require.Equal(t, Uploaded, res.Outcome)

	m := router.requests[0].Metadata.(payload.DropBoxEntryMetadata)
	require.NotNil(t, m.FileTimeMs)
	assert.Equal(t, int64(1620000000000), *m.FileTimeMs)
}

func TestUploadingProcessorSkipsEmptyPayload(t *testing.T) {
	dir := stagingDir(t)
	router := &fakeRouter{}
	p := NewUploadingProcessor(Kmsg, dir, router, testDevices, testTimes)

	res := p.Process(context.Background(), inlineEntry("SYSTEM_LAST_KMSG", 1, ""))
	assert.Equal(t, Skipped, res.Outcome)
	assert.Empty(t, router.requests)
	files, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUploadingProcessorReportsRouterFailure(t *testing.T) {
	router := &fakeRouter{err: errors.New("holding area full")}
	p := NewUploadingProcessor(JavaException, stagingDir(t), router, testDevices, testTimes)

	res := p.Process(context.Background(), inlineEntry("system_server_crash", 1, "java.lang.NullPointerException"))
	assert.Equal(t, Failed, res.Outcome)
	assert.EqualError(t, errors.Cause(res.Err), "holding area full")
}

func TestUploadingProcessorDoesNotWaitForDirectUploads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	router := &fakeRouter{pending: true}
	p := NewUploadingProcessor(ANR, stagingDir(t), router, testDevices, testTimes)

	res := p.Process(ctx, inlineEntry("data_app_anr", 1, "ANR"))
	assert.Equal(t, Uploaded, res.Outcome)
}

func TestUploadingProcessorStagingFailure(t *testing.T) {
	router := &fakeRouter{}
	p := NewUploadingProcessor(ANR, "/nonexistent/staging", router, testDevices, testTimes)

	res := p.Process(context.Background(), inlineEntry("data_app_anr", 1, "ANR"))
	assert.Equal(t, Failed, res.Outcome)
	assert.Error(t, res.Err)
	assert.Empty(t, router.requests)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "uploaded", Uploaded.String())
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "failed", Failed.String())
}
