package admin

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/mar"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/devdiag/uploader"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	result  runner.Result
	runs    int
	block   chan struct{}
	started chan struct{}
}

func (f *fakeTask) Name() string {
	return "fake"
}

func (f *fakeTask) RunOnce(ctx context.Context) runner.Result {
	f.runs++
	if f.block != nil {
		close(f.started)
		<-f.block
	}
	return f.result
}

type fakeHoldingArea struct {
	pending  int
	flushErr error
	flushes  int
}

func (f *fakeHoldingArea) Pending() int {
	return f.pending
}

func (f *fakeHoldingArea) Flush(context.Context) error {
	f.flushes++
	return f.flushErr
}

func do(srv http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	srv := NewServer(context.Background(), metrics.Discard, settings.Static{}, nil)
	rec := do(srv, "GET", "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestGetSettings(t *testing.T) {
	srv := NewServer(context.Background(), metrics.Discard, settings.Static{DataSourceEnabled: true, StagingMaxBytes: 10}, nil)
	rec := do(srv, "GET", "/api/v1/settings")
	require.Equal(t, http.StatusOK, rec.Code)
	var s settings.Settings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.True(t, s.DataSourceEnabled)
	assert.Equal(t, int64(10), s.StagingMaxBytes)
}

func TestHolding(t *testing.T) {
	h := &fakeHoldingArea{pending: 3}
	srv := NewServer(context.Background(), metrics.Discard, settings.Static{}, h)

	rec := do(srv, "GET", "/api/v1/holding")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"pending":3}`, rec.Body.String())

	assert.Equal(t, http.StatusAccepted, do(srv, "POST", "/api/v1/holding/flush").Code)
	h.flushErr = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, do(srv, "POST", "/api/v1/holding/flush").Code)
	assert.Equal(t, 2, h.flushes)

	// Wrong method
	assert.Equal(t, http.StatusMethodNotAllowed, do(srv, "GET", "/api/v1/holding/flush").Code)
}

func TestHoldingNotConfigured(t *testing.T) {
	srv := NewServer(context.Background(), metrics.Discard, settings.Static{}, nil)
	assert.Equal(t, http.StatusNotFound, do(srv, "GET", "/api/v1/holding").Code)
	assert.Equal(t, http.StatusNotFound, do(srv, "POST", "/api/v1/holding/flush").Code)
}

func TestRunTask(t *testing.T) {
	task := &fakeTask{result: runner.Success}
	srv := NewServer(context.Background(), metrics.Discard, settings.Static{}, nil, task)

	rec := do(srv, "POST", "/api/v1/tasks/fake/run")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"task":"fake","result":"SUCCESS"}`, rec.Body.String())

	task.result = runner.Failure
	assert.Equal(t, http.StatusInternalServerError, do(srv, "POST", "/api/v1/tasks/fake/run").Code)
	assert.Equal(t, 2, task.runs)

	assert.Equal(t, http.StatusNotFound, do(srv, "POST", "/api/v1/tasks/other/run").Code)
}

func TestRunTaskConflict(t *testing.T) {
	task := &fakeTask{result: runner.Success, block: make(chan struct{}), started: make(chan struct{})}
	srv := NewServer(context.Background(), metrics.Discard, settings.Static{}, nil, task)

	done := make(chan int)
	go func() {
		done <- do(srv, "POST", "/api/v1/tasks/fake/run").Code
	}()
	<-task.started
	assert.Equal(t, http.StatusConflict, do(srv, "POST", "/api/v1/tasks/fake/run").Code)
	close(task.block)
	assert.Equal(t, http.StatusOK, <-done)
}

type slowBackend struct {
	results chan error
}

func (b *slowBackend) Upload(ctx context.Context, local, remote string, envelope []byte) error {
	var err error
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		err = ctx.Err()
	}
	b.results <- err
	return err
}

func TestFlushOverHTTPUploadsSealedBatch(t *testing.T) {
	dir := t.TempDir()
	backend := &slowBackend{results: make(chan error, 1)}
	prepared := uploader.NewPreparedUploader(context.Background(), backend, metrics.Discard, uploader.PreparedUploaderConfig{MaxAttempts: 1})
	h, err := mar.NewHoldingArea(mar.HoldingAreaConfig{
		Dir:      filepath.Join(dir, "holding"),
		BatchDir: filepath.Join(dir, "batches"),
	}, prepared, deviceinfo.Static{DeviceSerial: "SN1"}, payload.SystemTimeProvider{}, metrics.Discard)
	require.NoError(t, err)

	w, err := mar.NewWriter(filepath.Join(dir, "new"))
	require.NoError(t, err)
	staged := filepath.Join(dir, "trace.txt")
	require.NoError(t, ioutil.WriteFile(staged, []byte("ANR in com.example"), 0600))
	marFile, err := w.CreateForFile(context.Background(), uploader.Request{
		File:     staged,
		Metadata: payload.DropBoxEntryMetadata{Kind: payload.KindANR, Tag: "data_app_anr"},
		DebugTag: "UPLOAD_ANR",
	})
	require.NoError(t, err)
	require.NoError(t, h.AddMarFile(context.Background(), marFile))

	ts := httptest.NewServer(NewServer(context.Background(), metrics.Discard, settings.Static{}, h))
	defer ts.Close()
	resp, err := http.Post(ts.URL+"/api/v1/holding/flush", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.NoError(t, <-backend.results)
	prepared.Wait()
	batches, err := h.SealedBatches()
	require.NoError(t, err)
	assert.Empty(t, batches)
}

type contextTask struct {
	ctxs chan context.Context
}

func (c *contextTask) Name() string {
	return "ctx"
}

func (c *contextTask) RunOnce(ctx context.Context) runner.Result {
	c.ctxs <- ctx
	return runner.Success
}

func TestRunTaskOverHTTPOutlivesRequest(t *testing.T) {
	task := &contextTask{ctxs: make(chan context.Context, 1)}
	ts := httptest.NewServer(NewServer(context.Background(), metrics.Discard, settings.Static{}, nil, task))
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/tasks/ctx/run", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.NoError(t, (<-task.ctxs).Err())
}
