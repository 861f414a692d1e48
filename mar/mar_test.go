package mar

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/uploader"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu       sync.Mutex
	requests []uploader.Request
}

func (r *recordingUploader) Upload(ctx context.Context, req uploader.Request) *uploader.Completion {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return uploader.Completed(nil)
}

func (r *recordingUploader) Requests() []uploader.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uploader.Request(nil), r.requests...)
}

var (
	testDevices = deviceinfo.Static{DeviceSerial: "SN1", HardwareVersion: "evt", SoftwareVersion: "1.0"}
	testTimes   = payload.TimeProviderFunc(func() payload.CombinedTime {
		return payload.CombinedTime{Timestamp: time.Unix(100, 0), UptimeMs: 1}
	})
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "mar")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return dir
}

func writeMarFor(t *testing.T, w *Writer, dir, name string) string {
	staged := filepath.Join(dir, name)
	require.NoError(t, ioutil.WriteFile(staged, []byte("contents of "+name), 0600))
	marFile, err := w.CreateForFile(context.Background(), uploader.Request{
		File:     staged,
		Metadata: payload.DropBoxEntryMetadata{Kind: payload.KindKmsg, Tag: "SYSTEM_LAST_KMSG"},
		DebugTag: "UPLOAD_KMSG",
	})
	require.NoError(t, err)
	return marFile
}

func tarMembers(t *testing.T, path string) []string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
}

func TestWriterCreateForFile(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)

	staged := filepath.Join(dir, "last_kmsg")
	require.NoError(t, ioutil.WriteFile(staged, []byte("kernel panic"), 0600))
	marFile, err := w.CreateForFile(context.Background(), uploader.Request{
		File:     staged,
		Metadata: payload.DropBoxEntryMetadata{Kind: payload.KindKmsg, Tag: "SYSTEM_LAST_KMSG"},
		DebugTag: "UPLOAD_KMSG",
	})
	require.NoError(t, err)
	assert.Equal(t, Extension, filepath.Ext(marFile))

	_, err = os.Stat(staged)
	assert.True(t, os.IsNotExist(err), "staged file is consumed")

	m, err := ReadManifest(marFile)
	require.NoError(t, err)
	assert.Equal(t, "dropbox_kmsg", m.Type)
	assert.Equal(t, "UPLOAD_KMSG", m.DebugTag)
	assert.Equal(t, "last_kmsg", m.Attachment)
	decoded, err := payload.Unmarshal(m.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "SYSTEM_LAST_KMSG", decoded.(payload.DropBoxEntryMetadata).Tag)
}

func newHoldingArea(t *testing.T, dir string, config HoldingAreaConfig) (*HoldingArea, *recordingUploader) {
	config.Dir = filepath.Join(dir, "holding")
	config.BatchDir = filepath.Join(dir, "batches")
	rec := &recordingUploader{}
	h, err := NewHoldingArea(config, rec, testDevices, testTimes, metrics.Discard)
	require.NoError(t, err)
	return h, rec
}

func TestHoldingAreaSealsOnCount(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, rec := newHoldingArea(t, dir, HoldingAreaConfig{MaxCount: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, h.AddMarFile(ctx, writeMarFor(t, w, dir, fmt.Sprintf("f%d", i))))
	}
	assert.Empty(t, rec.Requests())
	assert.Equal(t, 2, h.Pending())

	require.NoError(t, h.AddMarFile(ctx, writeMarFor(t, w, dir, "f2")))
	requests := rec.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, BatchDebugTag, requests[0].DebugTag)
	batch := requests[0].Metadata.(payload.MarBatchMetadata)
	assert.Len(t, batch.Members, 3)
	assert.Equal(t, "SN1", batch.DeviceSerial)
	assert.ElementsMatch(t, batch.Members, tarMembers(t, requests[0].File))
	assert.Zero(t, h.Pending())

	leftovers, err := ioutil.ReadDir(filepath.Join(dir, "holding"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestHoldingAreaSealsOnBytes(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, rec := newHoldingArea(t, dir, HoldingAreaConfig{MaxBytes: 1})

	require.NoError(t, h.AddMarFile(context.Background(), writeMarFor(t, w, dir, "f")))
	assert.Len(t, rec.Requests(), 1)
}

func TestHoldingAreaSealsOnAge(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, rec := newHoldingArea(t, dir, HoldingAreaConfig{MaxAge: time.Hour})
	now := time.Unix(1000, 0)
	h.now = func() time.Time { return now }

	require.NoError(t, h.AddMarFile(context.Background(), writeMarFor(t, w, dir, "f")))
	require.NoError(t, h.Check(context.Background()))
	assert.Empty(t, rec.Requests())

	now = now.Add(time.Hour)
	require.NoError(t, h.Check(context.Background()))
	assert.Len(t, rec.Requests(), 1)
}

func TestHoldingAreaFlush(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, rec := newHoldingArea(t, dir, HoldingAreaConfig{})

	require.NoError(t, h.Flush(context.Background()))
	assert.Empty(t, rec.Requests())

	require.NoError(t, h.AddMarFile(context.Background(), writeMarFor(t, w, dir, "f")))
	assert.Empty(t, rec.Requests())
	require.NoError(t, h.Flush(context.Background()))
	assert.Len(t, rec.Requests(), 1)

	batches, err := h.SealedBatches()
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestHoldingAreaPicksUpLeftovers(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, _ := newHoldingArea(t, dir, HoldingAreaConfig{MaxCount: 10})
	require.NoError(t, h.AddMarFile(context.Background(), writeMarFor(t, w, dir, "f")))

	restarted, _ := newHoldingArea(t, dir, HoldingAreaConfig{MaxCount: 10})
	assert.Equal(t, 1, restarted.Pending())
}

func TestHoldingAreaResubmitsSealedBatches(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, _ := newHoldingArea(t, dir, HoldingAreaConfig{MaxCount: 1})
	require.NoError(t, h.AddMarFile(context.Background(), writeMarFor(t, w, dir, "f")))

	restarted, rec := newHoldingArea(t, dir, HoldingAreaConfig{MaxCount: 1})
	completions, err := restarted.ResubmitSealed(context.Background())
	require.NoError(t, err)
	assert.Len(t, completions, 1)
	assert.Len(t, rec.Requests(), 1)
}

func TestHoldingAreaConcurrentAddsAreNotLost(t *testing.T) {
	dir := tempDir(t)
	w, err := NewWriter(filepath.Join(dir, "mar"))
	require.NoError(t, err)
	h, rec := newHoldingArea(t, dir, HoldingAreaConfig{MaxCount: 10})

	var marFiles []string
	for i := 0; i < 50; i++ {
		marFiles = append(marFiles, writeMarFor(t, w, dir, fmt.Sprintf("f%02d", i)))
	}

	var wg sync.WaitGroup
	for _, f := range marFiles {
		wg.Add(1)
		go func(f string) {
			defer wg.Done()
			assert.NoError(t, h.AddMarFile(context.Background(), f))
		}(f)
	}
	wg.Wait()

	var sealed []string
	for _, req := range rec.Requests() {
		sealed = append(sealed, tarMembers(t, req.File)...)
	}
	var want []string
	for _, f := range marFiles {
		want = append(want, filepath.Base(f))
	}
	sort.Strings(sealed)
	sort.Strings(want)
	assert.Len(t, rec.Requests(), 5)
	assert.Equal(t, want, sealed)
}
