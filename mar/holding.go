package mar

import (
	"archive/tar"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/uploader"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const (
	// BatchDebugTag is the debug tag sealed batches are uploaded under
	BatchDebugTag  = "UPLOAD_MAR_BATCH"
	batchExtension = ".tar"
)

// HoldingAreaConfig holds the thresholds at which the current batch is sealed. A zero threshold
// is never reached.
type HoldingAreaConfig struct {
	// Dir holds the MAR files of the current batch
	Dir string
	// BatchDir receives sealed batches until they are uploaded
	BatchDir string
	MaxCount int
	MaxBytes int64
	MaxAge   time.Duration
}

// BatchUploader uploads sealed batches
type BatchUploader interface {
	Upload(ctx context.Context, req uploader.Request) *uploader.Completion
}

type member struct {
	path  string
	size  int64
	added time.Time
}

// HoldingArea accumulates MAR files into batches. Adding a file and sealing the batch it
// completes happen under the same lock, so no file is lost or counted twice across a seal.
type HoldingArea struct {
	config   HoldingAreaConfig
	uploader BatchUploader
	devices  deviceinfo.Provider
	times    payload.TimeProvider
	m        metrics.Reporter
	now      func() time.Time

	mu         sync.Mutex
	members    []member
	totalBytes int64
}

var _ uploader.HoldingArea = (*HoldingArea)(nil)

// NewHoldingArea creates the holding area, picking up MAR files left behind by a previous process
// as the start of the current batch
func NewHoldingArea(config HoldingAreaConfig, batchUploader BatchUploader, devices deviceinfo.Provider, times payload.TimeProvider, m metrics.Reporter) (*HoldingArea, error) {
	for _, dir := range []string{config.Dir, config.BatchDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrapf(err, "Cannot create holding area directory %s", dir)
		}
	}
	h := &HoldingArea{
		config:   config,
		uploader: batchUploader,
		devices:  devices,
		times:    times,
		m:        m,
		now:      time.Now,
	}

	files, err := ioutil.ReadDir(config.Dir)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime().Before(files[j].ModTime())
	})
	for _, fi := range files {
		if !fi.Mode().IsRegular() || !strings.HasSuffix(fi.Name(), Extension) {
			continue
		}
		h.members = append(h.members, member{path: filepath.Join(config.Dir, fi.Name()), size: fi.Size(), added: fi.ModTime()})
		h.totalBytes += fi.Size()
	}
	return h, nil
}

// AddMarFile moves file into the holding area. The batch is sealed and submitted for upload if
// the file completes it.
func (h *HoldingArea) AddMarFile(ctx context.Context, file string) error {
	fi, err := os.Stat(file)
	if err != nil {
		return errors.Wrapf(err, "Cannot stat MAR file %s", file)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dest := filepath.Join(h.config.Dir, filepath.Base(file))
	if err = os.Rename(file, dest); err != nil {
		return errors.Wrapf(err, "Cannot move %s into holding area", file)
	}
	h.members = append(h.members, member{path: dest, size: fi.Size(), added: h.now()})
	h.totalBytes += fi.Size()
	h.m.Gauge("devdiag.mar.pending", len(h.members), nil)

	if h.thresholdReachedLocked() {
		return h.sealLocked(ctx)
	}
	return nil
}

// Check seals the current batch if it has been held for longer than MaxAge
func (h *HoldingArea) Check(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.thresholdReachedLocked() {
		return h.sealLocked(ctx)
	}
	return nil
}

// Flush seals whatever is pending, regardless of thresholds
func (h *HoldingArea) Flush(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.members) == 0 {
		return nil
	}
	return h.sealLocked(ctx)
}

// Pending is the number of MAR files in the current batch
func (h *HoldingArea) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

func (h *HoldingArea) thresholdReachedLocked() bool {
	if len(h.members) == 0 {
		return false
	}
	if h.config.MaxCount > 0 && len(h.members) >= h.config.MaxCount {
		return true
	}
	if h.config.MaxBytes > 0 && h.totalBytes >= h.config.MaxBytes {
		return true
	}
	if h.config.MaxAge > 0 && h.now().Sub(h.members[0].added) >= h.config.MaxAge {
		return true
	}
	return false
}

func (h *HoldingArea) sealLocked(ctx context.Context) error {
	batchFile := filepath.Join(h.config.BatchDir, "batch-"+uuid.New().String()+batchExtension)
	names := make([]string, len(h.members))
	for idx, mem := range h.members {
		names[idx] = filepath.Base(mem.path)
	}

	if err := h.writeBatch(batchFile); err != nil {
		// The members stay put, the next add or check tries again
		return errors.Wrap(err, "Cannot seal MAR batch")
	}

	var result *multierror.Error
	for _, mem := range h.members {
		if err := os.Remove(mem.path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}
	sealed := int64(len(h.members))
	totalBytes := h.totalBytes
	h.members = nil
	h.totalBytes = 0
	h.m.Counter("devdiag.mar.batches", 1, nil)
	h.m.Gauge("devdiag.mar.pending", 0, nil)

	var identity payload.Identity
	if info, err := h.devices.DeviceInfo(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("Cannot get device info for MAR batch")
	} else {
		identity = info.Identity()
	}
	now := h.times.Now()
	req := uploader.Request{
		File: batchFile,
		Metadata: payload.MarBatchMetadata{
			Identity:   identity,
			SealTime:   now,
			Members:    names,
			TotalBytes: totalBytes,
		},
		DebugTag:       BatchDebugTag,
		CollectionTime: now,
	}
	completion := h.uploader.Upload(ctx, req)
	logger.G(ctx).WithField("batch", batchFile).WithField("members", sealed).Info("Sealed MAR batch")
	go func() {
		if err := completion.Wait(context.Background()); err != nil {
			logger.G(ctx).WithError(err).WithField("batch", batchFile).Warn("MAR batch upload failed, leaving it for the next drain")
		}
	}()

	if err := result.ErrorOrNil(); err != nil {
		logger.G(ctx).WithError(err).Warn("Cannot remove sealed MAR files")
	}
	return nil
}

func (h *HoldingArea) writeBatch(batchFile string) error {
	pending, err := renameio.TempFile(h.config.BatchDir, batchFile)
	if err != nil {
		return err
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	tw := tar.NewWriter(pending)
	for _, mem := range h.members {
		if err = addFile(tw, mem.path, filepath.Base(mem.path)); err != nil {
			return err
		}
	}
	if err = tw.Close(); err != nil {
		return err
	}
	return pending.CloseAtomicallyReplace()
}

// SealedBatches lists the sealed batches still waiting in BatchDir, oldest first
func (h *HoldingArea) SealedBatches() ([]string, error) {
	files, err := ioutil.ReadDir(h.config.BatchDir)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime().Before(files[j].ModTime())
	})
	var batches []string
	for _, fi := range files {
		if fi.Mode().IsRegular() && strings.HasSuffix(fi.Name(), batchExtension) {
			batches = append(batches, filepath.Join(h.config.BatchDir, fi.Name()))
		}
	}
	return batches, nil
}

// ResubmitSealed submits the batches a previous process sealed but never finished uploading. It
// must only be called before the first seal of this process.
func (h *HoldingArea) ResubmitSealed(ctx context.Context) ([]*uploader.Completion, error) {
	batches, err := h.SealedBatches()
	if err != nil {
		return nil, err
	}
	var identity payload.Identity
	if info, err := h.devices.DeviceInfo(ctx); err == nil {
		identity = info.Identity()
	}
	completions := make([]*uploader.Completion, 0, len(batches))
	for _, batch := range batches {
		now := h.times.Now()
		var size int64
		if fi, err := os.Stat(batch); err == nil {
			size = fi.Size()
		}
		completions = append(completions, h.uploader.Upload(ctx, uploader.Request{
			File:           batch,
			Metadata:       payload.MarBatchMetadata{Identity: identity, SealTime: now, TotalBytes: size},
			DebugTag:       BatchDebugTag,
			CollectionTime: now,
		}))
	}
	if len(batches) > 0 {
		logger.G(ctx).WithField("batches", len(batches)).Info("Resubmitted sealed MAR batches")
	}
	return completions, nil
}

// CheckTask runs Check on a schedule
type CheckTask struct {
	HoldingArea *HoldingArea
}

var _ runner.Task = (*CheckTask)(nil)

func (t *CheckTask) Name() string {
	return "mar-check"
}

func (t *CheckTask) RunOnce(ctx context.Context) runner.Result {
	if err := t.HoldingArea.Check(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("Holding area check failed")
		return runner.Failure
	}
	return runner.Success
}
