// Package bugreport uploads bug reports requested by an operator.
package bugreport

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/uploader"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DebugTag = "UPLOAD_BUGREPORT"

// Enqueuer accepts upload requests
type Enqueuer interface {
	Enqueue(ctx context.Context, req uploader.Request) *uploader.Completion
}

// Uploader stages bug reports and hands them to the router
type Uploader struct {
	StagingDir string
	Router     Enqueuer
	Devices    deviceinfo.Provider
	Times      payload.TimeProvider
}

// Upload copies the report at path into staging and enqueues it. The original file is left alone.
// An empty requestID gets a random one.
func (u *Uploader) Upload(ctx context.Context, path, requestID string) (*uploader.Completion, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx = logger.WithField(ctx, "requestID", requestID)
	now := u.Times.Now()

	staged, err := u.stage(path)
	if err != nil {
		return nil, err
	}
	info, err := u.Devices.DeviceInfo(ctx)
	if err != nil {
		_ = os.Remove(staged)
		return nil, errors.Wrap(err, "Cannot get device info")
	}
	attachment, err := payload.NewFileEntry(staged, filepath.Base(path))
	if err != nil {
		_ = os.Remove(staged)
		return nil, err
	}

	logger.G(ctx).WithField("file", path).Info("Enqueueing bug report")
	return u.Router.Enqueue(ctx, uploader.Request{
		File: staged,
		Metadata: payload.BugReportMetadata{
			Identity:       info.Identity(),
			CollectionTime: now,
			Attachment:     attachment,
			RequestID:      requestID,
		},
		DebugTag:       DebugTag,
		CollectionTime: now,
	}), nil
}

func (u *Uploader) stage(path string) (string, error) {
	src, err := os.Open(path) // nolint: gosec
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := ioutil.TempFile(u.StagingDir, "bugreport-*"+filepath.Ext(path))
	if err != nil {
		return "", errors.Wrap(err, "Cannot create staging file")
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(dst.Name())
		return "", errors.Wrapf(err, "Cannot stage %s", path)
	}
	return dst.Name(), nil
}
