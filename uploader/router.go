package uploader

import (
	"context"
	"fmt"
	"os"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
)

//go:generate mockgen -destination=mock/router.go -package=mock github.com/Netflix/devdiag/uploader MarWriter,HoldingArea,LinkedDeviceSender,DirectUploader

// ClientServerFileUploadTag is the tag MAR files are forwarded to the linked server device under
const ClientServerFileUploadTag = "devdiag_mar_upload"

// DeliveryMode is how a single request reaches the backend
type DeliveryMode int

const (
	Direct DeliveryMode = iota
	Archived
	Forwarded
)

func (m DeliveryMode) String() string {
	switch m {
	case Direct:
		return "direct"
	case Archived:
		return "archived"
	case Forwarded:
		return "forwarded"
	}
	return fmt.Sprintf("DeliveryMode(%d)", int(m))
}

// DeliveryModeFor derives the delivery mode from the current settings. Only MAR files are
// forwarded, so a client with MAR uploads disabled uploads directly instead of forwarding.
func DeliveryModeFor(s settings.Settings) DeliveryMode {
	switch {
	case s.ClientServerMode == settings.ClientServerClient && s.UseMarUpload:
		return Forwarded
	case s.UseMarUpload:
		return Archived
	default:
		return Direct
	}
}

// MarWriter packs a single request into a MAR file and returns its path. The request's staged
// file is consumed.
type MarWriter interface {
	CreateForFile(ctx context.Context, req Request) (string, error)
}

// HoldingArea takes ownership of a MAR file until it is sealed into a batch
type HoldingArea interface {
	AddMarFile(ctx context.Context, file string) error
}

// LinkedDeviceSender hands a file to the linked server device
type LinkedDeviceSender interface {
	SendFileToLinkedDevice(ctx context.Context, file, tag string) error
}

// DirectUploader starts a single file upload task
type DirectUploader interface {
	Upload(ctx context.Context, req Request) *Completion
}

// Router picks exactly one delivery path per request
type Router struct {
	settings    settings.Provider
	marWriter   MarWriter
	holdingArea HoldingArea
	sender      LinkedDeviceSender
	direct      DirectUploader
	m           metrics.Reporter
}

func NewRouter(s settings.Provider, marWriter MarWriter, holdingArea HoldingArea, sender LinkedDeviceSender, direct DirectUploader, m metrics.Reporter) *Router {
	return &Router{
		settings:    s,
		marWriter:   marWriter,
		holdingArea: holdingArea,
		sender:      sender,
		direct:      direct,
		m:           m,
	}
}

// Enqueue routes req. The mode is recomputed from the settings on every call.
func (r *Router) Enqueue(ctx context.Context, req Request) *Completion {
	mode := DeliveryModeFor(r.settings.Get())
	ctx = logger.WithFields(ctx, map[string]interface{}{
		"file":         req.File,
		"debugTag":     req.DebugTag,
		"deliveryMode": mode.String(),
	})
	r.m.Counter("devdiag.upload.enqueued", 1, map[string]string{"deliveryMode": mode.String(), "debugTag": req.DebugTag})

	switch mode {
	case Forwarded:
		marFile, err := r.marWriter.CreateForFile(ctx, req)
		if err != nil {
			return r.failed(ctx, errors.Wrap(err, "Cannot create MAR file for forwarding"))
		}
		if err = r.sender.SendFileToLinkedDevice(ctx, marFile, ClientServerFileUploadTag); err != nil {
			r.discard(ctx, marFile)
			return r.failed(ctx, errors.Wrap(err, "Cannot forward MAR file to linked device"))
		}
		logger.G(ctx).WithField("marFile", marFile).Debug("Forwarded to linked device")
		return Completed(nil)
	case Archived:
		marFile, err := r.marWriter.CreateForFile(ctx, req)
		if err != nil {
			return r.failed(ctx, errors.Wrap(err, "Cannot create MAR file"))
		}
		if err = r.holdingArea.AddMarFile(ctx, marFile); err != nil {
			r.discard(ctx, marFile)
			return r.failed(ctx, errors.Wrap(err, "Cannot add MAR file to holding area"))
		}
		logger.G(ctx).WithField("marFile", marFile).Debug("Added to holding area")
		return Completed(nil)
	case Direct:
		return r.direct.Upload(ctx, req)
	}
	panic(fmt.Sprintf("no delivery path for %s", mode))
}

// discard removes a MAR file that no delivery path took over
func (r *Router) discard(ctx context.Context, marFile string) {
	if err := os.Remove(marFile); err != nil && !os.IsNotExist(err) {
		logger.G(ctx).WithError(err).WithField("marFile", marFile).Warn("Cannot remove undelivered MAR file")
	}
	r.m.Counter("devdiag.upload.discarded", 1, nil)
}

func (r *Router) failed(ctx context.Context, err error) *Completion {
	logger.G(ctx).WithError(err).Error("Cannot enqueue upload")
	return Completed(err)
}
