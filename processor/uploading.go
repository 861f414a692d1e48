package processor

import (
	"context"
	"io"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/logservice"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/uploader"
	"github.com/pkg/errors"
)

// Kind is one of the supported drop box artifact kinds
type Kind struct {
	Kind     payload.DropBoxEntryKind
	Tags     []string
	DebugTag string
}

var (
	ANR = Kind{
		Kind:     payload.KindANR,
		Tags:     []string{"data_app_anr", "system_app_anr", "system_server_anr"},
		DebugTag: "UPLOAD_ANR",
	}
	JavaException = Kind{
		Kind: payload.KindJavaException,
		Tags: []string{
			"data_app_crash",
			"data_app_wtf",
			"system_app_crash",
			"system_app_wtf",
			"system_server_crash",
			"system_server_wtf",
		},
		DebugTag: "UPLOAD_JAVA_EXCEPTION",
	}
	Tombstone = Kind{
		Kind:     payload.KindTombstone,
		Tags:     []string{"SYSTEM_TOMBSTONE"},
		DebugTag: "UPLOAD_TOMBSTONE",
	}
	Kmsg = Kind{
		Kind:     payload.KindKmsg,
		Tags:     []string{"SYSTEM_LAST_KMSG"},
		DebugTag: "UPLOAD_KMSG",
	}
)

// Kinds is every supported kind
var Kinds = []Kind{ANR, JavaException, Tombstone, Kmsg}

// Enqueuer accepts upload requests
type Enqueuer interface {
	Enqueue(ctx context.Context, req uploader.Request) *uploader.Completion
}

// UploadingProcessor stages the entry payload, describes it and hands it to the router
type UploadingProcessor struct {
	kind       Kind
	stagingDir string
	router     Enqueuer
	devices    deviceinfo.Provider
	times      payload.TimeProvider
}

var _ Processor = (*UploadingProcessor)(nil)

func NewUploadingProcessor(kind Kind, stagingDir string, router Enqueuer, devices deviceinfo.Provider, times payload.TimeProvider) *UploadingProcessor {
	return &UploadingProcessor{
		kind:       kind,
		stagingDir: stagingDir,
		router:     router,
		devices:    devices,
		times:      times,
	}
}

// NewUploadingProcessors returns one processor per supported kind
func NewUploadingProcessors(stagingDir string, router Enqueuer, devices deviceinfo.Provider, times payload.TimeProvider) []Processor {
	processors := make([]Processor, len(Kinds))
	for idx, kind := range Kinds {
		processors[idx] = NewUploadingProcessor(kind, stagingDir, router, devices, times)
	}
	return processors
}

func (p *UploadingProcessor) Tags() []string {
	return p.kind.Tags
}

// fileTimer is implemented by entries backed by a file
type fileTimer interface {
	FileTimeMillis() (int64, bool)
}

func (p *UploadingProcessor) Process(ctx context.Context, entry logservice.Entry) Result {
	collectionTime := p.times.Now()

	staged, n, err := p.stage(entry)
	if err != nil {
		return failed(err)
	}
	if n == 0 {
		_ = os.Remove(staged)
		return Result{Outcome: Skipped}
	}

	info, err := p.devices.DeviceInfo(ctx)
	if err != nil {
		_ = os.Remove(staged)
		return failed(errors.Wrap(err, "Cannot get device info"))
	}

	metadata := payload.DropBoxEntryMetadata{
		Identity:       info.Identity(),
		Kind:           p.kind.Kind,
		Tag:            entry.Tag(),
		EntryTimeMs:    entry.TimeMillis(),
		CollectionTime: collectionTime,
		Timezone:       payload.DeviceTimezone(),
	}
	if ft, ok := entry.(fileTimer); ok {
		if ms, ok := ft.FileTimeMillis(); ok {
			metadata.FileTimeMs = &ms
		}
	}

	completion := p.router.Enqueue(ctx, uploader.Request{
		File:           staged,
		Metadata:       metadata,
		DebugTag:       p.kind.DebugTag,
		CollectionTime: collectionTime,
	})
	// The archive and forwarding paths resolve right away, a direct upload is tracked by its own task
	select {
	case <-completion.Done():
		if err = completion.Err(); err != nil {
			return failed(err)
		}
	default:
	}
	logger.G(ctx).WithField("file", staged).Debug("Entry enqueued for upload")
	return Result{Outcome: Uploaded}
}

func (p *UploadingProcessor) stage(entry logservice.Entry) (string, int64, error) {
	r, err := entry.Open()
	if err != nil {
		return "", 0, err
	}
	defer r.Close()

	f, err := ioutil.TempFile(p.stagingDir, entry.Tag()+"-"+strconv.FormatInt(entry.TimeMillis(), 10)+"-*.txt")
	if err != nil {
		return "", 0, errors.Wrap(err, "Cannot create staging file")
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Close()
	} else {
		_ = f.Close()
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, errors.Wrapf(err, "Cannot stage %s entry", entry.Tag())
	}
	return f.Name(), n, nil
}
