// Package heartbeat periodically uploads a metrics snapshot with the battery history of the
// period it covers.
package heartbeat

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/Netflix/devdiag/deviceinfo"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/uploader"
	"github.com/google/renameio"
	"github.com/pkg/errors"
)

const (
	DebugTag         = "UPLOAD_HEARTBEAT"
	batteryStatsName = "batterystats.txt"
)

// BatteryStatsCollector writes the battery history of roughly the last limit to a staged file
// and returns its path. The caller owns the file.
type BatteryStatsCollector interface {
	Collect(ctx context.Context, limit time.Duration) (string, error)
}

// Enqueuer accepts upload requests
type Enqueuer interface {
	Enqueue(ctx context.Context, req uploader.Request) *uploader.Completion
}

// LastEndStore remembers when the previous heartbeat period ended
type LastEndStore interface {
	LastEnd() (payload.CombinedTime, error)
	SetLastEnd(payload.CombinedTime) error
}

// Task builds and enqueues one heartbeat per run
type Task struct {
	Collector BatteryStatsCollector
	Router    Enqueuer
	Devices   deviceinfo.Provider
	Times     payload.TimeProvider
	LastEnd   LastEndStore
}

var _ runner.Task = (*Task)(nil)

func (t *Task) Name() string {
	return "heartbeat"
}

func (t *Task) RunOnce(ctx context.Context) runner.Result {
	now := t.Times.Now()
	last, err := t.LastEnd.LastEnd()
	if err != nil {
		logger.G(ctx).WithError(err).Warn("Cannot read last heartbeat end, treating this as the first heartbeat of the boot")
		last = payload.CombinedTime{}
	}
	interval := Interval(last, now)

	// The history can grow very large, anything well before the period is clipped by the backend anyway
	file, err := t.Collector.Collect(ctx, 2*interval)
	if err != nil {
		logger.G(ctx).WithError(err).Error("Failed to collect battery stats")
		return runner.Failure
	}

	if err = t.enqueue(ctx, now, interval, file); err != nil {
		_ = os.Remove(file)
		logger.G(ctx).WithError(err).Error("Failed to enqueue heartbeat")
		return runner.Failure
	}

	if err = t.LastEnd.SetLastEnd(now); err != nil {
		logger.G(ctx).WithError(err).Error("Cannot persist heartbeat end")
		return runner.Failure
	}
	return runner.Success
}

func (t *Task) enqueue(ctx context.Context, now payload.CombinedTime, interval time.Duration, file string) error {
	info, err := t.Devices.DeviceInfo(ctx)
	if err != nil {
		return errors.Wrap(err, "Cannot get device info")
	}
	attachment, err := payload.NewFileEntry(file, batteryStatsName)
	if err != nil {
		return err
	}

	completion := t.Router.Enqueue(ctx, uploader.Request{
		File: file,
		Metadata: payload.HeartbeatMetadata{
			Identity:            info.Identity(),
			CollectionTime:      now,
			HeartbeatIntervalMs: interval.Milliseconds(),
			CustomMetrics:       map[string]float64{},
			BuiltinMetrics:      map[string]float64{},
			Attachments:         payload.HeartbeatAttachments{BatteryStats: &attachment},
		},
		DebugTag:       DebugTag,
		CollectionTime: now,
	})
	select {
	case <-completion.Done():
		return completion.Err()
	default:
		return nil
	}
}

// Interval is the time covered by a heartbeat ending at now. Uptime is only comparable within a
// boot, so after a reboot the period starts at boot.
func Interval(last, now payload.CombinedTime) time.Duration {
	if last.BootID != now.BootID || last.UptimeMs > now.UptimeMs {
		return now.Uptime()
	}
	return now.Uptime() - last.Uptime()
}

// FileLastEndStore keeps the last end as JSON in a file
type FileLastEndStore struct {
	mu   sync.Mutex
	path string
}

var _ LastEndStore = (*FileLastEndStore)(nil)

func NewFileLastEndStore(path string) *FileLastEndStore {
	return &FileLastEndStore{path: path}
}

func (s *FileLastEndStore) LastEnd() (payload.CombinedTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last payload.CombinedTime
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return last, nil
	} else if err != nil {
		return last, err
	}
	if err = json.Unmarshal(data, &last); err != nil {
		return last, errors.Wrapf(err, "Heartbeat state %s is corrupt", s.path)
	}
	return last, nil
}

func (s *FileLastEndStore) SetLastEnd(end payload.CombinedTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(end)
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0600)
}
