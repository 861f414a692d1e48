package retention

import (
	"context"
	"time"

	"github.com/Netflix/devdiag/fslocker"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/metrics-client-go/metrics"
)

// LockName is the fslocker lock held while a pass runs
const LockName = "retention/run"

// Task runs CleanupFiles over the staging directory with the limits from the current settings
type Task struct {
	Dir      string
	Settings settings.Provider
	// Locker is optional
	Locker  *fslocker.FSLocker
	Metrics metrics.Reporter

	now func() time.Time
}

var _ runner.Task = (*Task)(nil)

func (t *Task) Name() string {
	return "staging-retention"
}

func (t *Task) RunOnce(ctx context.Context) runner.Result {
	if t.Locker != nil {
		lock, err := t.Locker.TryExclusiveLock(LockName)
		if err == fslocker.ErrLocked {
			return runner.Success
		} else if err != nil {
			logger.G(ctx).WithError(err).Error("Cannot take retention lock")
			return runner.Failure
		}
		defer lock.Unlock()
	}

	now := time.Now
	if t.now != nil {
		now = t.now
	}
	s := t.Settings.Get()
	stats, err := CleanupFiles(ctx, t.Dir, s.StagingMaxBytes, s.StagingMaxAge(), now())
	if err != nil {
		logger.G(ctx).WithError(err).Error("Cleanup failed")
		return runner.Failure
	}
	if t.Metrics != nil {
		tags := map[string]string{"dir": "staging"}
		t.Metrics.Counter("devdiag.retention.deleted", stats.Deleted, tags)
		t.Metrics.Gauge("devdiag.retention.remainingBytes", int(stats.RemainingBytes), tags)
	}
	return runner.Success
}
