// Package collector drains the log service: it walks entries newer than the persisted watermark
// and dispatches each one to the processor registered for its tag.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/Netflix/devdiag/fslocker"
	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/logservice"
	"github.com/Netflix/devdiag/processor"
	"github.com/Netflix/devdiag/runner"
	"github.com/Netflix/devdiag/settings"
	"github.com/Netflix/devdiag/tracehelpers"
	"github.com/Netflix/devdiag/watermark"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

const (
	// LockName is the fslocker lock held for the duration of a run
	LockName = "collector/run"

	// A drained stream is one that came back empty this many times in a row
	maxConsecutiveEmptyReads = 2

	entriesMetric = "devdiag.collector.entries"
)

// Config wires a Task
type Config struct {
	Connector logservice.Connector
	Watermark watermark.Store
	Registry  *processor.Registry
	Settings  settings.Provider
	// Locker is optional, when set runs from different processes exclude each other
	Locker  *fslocker.FSLocker
	Metrics metrics.Reporter
	// RetryDelay is how long to wait before re-reading after an empty read, zero re-reads at once
	RetryDelay time.Duration
}

// Task is the entry acquisition loop
type Task struct {
	connector  logservice.Connector
	watermark  watermark.Store
	registry   *processor.Registry
	settings   settings.Provider
	locker     *fslocker.FSLocker
	m          metrics.Reporter
	retryDelay time.Duration
}

var _ runner.Task = (*Task)(nil)

func NewTask(config Config) *Task {
	if config.Metrics == nil {
		config.Metrics = metrics.Discard
	}
	return &Task{
		connector:  config.Connector,
		watermark:  config.Watermark,
		registry:   config.Registry,
		settings:   config.Settings,
		locker:     config.Locker,
		m:          config.Metrics,
		retryDelay: config.RetryDelay,
	}
}

func (t *Task) Name() string {
	return "dropbox-collector"
}

// RunOnce drains every entry currently available
func (t *Task) RunOnce(ctx context.Context) runner.Result {
	if !t.settings.Get().DataSourceEnabled || t.registry.Len() == 0 {
		logger.G(ctx).Debug("Nothing to collect")
		return runner.Success
	}

	if t.locker != nil {
		lock, err := t.locker.TryExclusiveLock(LockName)
		if err == fslocker.ErrLocked {
			logger.G(ctx).Info("Another process is collecting, skipping this run")
			return runner.Success
		} else if err != nil {
			logger.G(ctx).WithError(err).Error("Cannot take collector lock")
			return runner.Failure
		}
		defer lock.Unlock()
	}

	client, err := t.connect(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Error("Cannot set up log service connection")
		return runner.Failure
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("Error closing log service connection")
		}
	}()

	if err = t.drain(ctx, client); err != nil {
		logger.G(ctx).WithError(err).Error("Collection aborted")
		return runner.Failure
	}
	return runner.Success
}

func (t *Task) connect(ctx context.Context) (_ logservice.Client, err error) {
	ctx, span := trace.StartSpan(ctx, "connect")
	defer func() {
		tracehelpers.SetStatus(err, span)
		span.End()
	}()

	client, err := t.connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	version, err := client.Version(ctx)
	if err == nil && version < logservice.MinServiceVersion {
		err = errors.Wrapf(logservice.ErrUnsupportedVersion, "service version %d, need at least %d", version, logservice.MinServiceVersion)
	}
	if err == nil {
		err = client.SetTagFilter(ctx, t.registry.Tags())
	}
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (t *Task) drain(ctx context.Context, client logservice.Client) (err error) {
	ctx, span := trace.StartSpan(ctx, "drain")
	defer func() {
		tracehelpers.SetStatus(err, span)
		span.End()
	}()

	after, err := t.watermark.Get()
	if err != nil {
		return errors.Wrap(err, "Cannot read watermark")
	}

	emptyReads := 0
	for {
		if err = ctx.Err(); err != nil {
			return err
		}
		entry, err := client.GetNextEntry(ctx, after)
		if err != nil {
			return err
		}
		if entry == nil {
			emptyReads++
			if emptyReads >= maxConsecutiveEmptyReads {
				logger.G(ctx).WithField("watermark", after).Debug("Log stream drained")
				return nil
			}
			if err = sleep(ctx, t.retryDelay); err != nil {
				return err
			}
			continue
		}
		emptyReads = 0
		after = entry.TimeMillis()
		if err = t.handleEntry(ctx, entry); err != nil {
			return err
		}
	}
}

// handleEntry only returns an error when the watermark cannot be persisted; everything that goes
// wrong with the entry itself is confined to that entry
func (t *Task) handleEntry(ctx context.Context, entry logservice.Entry) error {
	ctx = logger.WithDropBoxEntry(ctx, entry.Tag(), entry.TimeMillis())
	defer func() {
		if err := entry.Close(); err != nil {
			logger.G(ctx).WithError(err).Warn("Error closing entry")
		}
	}()

	if err := t.watermark.Advance(entry.TimeMillis()); err != nil {
		return errors.Wrap(err, "Cannot persist watermark")
	}

	size, err := entry.Size()
	if err != nil {
		logger.G(ctx).WithError(err).Warn("Cannot determine entry size")
		t.count(entry.Tag(), "unreadable")
		return nil
	}
	if size == 0 {
		t.count(entry.Tag(), "empty")
		return nil
	}
	p, ok := t.registry.Lookup(entry.Tag())
	if !ok {
		t.count(entry.Tag(), "unknown")
		return nil
	}

	res := t.dispatch(ctx, p, entry)
	if res.Outcome == processor.Failed {
		logger.G(ctx).WithError(res.Err).Warn("Failed to process entry")
	}
	t.count(entry.Tag(), res.Outcome.String())
	return nil
}

func (t *Task) dispatch(ctx context.Context, p processor.Processor, entry logservice.Entry) (res processor.Result) {
	ctx, span := trace.StartSpan(ctx, "processEntry")
	defer span.End()
	span.AddAttributes(trace.StringAttribute("tag", entry.Tag()), trace.Int64Attribute("time", entry.TimeMillis()))

	// A panicking processor fails its entry, not the run
	defer func() {
		if r := recover(); r != nil {
			res = processor.Result{Outcome: processor.Failed, Err: fmt.Errorf("processor panicked: %v", r)}
		}
	}()
	return p.Process(ctx, entry)
}

func (t *Task) count(tag, outcome string) {
	t.m.Counter(entriesMetric, 1, map[string]string{"tag": tag, "outcome": outcome})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
