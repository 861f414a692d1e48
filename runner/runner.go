package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/tracehelpers"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"
)

// Result is the only failure signal a task reports to the scheduler
type Result int

const (
	Success Result = iota
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Task is one unit of periodic pipeline work. Implementations must be safe to invoke repeatedly;
// the scheduler never runs two invocations of the same task concurrently.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) Result
}

type scheduledTask struct {
	task     Task
	interval time.Duration
}

// Scheduler periodically invokes its tasks until the context is cancelled
type Scheduler struct {
	metrics metrics.Reporter
	tasks   []scheduledTask
	started int32
}

func NewScheduler(m metrics.Reporter) *Scheduler {
	return &Scheduler{metrics: m}
}

// Add registers a task to be run every interval. It must be called before Run.
func (s *Scheduler) Add(task Task, interval time.Duration) {
	if atomic.LoadInt32(&s.started) != 0 {
		panic("Task added after scheduler started")
	}
	if interval <= 0 {
		panic(fmt.Sprintf("Task %s has a non-positive interval %s", task.Name(), interval))
	}
	s.tasks = append(s.tasks, scheduledTask{task: task, interval: interval})
}

// Run blocks until ctx is done. Each task runs in its own loop, the first run happens
// after a tenth of the interval so that the daemon does not stampede at startup.
func (s *Scheduler) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		panic("Scheduler started twice")
	}
	if len(s.tasks) == 0 {
		return errors.New("No tasks scheduled")
	}

	group, ctx := errgroup.WithContext(ctx)
	for idx := range s.tasks {
		st := s.tasks[idx]
		group.Go(func() error {
			s.taskLoop(ctx, st)
			return nil
		})
	}
	return group.Wait()
}

func (s *Scheduler) taskLoop(ctx context.Context, st scheduledTask) {
	ctx = logger.WithTask(ctx, st.task.Name())
	logger.G(ctx).WithField("interval", st.interval).Info("Starting task loop")

	t := time.NewTimer(st.interval / 10)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.G(ctx).Debug("Task loop shutting down")
			return
		case <-t.C:
			_ = Run(ctx, s.metrics, st.task)
			t.Reset(st.interval)
		}
	}
}

// Run invokes a single task once, with logging, tracing and metrics around it
func Run(ctx context.Context, m metrics.Reporter, task Task) Result {
	ctx, span := trace.StartSpan(ctx, task.Name())
	defer span.End()
	ctx = logger.WithTask(ctx, task.Name())

	start := time.Now()
	result := task.RunOnce(ctx)
	elapsed := time.Since(start)

	tags := map[string]string{"task": task.Name(), "result": result.String()}
	m.Counter("devdiag.task.runs", 1, tags)
	m.Timer("devdiag.task.duration", elapsed, tags)
	span.AddAttributes(trace.StringAttribute("result", result.String()))

	entry := logger.G(ctx).WithField("result", result).WithField("elapsed", elapsed)
	if result == Failure {
		tracehelpers.SetStatus(errors.New("task failed"), span)
		entry.Warning("Task finished")
	} else {
		tracehelpers.SetStatus(nil, span)
		entry.Debug("Task finished")
	}
	return result
}
