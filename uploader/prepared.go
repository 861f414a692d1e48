package uploader

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/Netflix/devdiag/logger"
	"github.com/Netflix/devdiag/payload"
	"github.com/Netflix/metrics-client-go/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxAttempts    = 3
	defaultRetryBackoff   = 5 * time.Second
	defaultMaxConcurrency = 2
)

// PreparedUploaderConfig tunes the direct upload path
type PreparedUploaderConfig struct {
	MaxConcurrency int64
	MaxAttempts    int
	RetryBackoff   time.Duration
}

// PreparedUploader runs single file upload tasks against a Backend. Each task retries on its own
// and removes the staged file once the backend has it. Tasks live as long as the uploader's base
// context, not the context of the caller that started them.
type PreparedUploader struct {
	ctx         context.Context
	backend     Backend
	m           metrics.Reporter
	sem         *semaphore.Weighted
	maxAttempts int
	backoff     time.Duration
	wg          sync.WaitGroup
}

func NewPreparedUploader(ctx context.Context, backend Backend, m metrics.Reporter, config PreparedUploaderConfig) *PreparedUploader {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaultMaxConcurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	return &PreparedUploader{
		ctx:         ctx,
		backend:     backend,
		m:           m,
		sem:         semaphore.NewWeighted(config.MaxConcurrency),
		maxAttempts: config.MaxAttempts,
		backoff:     config.RetryBackoff,
	}
}

// Upload starts an upload task for req. Only the logger is taken from ctx. The returned
// Completion resolves when the task is done.
func (p *PreparedUploader) Upload(ctx context.Context, req Request) *Completion {
	envelope, err := payload.Marshal(req.Metadata)
	if err != nil {
		return Completed(err)
	}

	taskCtx := logger.WithLogger(p.ctx, logger.G(ctx))
	c := newCompletion()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		c.resolve(p.run(taskCtx, req, envelope))
	}()
	return c
}

// Wait blocks until every started upload task has finished
func (p *PreparedUploader) Wait() {
	p.wg.Wait()
}

func (p *PreparedUploader) run(ctx context.Context, req Request, envelope []byte) error {
	ctx = logger.WithFields(ctx, map[string]interface{}{
		"file":     req.File,
		"debugTag": req.DebugTag,
	})
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	remote := ObjectKey(req.DebugTag, req.File)
	tags := map[string]string{"debugTag": req.DebugTag}
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		start := time.Now()
		err = p.backend.Upload(ctx, req.File, remote, envelope)
		p.m.Timer("devdiag.upload.duration", time.Since(start), tags)
		if err == nil {
			break
		}
		logger.G(ctx).WithError(err).WithField("attempt", attempt).Warn("Upload attempt failed")
		if attempt == p.maxAttempts {
			break
		}
		if sleepErr := sleep(ctx, p.backoff*time.Duration(attempt)); sleepErr != nil {
			err = sleepErr
			break
		}
	}
	if err != nil {
		p.m.Counter("devdiag.upload.failed", 1, tags)
		return errors.Wrapf(err, "Cannot upload %s", req.File)
	}

	p.m.Counter("devdiag.upload.succeeded", 1, tags)
	if rmErr := os.Remove(req.File); rmErr != nil && !os.IsNotExist(rmErr) {
		logger.G(ctx).WithError(rmErr).Warn("Cannot remove uploaded file")
	}
	logger.G(ctx).Info("Uploaded file")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
