package uploader

import (
	"context"
	"sync"
)

// Completion resolves once the delivery path an upload took is done with it. For the archive and
// linked device paths that is as soon as they accept the artifact; a direct upload resolves only
// when the upload task itself finishes.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Completed returns an already resolved Completion
func Completed(err error) *Completion {
	c := newCompletion()
	c.resolve(err)
	return c
}

func (c *Completion) resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed when the Completion resolves
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err is the outcome, only meaningful once Done is closed
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the Completion resolves or ctx is done
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
