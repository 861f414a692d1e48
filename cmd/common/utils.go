// Package common holds process level helpers shared by the devdiag binaries.
package common

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/Netflix/devdiag/logger"
)

// HandleQuitSignal allows us to respond to sigquit, dumping our goroutines like normal, but *not* exit,
// mimicking how java does it.
func HandleQuitSignal(ctx context.Context) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGQUIT)
	defer signal.Stop(sigs)
	buf := make([]byte, 1<<20)
	for {
		select {
		case <-sigs:
			stacklen := runtime.Stack(buf, true)
			logger.G(ctx).Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n", buf[:stacklen])
		case <-ctx.Done():
			return
		}
	}
}

// CancelOnTermination cancels the returned context on SIGTERM or SIGINT
func CancelOnTermination(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			logger.G(ctx).WithField("signal", sig).Warn("Received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
