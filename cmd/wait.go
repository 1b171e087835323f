// cmd/wait.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aceteam-ai/imposium-cli/internal/experience"
	"github.com/aceteam-ai/imposium-cli/internal/ui"
)

// waitContext is cancelled on SIGINT/SIGTERM or after timeout (zero waits forever).
func waitContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			Debug("received signal %v, stopping", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		cancel()
	}
}

// waitForJob blocks on the watcher and turns an abandoned wait into a hint.
// The job keeps running server-side either way.
func waitForJob(watcher *ui.Watcher, timeout time.Duration) (*experience.Experience, error) {
	ctx, cancel := waitContext(timeout)
	defer cancel()

	exp, err := watcher.Wait(ctx)
	switch {
	case err == nil:
		return exp, nil
	case errors.Is(err, context.DeadlineExceeded):
		return nil, fmt.Errorf("gave up waiting after %s; the job is still running, follow it with 'imposium watch <job-id>'", timeout)
	case errors.Is(err, context.Canceled), errors.Is(err, ui.ErrAborted):
		fmt.Fprintln(os.Stderr, "   ℹ️  Stopped watching; the job is still running.")
		return nil, nil
	default:
		return nil, err
	}
}

// watcherOutput keeps progress lines off stdout when stdout carries JSON.
func watcherOutput(jsonOut bool) io.Writer {
	if jsonOut {
		return os.Stderr
	}
	return os.Stdout
}
