// Package toolexec runs the external command line tools the pipeline
// depends on (ffmpeg, ffprobe, tesseract) with context support.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tphakala/entityindex/internal/errors"
)

// maxStderr bounds how much tool stderr ends up in an error message.
const maxStderr = 512

// Runner executes a tool and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f(ctx, name, args...)
}

// Exec runs tools with os/exec. A zero Timeout relies on the caller's context.
type Exec struct {
	Timeout time.Duration
}

// Run executes name with args and captures stdout. Failures carry the tail
// of stderr so ffmpeg's diagnostics reach the job error.
func (e Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			category := errors.CategoryCancellation
			if ctxErr == context.DeadlineExceeded {
				category = errors.CategoryTimeout
			}
			return nil, errors.New(fmt.Errorf("%s interrupted after %v: %w", name, time.Since(start).Round(time.Millisecond), ctxErr)).
				Category(category).
				Context("tool", name).
				Build()
		}

		msg := tail(strings.TrimSpace(stderr.String()), maxStderr)
		if msg == "" {
			msg = err.Error()
		}
		return nil, errors.New(fmt.Errorf("%s failed: %s: %w", name, msg, err)).
			Category(errors.CategoryCommandExecution).
			Context("tool", name).
			Timing("run", time.Since(start)).
			Build()
	}

	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
