package jobs

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/entityindex/internal/logger"
)

const (
	// DefaultTestTimeout is the standard timeout for async test operations.
	DefaultTestTimeout = 5 * time.Second

	// pollInterval is how often Eventually checks re-run.
	pollInterval = 5 * time.Millisecond
)

func quietLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

// waitForChannel waits for ch to close or fails the test after timeout.
func waitForChannel(t *testing.T, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}
