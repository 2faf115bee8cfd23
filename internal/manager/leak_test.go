//go:build leaktests
// +build leaktests

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/probelsp/internal/discover"
)

// TestStartStopIndexingLeavesNoGoroutines guards the discovery-goroutine and
// worker-pool lifecycle: every goroutine StartIndexing spawns must exit once
// StopIndexing returns.
func TestStartStopIndexingLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := writeTempFiles(t, 20)
	m := New(Config{
		MaxWorkers: 3,
		Discovery:  discover.Options{Include: []string{"**/*"}, BatchSize: 4},
	}, &countingProcessor{})

	ctx := context.Background()
	require.NoError(t, m.StartIndexing(ctx, root))

	for i := 0; i < 50 && !m.IsComplete(); i++ {
		time.Sleep(20 * time.Millisecond)
	}

	require.NoError(t, m.StopIndexing())
}
