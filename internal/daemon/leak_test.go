//go:build leaktests
// +build leaktests

package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/probelsp/internal/ipc"
)

// TestServeShutdownLeavesNoGoroutines guards the accept-loop/enrichment-pool
// lifecycle: cancelling Serve's context must leave nothing running behind it.
func TestServeShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	d := newTestDaemon(t, root)
	defer d.router.CloseAll()

	socketPath := root + "/probe.sock"
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, socketPath) }()

	// Wait for the socket to come up before tearing down.
	for i := 0; i < 50; i++ {
		if conn, err := ipc.Dial(socketPath); err == nil {
			conn.Close()
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
}
