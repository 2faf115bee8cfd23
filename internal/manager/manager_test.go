package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/probelsp/internal/discover"
	"github.com/standardbeagle/probelsp/internal/types"
)

type countingProcessor struct {
	mu        sync.Mutex
	processed []string
	failPaths map[string]int
}

func (p *countingProcessor) Process(ctx context.Context, item types.QueueItem) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed = append(p.processed, item.FilePath)
	if p.failPaths != nil && p.failPaths[item.FilePath] > 0 {
		p.failPaths[item.FilePath]--
		return 0, errors.New("boom")
	}
	return 1, nil
}

func writeTempFiles(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, "file"+string(rune('a'+i))+".go")
		require.NoError(t, os.WriteFile(name, []byte("package main\n"), 0o644))
	}
	return dir
}

func TestStartIndexingProcessesDiscoveredFiles(t *testing.T) {
	root := writeTempFiles(t, 3)
	proc := &countingProcessor{}
	m := New(Config{MaxWorkers: 2, Discovery: discover.Options{BatchSize: 10}}, proc)

	require.NoError(t, m.StartIndexing(context.Background(), root))
	require.Eventually(t, func() bool { return m.IsComplete() }, 2*time.Second, 10*time.Millisecond)

	progress := m.GetProgress()
	assert.EqualValues(t, 3, progress.Processed)
	assert.EqualValues(t, 3, progress.SymbolsExtracted)
	assert.EqualValues(t, 0, progress.Failed)

	require.NoError(t, m.StopIndexing())
}

func TestStartIndexingIsIdempotentForSameRoot(t *testing.T) {
	root := writeTempFiles(t, 1)
	proc := &countingProcessor{}
	m := New(Config{MaxWorkers: 1, Discovery: discover.Options{BatchSize: 10}}, proc)

	require.NoError(t, m.StartIndexing(context.Background(), root))
	require.NoError(t, m.StartIndexing(context.Background(), root))
	require.NoError(t, m.StopIndexing())
}

func TestStartIndexingFailsForDifferentActiveRoot(t *testing.T) {
	rootA := writeTempFiles(t, 1)
	rootB := writeTempFiles(t, 1)
	proc := &countingProcessor{}
	m := New(Config{MaxWorkers: 1, Discovery: discover.Options{BatchSize: 10}}, proc)

	require.NoError(t, m.StartIndexing(context.Background(), rootA))
	err := m.StartIndexing(context.Background(), rootB)
	assert.ErrorIs(t, err, ErrAlreadyIndexing)
	require.NoError(t, m.StopIndexing())
}

func TestStopIndexingWithoutActiveRunErrors(t *testing.T) {
	m := New(Config{MaxWorkers: 1}, &countingProcessor{})
	assert.ErrorIs(t, m.StopIndexing(), ErrNotIndexing)
}

func TestThreeConsecutiveFailuresDropsItem(t *testing.T) {
	root := writeTempFiles(t, 1)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	filePath := filepath.Join(root, entries[0].Name())

	proc := &countingProcessor{failPaths: map[string]int{filePath: 100}}
	m := New(Config{MaxWorkers: 1, Discovery: discover.Options{BatchSize: 10}}, proc)

	require.NoError(t, m.StartIndexing(context.Background(), root))
	require.Eventually(t, func() bool {
		return m.GetProgress().Failed >= 3
	}, 2*time.Second, 10*time.Millisecond)

	// after the drop, failure count must stop climbing because the item
	// is no longer requeued.
	stableFailed := m.GetProgress().Failed
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, stableFailed, m.GetProgress().Failed)

	require.NoError(t, m.StopIndexing())
}

func TestBatchDiscoveredAppliesBackPressure(t *testing.T) {
	proc := &countingProcessor{}
	m := New(Config{
		MaxWorkers:              1,
		MemoryBudgetBytes:       1000,
		MemoryPressureThreshold: 0.5,
	}, proc)

	accept := m.BatchDiscovered(context.Background(), []types.QueueItem{
		{ID: 1, Priority: types.PriorityLow, FilePath: "a", EstSize: 600},
	})
	assert.False(t, accept, "queue bytes over threshold must pause discovery")
	assert.True(t, m.q.IsPaused())
}

func TestGetProgressReportsActiveWorkers(t *testing.T) {
	root := writeTempFiles(t, 5)
	proc := &countingProcessor{}
	m := New(Config{MaxWorkers: 3, Discovery: discover.Options{BatchSize: 10}}, proc)

	require.NoError(t, m.StartIndexing(context.Background(), root))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&m.progress.ActiveWorkers) == 3
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopIndexing())
}
