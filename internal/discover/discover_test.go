package discover

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/probelsp/internal/types"
)

type collectingSink struct {
	items []types.QueueItem
}

func (s *collectingSink) BatchDiscovered(_ context.Context, batch []types.QueueItem) bool {
	s.items = append(s.items, batch...)
	return true
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalkHonorsExcludesAndSizeCap(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main")
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "x")
	writeFile(t, filepath.Join(root, "big.go"), string(make([]byte, 100)))

	var nextID uint64
	sink := &collectingSink{}
	_, err := Walk(context.Background(), Options{
		Root:            root,
		Exclude:         []string{"node_modules/**"},
		MaxFileBytes:    50,
		BatchSize:       10,
		DefaultPriority: types.PriorityMedium,
	}, sink, func() uint64 { return atomic.AddUint64(&nextID, 1) })
	require.NoError(t, err)

	var paths []string
	for _, it := range sink.items {
		paths = append(paths, filepath.Base(it.FilePath))
	}
	assert.Contains(t, paths, "main.go")
	assert.NotContains(t, paths, "index.js")
	assert.NotContains(t, paths, "big.go")
}

func TestWalkBackPressureStop(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 5; i++ {
		writeFile(t, filepath.Join(root, "f"+string(rune('a'+i))+".go"), "package x")
	}

	var nextID uint64
	calls := 0
	stoppingSink := sinkFunc(func(_ context.Context, batch []types.QueueItem) bool {
		calls++
		return false
	})
	_, err := Walk(context.Background(), Options{Root: root, BatchSize: 1}, stoppingSink, func() uint64 {
		nextID++
		return nextID
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

type sinkFunc func(context.Context, []types.QueueItem) bool

func (f sinkFunc) BatchDiscovered(ctx context.Context, batch []types.QueueItem) bool { return f(ctx, batch) }
