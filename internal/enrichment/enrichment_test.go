package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/probelsp/internal/adapter"
	"github.com/standardbeagle/probelsp/internal/dbrouter"
	"github.com/standardbeagle/probelsp/internal/lspmanager"
	"github.com/standardbeagle/probelsp/internal/store"
)

type stubResolver struct{ root string }

func (s stubResolver) Resolve(string) string { return s.root }

type stubSource struct {
	mu    sync.Mutex
	items []Item
}

func (s *stubSource) Next() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return Item{}, false
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, true
}

type stubLSP struct {
	mu           sync.Mutex
	hierarchyErr error
	hierarchy    lspmanager.CallHierarchyResult
	refs         []adapter.ReferenceLocation
	refsErr      error
	calls        int
}

func (s *stubLSP) CallHierarchy(ctx context.Context, language, workspaceRoot, filePath string, line, column int, timeout time.Duration) (lspmanager.CallHierarchyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.hierarchy, s.hierarchyErr
}

func (s *stubLSP) References(ctx context.Context, language, workspaceRoot, filePath string, line, column int, includeDeclaration bool, timeout time.Duration) ([]adapter.ReferenceLocation, error) {
	return s.refs, s.refsErr
}

func TestProcessSucceedsAndStoresSymbol(t *testing.T) {
	router := dbrouter.New(4, true)
	defer router.CloseAll()

	lsp := &stubLSP{hierarchy: lspmanager.CallHierarchyResult{
		Anchor: adapter.CallHierarchyItem{Name: "Foo", Kind: "function"},
	}}

	p := New(DefaultConfig(), &stubSource{}, stubResolver{root: "/repo"}, lsp, router)
	p.process(context.Background(), Item{Language: "go", FilePath: "/repo/foo.go"})

	snap := p.Snapshot()
	assert.EqualValues(t, 1, snap.SymbolsProcessed)
	assert.EqualValues(t, 1, snap.SymbolsEnriched)
	assert.EqualValues(t, 0, snap.SymbolsFailed)

	var symbolCount int
	require.NoError(t, router.WithStore(context.Background(), "/repo", func(s *store.Store) error {
		symbols, err := s.GetAllSymbols(context.Background())
		symbolCount = len(symbols)
		return err
	}))
	assert.Equal(t, 1, symbolCount)
}

func TestProcessRetriesThenFails(t *testing.T) {
	router := dbrouter.New(4, true)
	defer router.CloseAll()

	lsp := &stubLSP{hierarchyErr: errors.New("lsp down")}
	cfg := DefaultConfig()
	cfg.MaxRetries = 2

	p := New(cfg, &stubSource{}, stubResolver{root: "/repo"}, lsp, router)
	p.process(context.Background(), Item{Language: "go", FilePath: "/repo/foo.go"})

	snap := p.Snapshot()
	assert.EqualValues(t, 1, snap.SymbolsFailed)
	assert.GreaterOrEqual(t, lsp.calls, 2)
}

func TestStartStopDrainsWorkers(t *testing.T) {
	router := dbrouter.New(4, true)
	defer router.CloseAll()

	src := &stubSource{items: []Item{
		{Language: "go", FilePath: "/repo/a.go"},
		{Language: "go", FilePath: "/repo/b.go"},
	}}
	lsp := &stubLSP{hierarchy: lspmanager.CallHierarchyResult{Anchor: adapter.CallHierarchyItem{Name: "X", Kind: "function"}}}

	cfg := DefaultConfig()
	cfg.Parallelism = 2
	cfg.EmptyQueueDelay = 10 * time.Millisecond
	p := New(cfg, src, stubResolver{root: "/repo"}, lsp, router)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	require.Eventually(t, func() bool { return p.Snapshot().SymbolsProcessed >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	p.Stop()
}
