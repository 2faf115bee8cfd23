// Package enrichment implements the enrichment worker pool of spec §4.K: a
// bounded-parallelism pool that pulls queue items, drives LSP
// call_hierarchy/references through F, translates results through J, and
// batch-stores through H/I. Grounded on the teacher's use of
// golang.org/x/sync (the pack's only semaphore-shaped concurrency
// dependency) for the parallelism permit, generalized from the teacher's
// indexing concurrency gate to this pool's worker loop.
package enrichment

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/standardbeagle/probelsp/internal/adapter"
	"github.com/standardbeagle/probelsp/internal/dbrouter"
	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/lspmanager"
	"github.com/standardbeagle/probelsp/internal/store"
	"github.com/standardbeagle/probelsp/internal/types"
)

var logger = logging.For("enrichment")

// Config mirrors the tunables of spec §4.K.
type Config struct {
	Parallelism      int
	BatchSize        int
	RequestTimeout   time.Duration
	EmptyQueueDelay  time.Duration
	MaxRetries       int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		Parallelism:     5,
		BatchSize:       50,
		RequestTimeout:  25 * time.Second,
		EmptyQueueDelay: 200 * time.Millisecond,
		MaxRetries:      2,
	}
}

// Item is one unit of enrichment work: a definition site to run
// call_hierarchy/references against.
type Item struct {
	Language string
	FilePath string
	Line     int
	Column   int
}

// Source supplies enrichment items; the indexing manager's queue drain
// implements this.
type Source interface {
	// Next returns the next item, or ok=false if the queue is currently
	// empty (not necessarily permanently — the caller should retry after
	// EmptyQueueDelay).
	Next() (item Item, ok bool)
}

// lspClient is the subset of lspmanager.Manager the pool needs, accepted
// as an interface so tests can substitute a stub instead of driving a real
// subprocess pool.
type lspClient interface {
	CallHierarchy(ctx context.Context, language, workspaceRoot, filePath string, line, column int, timeout time.Duration) (lspmanager.CallHierarchyResult, error)
	References(ctx context.Context, language, workspaceRoot, filePath string, line, column int, includeDeclaration bool, timeout time.Duration) ([]adapter.ReferenceLocation, error)
}

// rootResolver is the subset of workspace.Resolver the pool needs.
type rootResolver interface {
	Resolve(filePath string) string
}

// Counters tracks the pool's running totals, read concurrently via the
// atomic accessors.
type Counters struct {
	SymbolsProcessed int64
	SymbolsEnriched  int64
	SymbolsFailed    int64
}

// Pool drives Config.Parallelism workers pulling from a Source.
type Pool struct {
	cfg      Config
	source   Source
	resolver rootResolver
	lsp      lspClient
	router   *dbrouter.Router

	sem      *semaphore.Weighted
	counters Counters
	shutdown int32
	wg       sync.WaitGroup
}

// New builds a pool. resolver/lsp/router are the G/F/H collaborators.
func New(cfg Config, source Source, resolver rootResolver, lsp lspClient, router *dbrouter.Router) *Pool {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultConfig().Parallelism
	}
	return &Pool{
		cfg:      cfg,
		source:   source,
		resolver: resolver,
		lsp:      lsp,
		router:   router,
		sem:      semaphore.NewWeighted(int64(cfg.Parallelism)),
	}
}

// Start launches the pool's workers; they run until ctx is cancelled or
// Stop is called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Parallelism; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}
}

// Stop signals all workers to terminate and waits for them to drain.
func (p *Pool) Stop() {
	atomic.StoreInt32(&p.shutdown, 1)
	p.wg.Wait()
}

func (p *Pool) isShuttingDown() bool {
	return atomic.LoadInt32(&p.shutdown) != 0
}

// Snapshot returns a point-in-time copy of the pool's counters.
func (p *Pool) Snapshot() Counters {
	return Counters{
		SymbolsProcessed: atomic.LoadInt64(&p.counters.SymbolsProcessed),
		SymbolsEnriched:  atomic.LoadInt64(&p.counters.SymbolsEnriched),
		SymbolsFailed:    atomic.LoadInt64(&p.counters.SymbolsFailed),
	}
}

func (p *Pool) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		if p.isShuttingDown() || ctx.Err() != nil {
			return
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		item, ok := p.source.Next()
		if !ok {
			p.sem.Release(1)
			select {
			case <-time.After(p.cfg.EmptyQueueDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		p.process(ctx, item)
		p.sem.Release(1)
	}
}

func (p *Pool) process(ctx context.Context, item Item) {
	atomic.AddInt64(&p.counters.SymbolsProcessed, 1)

	root := p.resolver.Resolve(item.FilePath)
	relPath := relativeSafe(root, item.FilePath)

	var lastErr error
	maxAttempts := p.cfg.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}

		hier, hierErr := p.lsp.CallHierarchy(ctx, item.Language, root, item.FilePath, item.Line, item.Column, p.cfg.RequestTimeout)
		if hierErr != nil {
			lastErr = hierErr
			continue
		}
		refs, refErr := p.lsp.References(ctx, item.Language, root, item.FilePath, item.Line, item.Column, false, p.cfg.RequestTimeout)
		if refErr != nil {
			lastErr = refErr
			continue
		}

		anchorUID := adapter.SymbolUID(relPath, hier.Anchor.Name, hier.Anchor.SelectionRange.StartLine, hier.Anchor.SelectionRange.StartChar, hier.Anchor.Kind)
		symbols := []types.Symbol{{
			UID:          anchorUID,
			FilePath:     item.FilePath,
			Language:     item.Language,
			Name:         hier.Anchor.Name,
			Kind:         hier.Anchor.Kind,
			Def:          hier.Anchor.SelectionRange,
			IsDefinition: true,
		}}
		edges := adapter.FromCallHierarchy(anchorUID, item.Language, hier.Incoming, hier.Outgoing)
		edges = append(edges, adapter.FromReferences(anchorUID, item.Language, refs)...)

		storeErr := p.router.WithStore(ctx, root, func(s *store.Store) error {
			if err := s.StoreSymbols(ctx, symbols); err != nil {
				return err
			}
			return s.StoreEdges(ctx, edges)
		})
		if storeErr != nil {
			lastErr = storeErr
			continue
		}

		atomic.AddInt64(&p.counters.SymbolsEnriched, 1)
		return
	}

	atomic.AddInt64(&p.counters.SymbolsFailed, 1)
	logger.Warn("enrichment failed for %s after %d attempts: %v", item.FilePath, maxAttempts, lastErr)
}

func relativeSafe(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
