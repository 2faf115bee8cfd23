// Package daemon wires the components of SPEC_FULL.md into the
// long-running process: the queue/discovery/manager trio (C/D/E), the LSP
// pool (F), the workspace resolver (G), the store router (H/I), the
// LSP-to-DB adapter (J), the enrichment pool (K), git context (L), the log
// ring buffer (M), and the IPC listener/request router (A/B). Graph export
// (N, internal/graphexport) is not wired in here. Grounded on the teacher's internal/server.IndexServer as the
// single place that owns every collaborator and exposes Start/Stop,
// generalized from its HTTP handler registration to this daemon's framed
// RPC router.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/probelsp/internal/adapter"
	"github.com/standardbeagle/probelsp/internal/config"
	"github.com/standardbeagle/probelsp/internal/dbrouter"
	"github.com/standardbeagle/probelsp/internal/discover"
	"github.com/standardbeagle/probelsp/internal/enrichment"
	"github.com/standardbeagle/probelsp/internal/gitctx"
	"github.com/standardbeagle/probelsp/internal/ipc"
	"github.com/standardbeagle/probelsp/internal/logbuffer"
	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/lspmanager"
	"github.com/standardbeagle/probelsp/internal/manager"
	"github.com/standardbeagle/probelsp/internal/rpc"
	"github.com/standardbeagle/probelsp/internal/store"
	"github.com/standardbeagle/probelsp/internal/types"
	"github.com/standardbeagle/probelsp/internal/version"
	"github.com/standardbeagle/probelsp/internal/workspace"
)

var logger = logging.For("daemon")

// Daemon owns every collaborator for the process lifetime.
type Daemon struct {
	cfg *config.Config

	resolver    *workspace.Resolver
	lsp         *lspmanager.Manager
	router      *dbrouter.Router
	idxManager  *manager.Manager
	enrichQueue *enrichment.QueueSource
	enrichPool  *enrichment.Pool
	logs        *logbuffer.Buffer
	rpcRouter   *rpc.Router
	listener    *ipc.Listener

	startTime time.Time

	idMu       sync.Mutex
	projectID  map[string]string // workspace root -> project_id, memoized
	lastCommit map[string]string // workspace root -> last commit a reindex scope was cut from
}

// New builds a Daemon from cfg without starting any goroutines.
func New(cfg *config.Config) (*Daemon, error) {
	d := &Daemon{
		cfg:         cfg,
		resolver:    workspace.New(),
		lsp:         lspmanager.New(toServerCommands(cfg.LSP.Servers), cfg.LSP.PoolCapPerLanguage, cfg.Manager.MaxRestartsPerMinute),
		router:      dbrouter.New(cfg.Router.MaxOpenCaches, cfg.Router.ForceMemoryOnly),
		enrichQueue: enrichment.NewQueueSource(),
		logs:        logbuffer.NewFromEnv(),
		startTime:   time.Now(),
		projectID:   make(map[string]string),
		lastCommit:  make(map[string]string),
	}

	logging.SetSink(d.logs)

	enrichCfg := enrichment.Config{
		Parallelism:     cfg.Enrichment.Parallelism,
		BatchSize:       cfg.Enrichment.BatchSize,
		RequestTimeout:  cfg.Enrichment.RequestTimeout,
		EmptyQueueDelay: cfg.Enrichment.EmptyQueueDelay,
		MaxRetries:      cfg.Enrichment.MaxRetries,
	}
	d.enrichPool = enrichment.New(enrichCfg, d.enrichQueue, d.resolver, d.lsp, d.router)

	managerCfg := manager.Config{
		MaxWorkers:              cfg.Manager.MaxWorkers,
		MemoryBudgetBytes:       cfg.Manager.MemoryBudgetBytes,
		MemoryPressureThreshold: cfg.Manager.MemoryPressureThreshold,
		QueueCapacity:           cfg.Queue.Capacity,
		Discovery: discover.Options{
			Include:      cfg.Discovery.Include,
			Exclude:      cfg.Discovery.Exclude,
			MaxFileBytes: cfg.Discovery.MaxFileBytes,
			BatchSize:    cfg.Discovery.BatchSize,
		},
		EnableWatch: cfg.Manager.WatchMode,
	}
	d.idxManager = manager.New(managerCfg, processorFunc(d.processItem))

	d.rpcRouter = rpc.New()
	d.registerHandlers()

	return d, nil
}

type processorFunc func(ctx context.Context, item types.QueueItem) (int, error)

func (f processorFunc) Process(ctx context.Context, item types.QueueItem) (int, error) {
	return f(ctx, item)
}

func toServerCommands(servers map[string]config.ServerCommand) map[string]lspmanager.ServerCommand {
	out := make(map[string]lspmanager.ServerCommand, len(servers))
	for lang, sc := range servers {
		out[lang] = lspmanager.ServerCommand{Command: sc.Command, Args: sc.Args}
	}
	return out
}

// processItem implements manager.Processor: it extracts a file's document
// symbols (F/J), persists them (H/I), and feeds the enrichment queue (K)
// one item per definition found.
func (d *Daemon) processItem(ctx context.Context, item types.QueueItem) (int, error) {
	root := d.resolver.Resolve(item.FilePath)
	if err := d.ensureProject(ctx, root); err != nil {
		logger.Warn("ensure project for %s: %v", root, err)
	}

	relPath := relativeSafe(root, item.FilePath)
	outline, err := d.lsp.DocumentSymbols(ctx, item.Language, root, item.FilePath, d.cfg.LSP.RequestTimeout)
	if err != nil {
		return 0, err
	}

	symbols := adapter.FromDocumentSymbols(item.FilePath, item.Language, relPath, outline)
	if len(symbols) == 0 {
		return 0, nil
	}

	if err := d.router.WithStore(ctx, root, func(s *store.Store) error {
		return s.StoreSymbols(ctx, symbols)
	}); err != nil {
		return 0, fmt.Errorf("store symbols for %s: %w", item.FilePath, err)
	}

	items := make([]enrichment.Item, 0, len(symbols))
	for _, sym := range symbols {
		items = append(items, enrichment.Item{
			Language: item.Language,
			FilePath: item.FilePath,
			Line:     sym.Def.StartLine,
			Column:   sym.Def.StartChar,
		})
	}
	d.enrichQueue.Push(items...)

	return len(symbols), nil
}

// ensureProject memoizes one project_id per workspace root and writes the
// project/workspace rows on first sight, per §3's Project/Workspace model.
func (d *Daemon) ensureProject(ctx context.Context, root string) error {
	d.idMu.Lock()
	_, known := d.projectID[root]
	d.idMu.Unlock()
	if known {
		return nil
	}

	projectID := uuid.NewString()
	workspaceID := uuid.NewString()

	branch := ""
	if gp, err := gitctx.NewProvider(ctx, root); err == nil && gp != nil {
		if snap, snapErr := gp.Snapshot(ctx); snapErr == nil {
			branch = snap.Branch
			d.idMu.Lock()
			d.lastCommit[root] = snap.Commit
			d.idMu.Unlock()
		}
	}

	err := d.router.WithStore(ctx, root, func(s *store.Store) error {
		if err := s.EnsureProject(ctx, projectID, root, root); err != nil {
			return err
		}
		return s.CreateWorkspace(ctx, workspaceID, root, projectID, branch)
	})
	if err != nil {
		return err
	}

	d.idMu.Lock()
	d.projectID[root] = projectID
	d.idMu.Unlock()
	return nil
}

func relativeSafe(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// StartIndexing begins an indexing run rooted at root (§4.E). A second call
// for a root already being served is treated as a rescan request: rather
// than the indexing manager's own no-op, it derives the git change-set
// since the last commit seen for root (§4.L) and re-enqueues just those
// files, scoping the rescan instead of repeating a full walk.
func (d *Daemon) StartIndexing(ctx context.Context, root string) error {
	if activeRoot, running := d.idxManager.ActiveRoot(); running && activeRoot == root {
		n, err := d.reindexChanged(ctx, root)
		if err != nil {
			logger.Warn("git-scoped reindex for %s failed: %v", root, err)
			return nil
		}
		logger.Info("git-scoped reindex for %s enqueued %d changed files", root, n)
		return nil
	}
	return d.idxManager.StartIndexing(ctx, root)
}

// reindexChanged re-enqueues the files gitctx reports as changed since the
// commit last recorded for root, advancing that commit on success. It is a
// no-op (0, nil) when root has no git context yet or no baseline commit has
// been recorded.
func (d *Daemon) reindexChanged(ctx context.Context, root string) (int, error) {
	d.idMu.Lock()
	baseCommit, known := d.lastCommit[root]
	d.idMu.Unlock()
	if !known {
		return 0, nil
	}

	gp, err := gitctx.NewProvider(ctx, root)
	if err != nil || gp == nil {
		return 0, nil
	}

	changed, err := gp.ChangedSince(ctx, baseCommit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range changed {
		if f.Status == gitctx.StatusDeleted {
			continue
		}
		if d.idxManager.EnqueuePath(filepath.Join(gp.RepoRoot(), f.Path)) {
			n++
		}
	}

	if snap, err := gp.Snapshot(ctx); err == nil {
		d.idMu.Lock()
		d.lastCommit[root] = snap.Commit
		d.idMu.Unlock()
	}
	return n, nil
}

// StopIndexing halts the active indexing run.
func (d *Daemon) StopIndexing() error {
	return d.idxManager.StopIndexing()
}

// Serve binds the IPC listener and runs until ctx is cancelled or Shutdown
// is requested over RPC.
func (d *Daemon) Serve(ctx context.Context, socketPath string) error {
	l, err := ipc.Listen(socketPath)
	if err != nil {
		return err
	}
	d.listener = l

	d.enrichPool.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve(func(body []byte) []byte { return d.rpcRouter.Dispatch(ctx, body) }) }()

	logger.Info("daemon listening on %s", socketPath)

	select {
	case <-ctx.Done():
		d.shutdownInternal()
		return nil
	case err := <-errCh:
		return err
	}
}

func (d *Daemon) shutdownInternal() {
	logger.Info("daemon shutting down")
	if d.listener != nil {
		_ = d.listener.Close()
	}
	d.enrichPool.Stop()
	if d.idxManager != nil {
		_ = d.idxManager.StopIndexing()
	}
	d.lsp.Shutdown()
	_ = d.router.CloseAll()
}
