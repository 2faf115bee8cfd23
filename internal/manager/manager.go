// Package manager implements the indexing manager of spec §4.E: it owns the
// queue (C), drives discovery (D) into it, and runs a pool of workers that
// drain the queue through an injected Processor (the daemon wires this to
// F/J/H/I, i.e. lspmanager+adapter+dbrouter/store, directly or via the
// enrichment pool of §4.K). It also tracks progress, enforces the
// three-consecutive-failure drop rule, and applies discovery back-pressure
// against a memory budget.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/probelsp/internal/discover"
	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/queue"
	"github.com/standardbeagle/probelsp/internal/types"
)

var logger = logging.For("manager")

// ErrAlreadyIndexing is returned by Start when another root is already
// being indexed.
var ErrAlreadyIndexing = fmt.Errorf("manager: already indexing another root")

// ErrNotIndexing is returned by Stop when no indexing run is active.
var ErrNotIndexing = fmt.Errorf("manager: no indexing run active")

// Processor performs the actual work for one queue item (documentSymbol
// extraction and enrichment). It returns the number of symbols extracted
// from the item so Progress.SymbolsExtracted stays accurate.
type Processor interface {
	Process(ctx context.Context, item types.QueueItem) (symbolsExtracted int, err error)
}

// Config bundles the manager's tunables, mirroring config.Manager plus the
// discovery/queue settings it drives.
type Config struct {
	MaxWorkers              int
	MemoryBudgetBytes       int64
	MemoryPressureThreshold float64
	QueueCapacity           int
	Discovery               discover.Options
	EnableWatch             bool
}

// Progress is the point-in-time counter set exposed by GetProgress.
type Progress struct {
	Discovered       int64
	Enqueued         int64
	Processed        int64
	Failed           int64
	SymbolsExtracted int64
	ActiveWorkers    int32
	Root             string
	Paused           bool
}

// Manager owns one active indexing run at a time.
type Manager struct {
	cfg       Config
	q         *queue.Queue
	processor Processor

	mu      sync.Mutex
	running bool
	root    string
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	progress  Progress
	failures  map[string]int
	failMu    sync.Mutex

	discoveryDone int32 // set to 1 once the active run's discovery walk has returned
}

// New builds a manager. processor is the daemon's collaborator wiring
// F/J/H/I (or the enrichment pool) into a single per-item call.
func New(cfg Config, processor Processor) *Manager {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MemoryPressureThreshold <= 0 {
		cfg.MemoryPressureThreshold = 0.9
	}
	return &Manager{
		cfg:       cfg,
		q:         queue.New(cfg.QueueCapacity),
		processor: processor,
		failures:  make(map[string]int),
	}
}

// Queue exposes the underlying queue, e.g. for an enrichment Source adapter
// or for the IPC layer's status reporting.
func (m *Manager) Queue() *queue.Queue { return m.q }

// ActiveRoot reports the root of the currently running indexing pass, if
// any, letting a caller distinguish "first index" from "already indexing
// this root" without racing StartIndexing's own idempotency check.
func (m *Manager) ActiveRoot() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.root, m.running
}

// EnqueuePath evaluates absPath against the active run's discovery filters
// and enqueues it at PriorityHigh if accepted. It is the single-file
// counterpart to StartIndexing's full walk, used by the fsnotify watcher
// and by git-scoped reindexing (§4.L) to re-enqueue a known set of changed
// files without rerunning discovery over the whole tree.
func (m *Manager) EnqueuePath(absPath string) bool {
	m.mu.Lock()
	opts := m.cfg.Discovery
	opts.Root = m.root
	m.mu.Unlock()

	item, ok := discover.EvaluatePath(absPath, opts)
	if !ok {
		return false
	}
	item.ID = m.q.NextID()
	if !m.q.Enqueue(item) {
		return false
	}
	atomic.AddInt64(&m.progress.Enqueued, 1)
	return true
}

// StartIndexing begins a discovery + worker run rooted at root. It is
// idempotent if root is already the active run, and fails with
// ErrAlreadyIndexing if a different root is active.
func (m *Manager) StartIndexing(ctx context.Context, root string) error {
	m.mu.Lock()
	if m.running {
		if m.root == root {
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return ErrAlreadyIndexing
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.root = root
	m.cancel = cancel
	m.progress = Progress{Root: root}
	atomic.StoreInt32(&m.discoveryDone, 0)
	m.mu.Unlock()

	m.failMu.Lock()
	m.failures = make(map[string]int)
	m.failMu.Unlock()

	opts := m.cfg.Discovery
	opts.Root = root

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		discovered, err := discover.Walk(runCtx, opts, m, m.q.NextID)
		if err != nil {
			logger.Warn("discovery for %s ended with error: %v", root, err)
		}
		atomic.StoreInt64(&m.progress.Discovered, int64(discovered))

		if m.cfg.EnableWatch {
			if werr := m.StartWatching(runCtx, root); werr != nil {
				logger.Warn("watch mode failed to start for %s: %v", root, werr)
			}
		}
		atomic.StoreInt32(&m.discoveryDone, 1)
	}()

	for i := 0; i < m.cfg.MaxWorkers; i++ {
		m.wg.Add(1)
		go m.workerLoop(runCtx)
	}

	return nil
}

// BatchDiscovered implements discover.Sink: it enqueues the batch and
// applies back-pressure once the queue's estimated byte total crosses
// MemoryPressureThreshold x MemoryBudgetBytes, resuming once it drops below
// 0.9x that threshold.
func (m *Manager) BatchDiscovered(ctx context.Context, batch []types.QueueItem) bool {
	oks := m.q.EnqueueBatch(batch)
	accepted := 0
	for _, ok := range oks {
		if ok {
			accepted++
		}
	}
	atomic.AddInt64(&m.progress.Enqueued, int64(accepted))

	if m.cfg.MemoryBudgetBytes <= 0 {
		return true
	}
	metrics := m.q.GetMetrics()
	pauseAt := m.cfg.MemoryPressureThreshold * float64(m.cfg.MemoryBudgetBytes)
	resumeAt := 0.9 * pauseAt

	ratio := float64(metrics.EstimatedTotalBytes)
	if ratio > pauseAt {
		m.q.Pause()
		m.mu.Lock()
		m.progress.Paused = true
		m.mu.Unlock()
		logger.Warn("discovery paused: estimated queue bytes %d exceeds threshold %.0f", metrics.EstimatedTotalBytes, pauseAt)
		return false
	}
	if ratio < resumeAt && m.q.IsPaused() {
		m.q.Resume()
		m.mu.Lock()
		m.progress.Paused = false
		m.mu.Unlock()
	}
	return !m.q.IsPaused()
}

func (m *Manager) workerLoop(ctx context.Context) {
	defer m.wg.Done()
	atomic.AddInt32(&m.progress.ActiveWorkers, 1)
	defer atomic.AddInt32(&m.progress.ActiveWorkers, -1)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok := m.q.Dequeue()
		if !ok {
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		n, err := m.processor.Process(ctx, item)
		atomic.AddInt64(&m.progress.Processed, 1)
		if err != nil {
			m.recordFailure(item, err)
			continue
		}
		atomic.AddInt64(&m.progress.SymbolsExtracted, int64(n))
		m.clearFailures(item)
	}
}

// recordFailure logs a worker error without aborting the pool, and drops
// the item after three consecutive failures for the same path.
func (m *Manager) recordFailure(item types.QueueItem, err error) {
	atomic.AddInt64(&m.progress.Failed, 1)
	logger.Warn("indexing item %s failed: %v", item.FilePath, err)

	m.failMu.Lock()
	m.failures[item.FilePath]++
	count := m.failures[item.FilePath]
	m.failMu.Unlock()

	if count >= 3 {
		logger.Warn("dropping %s after %d consecutive failures", item.FilePath, count)
		m.failMu.Lock()
		delete(m.failures, item.FilePath)
		m.failMu.Unlock()
		return
	}

	// Requeue at low priority for a later retry; never abort the pool.
	item.Priority = types.PriorityLow
	m.q.Enqueue(item)
}

func (m *Manager) clearFailures(item types.QueueItem) {
	m.failMu.Lock()
	delete(m.failures, item.FilePath)
	m.failMu.Unlock()
}

// StopIndexing cancels the active run and waits for its workers to drain.
func (m *Manager) StopIndexing() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotIndexing
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.root = ""
	m.mu.Unlock()
	return nil
}

// GetProgress returns a point-in-time snapshot of the run's counters.
func (m *Manager) GetProgress() Progress {
	m.mu.Lock()
	root := m.root
	paused := m.progress.Paused
	m.mu.Unlock()

	return Progress{
		Discovered:       atomic.LoadInt64(&m.progress.Discovered),
		Enqueued:         atomic.LoadInt64(&m.progress.Enqueued),
		Processed:        atomic.LoadInt64(&m.progress.Processed),
		Failed:           atomic.LoadInt64(&m.progress.Failed),
		SymbolsExtracted: atomic.LoadInt64(&m.progress.SymbolsExtracted),
		ActiveWorkers:    atomic.LoadInt32(&m.progress.ActiveWorkers),
		Root:             root,
		Paused:           paused,
	}
}

// IsComplete reports whether the queue has fully drained and discovery has
// finished for the active run. A manager with no active run is complete.
func (m *Manager) IsComplete() bool {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return true
	}
	metrics := m.q.GetMetrics()
	return atomic.LoadInt32(&m.discoveryDone) == 1 && metrics.Total == 0 && atomic.LoadInt64(&m.progress.Processed) >= atomic.LoadInt64(&m.progress.Enqueued)
}
