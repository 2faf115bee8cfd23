package manager

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/standardbeagle/probelsp/internal/discover"
)

// watchDebounce collapses the burst of events a single save typically
// produces (write + chmod, editors that write-then-rename) into one
// re-enqueue per path, grounded on the teacher's eventDebouncer in
// internal/indexing/watcher.go.
const watchDebounce = 300 * time.Millisecond

// StartWatching adds an fsnotify watch to every directory under root not
// excluded by the manager's discovery options, and re-enqueues changed files
// at PriorityHigh as events arrive. It runs until ctx is cancelled. Grounded
// on the teacher's FileWatcher.Start/addWatches/processEvents shape,
// simplified from the teacher's create/write/remove callback trio to this
// daemon's single re-enqueue action (the indexing manager's failure/drop
// accounting already handles a file that has since been deleted).
func (m *Manager) StartWatching(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	opts := m.cfg.Discovery
	opts.Root = root

	if err := addWatchesRecursive(watcher, root, opts); err != nil {
		watcher.Close()
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer watcher.Close()
		m.runWatchLoop(ctx, watcher)
	}()

	return nil
}

func addWatchesRecursive(watcher *fsnotify.Watcher, root string, opts discover.Options) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil || !d.IsDir() {
			return nil
		}
		real, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil
		}
		if visited[real] {
			return filepath.SkipDir
		}
		visited[real] = true

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = "."
		}
		rel = filepath.ToSlash(rel)
		if discover.ExcludesDir(rel, opts.Exclude) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			logger.Warn("watch: failed to add %s: %v", path, err)
		}
		return nil
	})
}

func (m *Manager) runWatchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	pending := make(map[string]struct{})
	var mu sync.Mutex
	timer := time.NewTimer(watchDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	timerArmed := false

	flush := func() {
		mu.Lock()
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		pending = make(map[string]struct{})
		mu.Unlock()

		for _, p := range paths {
			m.EnqueuePath(p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mu.Lock()
			pending[ev.Name] = struct{}{}
			mu.Unlock()
			if !timerArmed {
				timer.Reset(watchDebounce)
				timerArmed = true
			}
		case <-timer.C:
			timerArmed = false
			flush()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watch: fsnotify error: %v", err)
		}
	}
}
