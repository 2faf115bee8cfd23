// Package discover implements the file discovery walker of spec §4.D: a
// depth-first walk honoring include/exclude globs and a per-file size cap,
// batching accepted paths into queue items.
package discover

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/probelsp/internal/logging"
	"github.com/standardbeagle/probelsp/internal/types"
)

var logger = logging.For("discover")

// Options configures one discovery pass.
type Options struct {
	Root             string
	Include          []string
	Exclude          []string
	MaxFileBytes     int64
	EnabledLanguages map[string]bool // nil or empty means all languages
	BatchSize        int
	DefaultPriority  types.Priority
}

// Sink receives discovered batches. BatchDiscovered returns false to ask the
// walk to stop (used for back-pressure pause per §4.E).
type Sink interface {
	BatchDiscovered(ctx context.Context, batch []types.QueueItem) (accept bool)
}

// Walk performs one depth-first traversal of opts.Root, grouping accepted
// files into batches of up to opts.BatchSize and handing each to sink.
// Symlinks that resolve outside root are never followed.
func Walk(ctx context.Context, opts Options, sink Sink, nextID func() uint64) (discovered int, err error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	var batch []types.QueueItem
	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		ok := sink.BatchDiscovered(ctx, batch)
		batch = batch[:0]
		return ok
	}

	walkErr := filepath.WalkDir(opts.Root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // skip unreadable entries, never abort the whole walk
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil {
				return nil
			}
			if rel, err := filepath.Rel(opts.Root, resolved); err != nil || strings.HasPrefix(rel, "..") {
				return nil
			}
		}

		rel, err := filepath.Rel(opts.Root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !accept(rel, opts) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if opts.MaxFileBytes > 0 && info.Size() > opts.MaxFileBytes {
			return nil
		}

		lang := LanguageForPath(path)
		if len(opts.EnabledLanguages) > 0 && !opts.EnabledLanguages[lang] {
			return nil
		}

		discovered++
		batch = append(batch, types.QueueItem{
			ID:       nextID(),
			Priority: opts.DefaultPriority,
			FilePath: path,
			EstSize:  info.Size(),
			Language: lang,
		})
		if len(batch) >= batchSize {
			if !flush() {
				return errStopRequested
			}
		}
		return nil
	})

	if walkErr == errStopRequested {
		logger.Info("discovery paused by sink back-pressure after %d files", discovered)
		return discovered, nil
	}
	if walkErr != nil {
		return discovered, walkErr
	}
	flush()
	return discovered, nil
}

var errStopRequested = stopRequested{}

type stopRequested struct{}

func (stopRequested) Error() string { return "discovery stopped by sink" }

// ExcludesDir reports whether a relative directory path matches any exclude
// glob, either directly or as an ancestor of the pattern's own root. Used by
// the fsnotify watcher to decide which directories are worth a watch.
func ExcludesDir(relDir string, exclude []string) bool {
	if relDir == "" || relDir == "." {
		return false
	}
	for _, pattern := range exclude {
		trimmed := strings.TrimSuffix(pattern, "/**")
		if ok, _ := doublestar.Match(trimmed, relDir); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, relDir); ok {
			return true
		}
	}
	return false
}

// EvaluatePath applies the same include/exclude/size/language filters Walk
// uses to a single absolute path, returning the queue item that would have
// been produced and whether it passes. Used by the fsnotify-driven watcher
// to decide whether a changed file deserves re-enqueueing without rerunning
// a full tree walk.
func EvaluatePath(absPath string, opts Options) (types.QueueItem, bool) {
	rel, err := filepath.Rel(opts.Root, absPath)
	if err != nil {
		return types.QueueItem{}, false
	}
	rel = filepath.ToSlash(rel)
	if !accept(rel, opts) {
		return types.QueueItem{}, false
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return types.QueueItem{}, false
	}
	if opts.MaxFileBytes > 0 && info.Size() > opts.MaxFileBytes {
		return types.QueueItem{}, false
	}

	lang := LanguageForPath(absPath)
	if len(opts.EnabledLanguages) > 0 && !opts.EnabledLanguages[lang] {
		return types.QueueItem{}, false
	}

	return types.QueueItem{
		Priority: types.PriorityHigh,
		FilePath: absPath,
		EstSize:  info.Size(),
		Language: lang,
	}, true
}

func accept(relPath string, opts Options) bool {
	if len(opts.Include) > 0 {
		included := false
		for _, pattern := range opts.Include {
			if ok, _ := doublestar.Match(pattern, relPath); ok {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, pattern := range opts.Exclude {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return false
		}
	}
	return true
}

// LanguageForPath maps a file extension to a language hint. The mapping is
// intentionally small — the canonical language identification for LSP
// dispatch lives in the LSP server manager's configured server set (§4.F);
// this is only an extension-based hint, used both for discovery-time
// EnabledLanguages filtering and by callers (e.g. the daemon's RPC handlers)
// that need to guess a file's language without a server-map lookup.
func LanguageForPath(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".py":
		return "python"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".php":
		return "php"
	case ".java":
		return "java"
	case ".cs":
		return "csharp"
	case ".cpp", ".cc", ".hpp", ".h":
		return "cpp"
	default:
		return ""
	}
}
