// Package gitctx captures git repository context for spec §4.L: current
// branch and commit, a short display id, and the set of files changed since
// a baseline ref. Grounded directly on the teacher's
// internal/git/provider.go — exec.CommandContext subprocess invocation of
// the git CLI, repo-root resolution via "git rev-parse --show-toplevel",
// and "diff --name-status" parsing — generalized from the teacher's
// analysis-scope diffing to the daemon's branch/commit tracking contract.
package gitctx

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/probelsp/internal/logging"
)

var logger = logging.For("gitctx")

// ChangeStatus mirrors a git name-status letter.
type ChangeStatus string

const (
	StatusAdded     ChangeStatus = "added"
	StatusModified  ChangeStatus = "modified"
	StatusDeleted   ChangeStatus = "deleted"
	StatusRenamed   ChangeStatus = "renamed"
	StatusUntracked ChangeStatus = "untracked"
)

// ChangedFile is one entry of a name-status diff.
type ChangedFile struct {
	Path    string
	OldPath string
	Status  ChangeStatus
}

// Snapshot is the git context of a workspace at one point in time.
type Snapshot struct {
	Branch    string
	Commit    string
	Dirty     bool
	RepoRoot  string
	RemoteURL string
}

// ShortID renders "{branch}@{hash[:8]}", with a trailing "*" if the
// working tree has uncommitted changes, matching the original daemon's
// compact display format.
func (s Snapshot) ShortID() string {
	hash := s.Commit
	if len(hash) > 8 {
		hash = hash[:8]
	}
	id := fmt.Sprintf("%s@%s", s.Branch, hash)
	if s.Dirty {
		id += "*"
	}
	return id
}

// inCI reports whether well-known CI environment variables are set. Git
// context capture is skipped in CI per spec §4.L — ephemeral checkouts
// make branch/commit tracking across runs meaningless.
func inCI() bool {
	return os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""
}

// Provider wraps the git CLI for one repository root.
type Provider struct {
	repoRoot string
}

// NewProvider resolves root to its containing git repository's top level.
// Returns (nil, nil) — not an error — when root is not inside a git
// repository or CI env vars are set, signaling "no git context available"
// rather than a hard failure; callers (the daemon's ensureProject and
// reindexChanged) treat a nil provider as "proceed without git context".
func NewProvider(ctx context.Context, root string) (*Provider, error) {
	if inCI() {
		logger.Info("git context capture skipped: running in CI")
		return nil, nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid repo root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = absRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}

	return &Provider{repoRoot: strings.TrimSpace(string(out))}, nil
}

// RepoRoot returns the resolved git top-level directory.
func (p *Provider) RepoRoot() string { return p.repoRoot }

// Snapshot captures the current branch, commit, and dirty state.
func (p *Provider) Snapshot(ctx context.Context) (Snapshot, error) {
	branch, err := p.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve branch: %w", err)
	}
	commit, err := p.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve commit: %w", err)
	}
	status, err := p.run(ctx, "status", "--porcelain")
	if err != nil {
		return Snapshot{}, fmt.Errorf("check dirty state: %w", err)
	}

	remote, err := p.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		remote = "" // no remote configured is routine, not an error
	}

	return Snapshot{
		Branch:    branch,
		Commit:    commit,
		Dirty:     status != "",
		RepoRoot:  p.repoRoot,
		RemoteURL: remote,
	}, nil
}

// ChangedSince returns the set of files that differ between baseRef and the
// current working tree, used to derive a reindex scope after a branch
// switch or a pull. It unions baseRef..worktree diffs (tracked changes, any
// state from staged through unstaged) with untracked files, mirroring the
// original's get_changed_files_since_commit cached+unstaged+untracked union.
func (p *Provider) ChangedSince(ctx context.Context, baseRef string) ([]ChangedFile, error) {
	if baseRef == "" {
		baseRef = "HEAD"
	}
	cmd := exec.CommandContext(ctx, "git", "diff", baseRef, "--name-status", "--no-renames")
	cmd.Dir = p.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff %s failed: %w", baseRef, err)
	}
	files, err := parseNameStatus(out)
	if err != nil {
		return nil, err
	}

	untracked, err := p.untrackedFiles(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.Path] = true
	}
	for _, path := range untracked {
		if seen[path] {
			continue
		}
		files = append(files, ChangedFile{Path: path, Status: StatusUntracked})
		seen[path] = true
	}
	return files, nil
}

// untrackedFiles lists files present in the working tree but never added to
// the index, via "git ls-files --others --exclude-standard" (the same query
// the original uses to round out its changed-file set).
func (p *Provider) untrackedFiles(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--others", "--exclude-standard")
	cmd.Dir = p.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git ls-files --others failed: %w", err)
	}

	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, scanner.Err()
}

func (p *Provider) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = p.repoRoot
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func parseNameStatus(output []byte) ([]ChangedFile, error) {
	var files []ChangedFile
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		status := parts[0]
		path := parts[len(parts)-1]
		oldPath := ""
		if len(parts) >= 3 && (status[0] == 'R' || status[0] == 'C') {
			oldPath = parts[1]
		}

		files = append(files, ChangedFile{
			Path:    path,
			OldPath: oldPath,
			Status:  statusFromLetter(status),
		})
	}
	return files, scanner.Err()
}

func statusFromLetter(status string) ChangeStatus {
	if len(status) == 0 {
		return StatusModified
	}
	switch status[0] {
	case 'A':
		return StatusAdded
	case 'D':
		return StatusDeleted
	case 'R', 'C':
		return StatusRenamed
	default:
		return StatusModified
	}
}
