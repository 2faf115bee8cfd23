package gitctx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644))
	run("add", "a.txt")
	run("commit", "-q", "-m", "initial")
	return dir
}

func TestNewProviderResolvesTopLevel(t *testing.T) {
	dir := initRepo(t)
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	p, err := NewProvider(context.Background(), sub)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, dir, p.RepoRoot())
}

func TestSnapshotReportsBranchAndDirty(t *testing.T) {
	dir := initRepo(t)
	p, err := NewProvider(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, p)

	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "main", snap.Branch)
	assert.False(t, snap.Dirty)
	assert.Len(t, snap.Commit, 40)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two"), 0o644))
	snap, err = p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Dirty)
	assert.Contains(t, snap.ShortID(), "*")
}

func TestChangedSinceReportsModifiedFile(t *testing.T) {
	dir := initRepo(t)
	p, err := NewProvider(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two"), 0o644))
	changed, err := p.ChangedSince(context.Background(), "HEAD")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "a.txt", changed[0].Path)
	assert.Equal(t, StatusModified, changed[0].Status)
}

func TestChangedSinceIncludesUntrackedFiles(t *testing.T) {
	dir := initRepo(t)
	p, err := NewProvider(context.Background(), dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new"), 0o644))
	changed, err := p.ChangedSince(context.Background(), "HEAD")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "b.txt", changed[0].Path)
	assert.Equal(t, StatusUntracked, changed[0].Status)
}

func TestNewProviderOutsideGitReturnsNilWithoutError(t *testing.T) {
	dir := t.TempDir()
	p, err := NewProvider(context.Background(), dir)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestNewProviderSkipsInCI(t *testing.T) {
	t.Setenv("CI", "true")
	dir := initRepo(t)
	p, err := NewProvider(context.Background(), dir)
	require.NoError(t, err)
	assert.Nil(t, p)
}
