package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveGoModMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644))
	sub := filepath.Join(root, "internal", "pkg")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	file := filepath.Join(sub, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("package pkg"), 0o644))

	r := New()
	assert.Equal(t, root, r.Resolve(file))
}

func TestResolvePHPPrefersComposer(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	sub := filepath.Join(root, "app")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "composer.json"), []byte("{}"), 0o644))
	file := filepath.Join(sub, "index.php")
	require.NoError(t, os.WriteFile(file, []byte("<?php"), 0o644))

	r := New()
	assert.Equal(t, sub, r.Resolve(file))
}

func TestResolveFallsBackToParentDir(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "loose.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	r := New()
	assert.Equal(t, root, r.Resolve(file))
}

func TestResolveCargoWorkspacePrefersWorkspaceRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(`
[workspace]
members = ["crates/foo"]
`), 0o644))
	crateDir := filepath.Join(root, "crates", "foo")
	require.NoError(t, os.MkdirAll(crateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(crateDir, "Cargo.toml"), []byte(`
[package]
name = "foo"
`), 0o644))
	srcFile := filepath.Join(crateDir, "src", "lib.rs")
	require.NoError(t, os.MkdirAll(filepath.Dir(srcFile), 0o755))
	require.NoError(t, os.WriteFile(srcFile, []byte("fn x() {}"), 0o644))

	r := New()
	assert.Equal(t, root, r.Resolve(srcFile))
}

func TestAmendMembershipMemoizedOncePerProcess(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte(`
[workspace]
members = []
`), 0o644))
	crateDir := filepath.Join(root, "crates", "bar")
	require.NoError(t, os.MkdirAll(crateDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(crateDir, "Cargo.toml"), []byte(`
[package]
name = "bar"
`), 0o644))

	r := New()
	r.resolveRustRoot(crateDir)
	r.resolveRustRoot(crateDir)
	assert.Len(t, r.amended, 1)
}
