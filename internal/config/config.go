// Package config defines the daemon's tunables and loads them from
// .probe.kdl, following the teacher's KDL-based configuration idiom.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// Config is the daemon's full tunable surface. Every field here is either a
// spec-named budget/timeout or a wire default. Only some fields can be set
// from .probe.kdl (the project, queue, discovery, manager, router and
// enrichment settings handled by applyKDL) or from the environment (those
// read by applyEnv); the LSP, store and remaining fields keep their Default
// values.
type Config struct {
	Project    Project
	Queue      Queue
	Discovery  Discovery
	Manager    Manager
	LSP        LSP
	Router     Router
	Store      Store
	Enrichment Enrichment
	Git        Git
	Log        Log
}

type Project struct {
	Root string
	Name string
}

// Queue configures the priority work queue (§4.C).
type Queue struct {
	Capacity int // 0 means Unlimited
}

// Discovery configures the file walker (§4.D).
type Discovery struct {
	Include           []string
	Exclude           []string
	MaxFileBytes      int64
	EnabledLanguages  []string
	BatchSize         int
	DefaultPriority   string
	FollowSymlinks    bool
}

// Manager configures the indexing manager (§4.E).
type Manager struct {
	MaxWorkers               int
	MemoryBudgetBytes        int64
	MemoryPressureThreshold  float64
	MaxRestartsPerMinute     int
	StopGracePeriod          time.Duration
	WatchMode                bool
}

// LSP configures the language server process pool (§4.F).
type LSP struct {
	PoolCapPerLanguage int
	RequestTimeout     time.Duration
	Servers            map[string]ServerCommand
}

// ServerCommand is the executable and args used to spawn a language server.
type ServerCommand struct {
	Command string
	Args    []string
}

// Router configures the workspace database router (§4.H).
type Router struct {
	MaxOpenCaches       int
	MaxParentLookupDepth int
	ForceMemoryOnly     bool
}

// Store configures the persistent store (§4.I).
type Store struct {
	DirOverride string // overrides <workspace_root>/.probe/cache.db when set
}

// Enrichment configures the enrichment worker pool (§4.K).
type Enrichment struct {
	Parallelism      int
	BatchSize        int
	RequestTimeout   time.Duration
	EmptyQueueDelay  time.Duration
	MaxRetries       int
}

// Git configures the git-context collaborator (§4.L).
type Git struct {
	TrackCommits             bool
	PreserveAcrossBranches   bool
	NamespaceByBranch        bool
	AutoDetectChanges        bool
	MaxHistoryDepth          int
	CheckChangesOnRequest    bool
	PeriodicCheckInterval    time.Duration
}

// Log configures the in-memory ring buffer (§4.M).
type Log struct {
	BufferCapacity int
}

// Default returns the baseline configuration before any file/env overrides.
func Default(root string) *Config {
	return &Config{
		Project: Project{Root: root},
		Queue:   Queue{Capacity: 0},
		Discovery: Discovery{
			Exclude:         []string{"*.tmp", "*.log", ".git/**", "node_modules/**", "target/**", ".probe/**"},
			MaxFileBytes:    10 * 1024 * 1024,
			BatchSize:       200,
			DefaultPriority: "medium",
		},
		Manager: Manager{
			MaxWorkers:              4,
			MemoryBudgetBytes:       500 * 1024 * 1024,
			MemoryPressureThreshold: 0.9,
			MaxRestartsPerMinute:    3,
			StopGracePeriod:         5 * time.Second,
		},
		LSP: LSP{
			PoolCapPerLanguage: 2,
			RequestTimeout:     25 * time.Second,
			Servers:            map[string]ServerCommand{},
		},
		Router: Router{
			MaxOpenCaches:        32,
			MaxParentLookupDepth: 10,
		},
		Enrichment: Enrichment{
			Parallelism:     5,
			BatchSize:       50,
			RequestTimeout:  25 * time.Second,
			EmptyQueueDelay: 250 * time.Millisecond,
			MaxRetries:      2,
		},
		Git: Git{
			TrackCommits:          true,
			AutoDetectChanges:     true,
			MaxHistoryDepth:       100,
			PeriodicCheckInterval: 30 * time.Second,
		},
		Log: Log{BufferCapacity: 10000},
	}
}

// Load reads .probe.kdl from root (if present) layered over Default, then
// applies environment overrides from §6.
func Load(root string) (*Config, error) {
	cfg := Default(root)

	kdlPath := filepath.Join(root, ".probe.kdl")
	if content, err := os.ReadFile(kdlPath); err == nil {
		if err := applyKDL(cfg, string(content)); err != nil {
			return nil, fmt.Errorf("parse %s: %w", kdlPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", kdlPath, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PROBE_LSP_LOG_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Log.BufferCapacity = n
		}
	}
	if v := os.Getenv("PROBE_LSP_ENRICHMENT_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Enrichment.Parallelism = n
		}
	}
	if v := os.Getenv("PROBE_LSP_ENRICHMENT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Enrichment.BatchSize = n
		}
	}
	if v := os.Getenv("PROBE_GIT_TRACK_COMMITS"); v != "" {
		cfg.Git.TrackCommits = isTruthy(v)
	}
	if v := os.Getenv("PROBE_GIT_PRESERVE_ACROSS_BRANCHES"); v != "" {
		cfg.Git.PreserveAcrossBranches = isTruthy(v)
	}
	if v := os.Getenv("PROBE_GIT_NAMESPACE_BY_BRANCH"); v != "" {
		cfg.Git.NamespaceByBranch = isTruthy(v)
	}
	if v := os.Getenv("PROBE_GIT_AUTO_DETECT_CHANGES"); v != "" {
		cfg.Git.AutoDetectChanges = isTruthy(v)
	}
	if v := os.Getenv("PROBE_GIT_MAX_HISTORY_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Git.MaxHistoryDepth = n
		}
	}
	if v := os.Getenv("PROBE_GIT_CHECK_CHANGES_ON_REQUEST"); v != "" {
		cfg.Git.CheckChangesOnRequest = isTruthy(v)
	}
	if v := os.Getenv("PROBE_GIT_PERIODIC_CHECK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Git.PeriodicCheckInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PROBE_LSP_WATCH_MODE"); v != "" {
		cfg.Manager.WatchMode = isTruthy(v)
	}
}

func isTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// applyKDL walks the top-level document nodes and layers known sections onto
// cfg. Unknown nodes are ignored rather than rejected — new sections should
// be additive, not breaking, for older config files.
func applyKDL(cfg *Config, content string) error {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return err
	}
	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			applyProjectNode(cfg, n)
		case "queue":
			applyQueueNode(cfg, n)
		case "discovery":
			applyDiscoveryNode(cfg, n)
		case "manager":
			applyManagerNode(cfg, n)
		case "router":
			applyRouterNode(cfg, n)
		case "enrichment":
			applyEnrichmentNode(cfg, n)
		}
	}
	return nil
}

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func childString(n *document.Node, name string) (string, bool) {
	for _, c := range n.Children {
		if nodeName(c) != name {
			continue
		}
		return firstStringArg(c)
	}
	return "", false
}

func childInt(n *document.Node, name string) (int, bool) {
	for _, c := range n.Children {
		if nodeName(c) != name {
			continue
		}
		return firstIntArg(c)
	}
	return 0, false
}

func childBool(n *document.Node, name string) (bool, bool) {
	for _, c := range n.Children {
		if nodeName(c) != name {
			continue
		}
		return firstBoolArg(c)
	}
	return false, false
}

func childStrings(n *document.Node, name string) ([]string, bool) {
	for _, c := range n.Children {
		if nodeName(c) != name {
			continue
		}
		if len(c.Arguments) > 0 {
			var out []string
			for _, a := range c.Arguments {
				out = append(out, fmt.Sprint(a.Value))
			}
			return out, true
		}
		var out []string
		for _, gc := range c.Children {
			if s, ok := firstStringArg(gc); ok {
				out = append(out, s)
			} else if gc.Name != nil {
				if s, ok := gc.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
		return out, true
	}
	return nil, false
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		if i, err := strconv.Atoi(v); err == nil {
			return i, true
		}
	}
	return 0, false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

func applyProjectNode(cfg *Config, n *document.Node) {
	if v, ok := childString(n, "name"); ok {
		cfg.Project.Name = v
	}
}

func applyQueueNode(cfg *Config, n *document.Node) {
	if v, ok := childInt(n, "capacity"); ok {
		cfg.Queue.Capacity = v
	}
}

func applyDiscoveryNode(cfg *Config, n *document.Node) {
	if v, ok := childStrings(n, "include"); ok {
		cfg.Discovery.Include = v
	}
	if v, ok := childStrings(n, "exclude"); ok {
		cfg.Discovery.Exclude = append(cfg.Discovery.Exclude, v...)
	}
	if v, ok := childInt(n, "max-file-bytes"); ok {
		cfg.Discovery.MaxFileBytes = int64(v)
	}
	if v, ok := childInt(n, "batch-size"); ok {
		cfg.Discovery.BatchSize = v
	}
	if v, ok := childBool(n, "follow-symlinks"); ok {
		cfg.Discovery.FollowSymlinks = v
	}
}

func applyManagerNode(cfg *Config, n *document.Node) {
	if v, ok := childInt(n, "max-workers"); ok {
		cfg.Manager.MaxWorkers = v
	}
	if v, ok := childInt(n, "memory-budget-mb"); ok {
		cfg.Manager.MemoryBudgetBytes = int64(v) * 1024 * 1024
	}
	if v, ok := childBool(n, "watch-mode"); ok {
		cfg.Manager.WatchMode = v
	}
}

func applyRouterNode(cfg *Config, n *document.Node) {
	if v, ok := childInt(n, "max-open-caches"); ok {
		cfg.Router.MaxOpenCaches = v
	}
	if v, ok := childBool(n, "force-memory-only"); ok {
		cfg.Router.ForceMemoryOnly = v
	}
}

func applyEnrichmentNode(cfg *Config, n *document.Node) {
	if v, ok := childInt(n, "parallelism"); ok {
		cfg.Enrichment.Parallelism = v
	}
	if v, ok := childInt(n, "batch-size"); ok {
		cfg.Enrichment.BatchSize = v
	}
	if v, ok := childInt(n, "max-retries"); ok {
		cfg.Enrichment.MaxRetries = v
	}
}
