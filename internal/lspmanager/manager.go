package lspmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/standardbeagle/probelsp/internal/adapter"
)

// ServerCommand names the executable and arguments used to spawn a
// language's LSP server.
type ServerCommand struct {
	Command string
	Args    []string
}

// ErrLspUnavailable is returned for a language raised to the degraded
// state after exceeding its restart budget.
var ErrLspUnavailable = fmt.Errorf("lspmanager: language unavailable (degraded)")

// ErrPoolCapReached is returned when every pooled server for a language is
// busy and the pool is already at its cap.
var ErrPoolCapReached = fmt.Errorf("lspmanager: pool at capacity")

type languagePool struct {
	mu           sync.Mutex
	servers      []*server
	restartTimes []time.Time
	degraded     bool
}

// Manager owns one pool of subprocess servers per language.
type Manager struct {
	commands    map[string]ServerCommand
	poolCap     int
	maxRestarts int
	spawn       func(ctx context.Context, language, root, command string, args []string) (*server, error)

	mu    sync.Mutex
	pools map[string]*languagePool
}

// New creates a manager. poolCap bounds concurrently running servers per
// language, across all of its roots; maxRestarts bounds restarts per language per
// minute before it is marked degraded.
func New(commands map[string]ServerCommand, poolCap, maxRestarts int) *Manager {
	if poolCap <= 0 {
		poolCap = 4
	}
	if maxRestarts <= 0 {
		maxRestarts = 3
	}
	return &Manager{
		commands:    commands,
		poolCap:     poolCap,
		maxRestarts: maxRestarts,
		spawn:       func(ctx context.Context, language, root, command string, args []string) (*server, error) { return newServer(ctx, language, root, command, args) },
		pools:       make(map[string]*languagePool),
	}
}

func (m *Manager) poolFor(language string) *languagePool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[language]
	if !ok {
		p = &languagePool{}
		m.pools[language] = p
	}
	return p
}

// IsDegraded reports whether language has exceeded its restart budget.
func (m *Manager) IsDegraded(language string) bool {
	p := m.poolFor(language)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded
}

// acquire returns a non-exited, non-suspect server already bound to root,
// whether or not it has requests in flight, or spawns one for (language,
// root) if the pool has capacity.
func (m *Manager) acquire(ctx context.Context, language, root string) (*server, error) {
	p := m.poolFor(language)

	p.mu.Lock()
	if p.degraded {
		p.mu.Unlock()
		return nil, ErrLspUnavailable
	}
	// Drop exited servers lazily.
	alive := p.servers[:0]
	for _, s := range p.servers {
		if !s.isExited() {
			alive = append(alive, s)
		}
	}
	p.servers = alive

	for _, s := range p.servers {
		if s.root == root && !s.isSuspect() {
			p.mu.Unlock()
			return s, nil
		}
	}
	if len(p.servers) >= m.poolCap {
		p.mu.Unlock()
		return nil, ErrPoolCapReached
	}
	p.mu.Unlock()

	cmd, ok := m.commands[language]
	if !ok {
		return nil, fmt.Errorf("lspmanager: no server configured for language %q", language)
	}
	s, err := m.spawn(ctx, language, root, cmd.Command, cmd.Args)
	if err != nil {
		return nil, fmt.Errorf("spawn %s server: %w", language, err)
	}

	p.mu.Lock()
	p.servers = append(p.servers, s)
	p.mu.Unlock()
	return s, nil
}

// restart records a restart attempt for language, raising it to degraded
// once more than maxRestarts occur within the trailing minute.
func (m *Manager) restart(language string) {
	p := m.poolFor(language)
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := p.restartTimes[:0]
	for _, t := range p.restartTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	p.restartTimes = append(kept, now)

	if len(p.restartTimes) > m.maxRestarts {
		p.degraded = true
		logger.Warn("language %s marked degraded after %d restarts in the last minute", language, len(p.restartTimes))
	}
}

// CallHierarchyResult is the anchor symbol plus its incoming and outgoing
// calls, ready for adapter.FromCallHierarchy.
type CallHierarchyResult struct {
	Anchor   adapter.CallHierarchyItem
	Incoming []adapter.IncomingCall
	Outgoing []adapter.OutgoingCall
}

// CallHierarchy resolves the call hierarchy anchored at (file, line, column).
func (m *Manager) CallHierarchy(ctx context.Context, language, workspaceRoot, filePath string, line, column int, timeout time.Duration) (CallHierarchyResult, error) {
	s, err := m.acquire(ctx, language, workspaceRoot)
	if err != nil {
		return CallHierarchyResult{}, err
	}

	prepareParams, _ := json.Marshal(map[string]any{
		"textDocument": map[string]any{"uri": adapter.PathToURI(filePath)},
		"position":     map[string]any{"line": line, "character": column},
	})
	prepared, err := s.call(ctx, "textDocument/prepareCallHierarchy", prepareParams, timeout)
	if err != nil {
		m.handleCallError(language, s, err)
		return CallHierarchyResult{}, err
	}

	var items []wireCallHierarchyItem
	if err := json.Unmarshal(prepared, &items); err != nil || len(items) == 0 {
		return CallHierarchyResult{}, fmt.Errorf("lspmanager: prepareCallHierarchy returned no items")
	}
	anchorWire := items[0]
	anchor, err := anchorWire.toAdapter(workspaceRoot)
	if err != nil {
		return CallHierarchyResult{}, err
	}

	incomingParams, _ := json.Marshal(map[string]any{"item": anchorWire})
	incomingRaw, err := s.call(ctx, "callHierarchy/incomingCalls", incomingParams, timeout)
	if err != nil {
		m.handleCallError(language, s, err)
		return CallHierarchyResult{}, err
	}
	outgoingRaw, err := s.call(ctx, "callHierarchy/outgoingCalls", incomingParams, timeout)
	if err != nil {
		m.handleCallError(language, s, err)
		return CallHierarchyResult{}, err
	}

	incoming, err := parseIncomingCalls(incomingRaw, workspaceRoot)
	if err != nil {
		return CallHierarchyResult{}, err
	}
	outgoing, err := parseOutgoingCalls(outgoingRaw, workspaceRoot)
	if err != nil {
		return CallHierarchyResult{}, err
	}

	return CallHierarchyResult{Anchor: anchor, Incoming: incoming, Outgoing: outgoing}, nil
}

// References resolves reference locations for the symbol at (file, line, column).
func (m *Manager) References(ctx context.Context, language, workspaceRoot, filePath string, line, column int, includeDeclaration bool, timeout time.Duration) ([]adapter.ReferenceLocation, error) {
	s, err := m.acquire(ctx, language, workspaceRoot)
	if err != nil {
		return nil, err
	}

	params, _ := json.Marshal(map[string]any{
		"textDocument": map[string]any{"uri": adapter.PathToURI(filePath)},
		"position":     map[string]any{"line": line, "character": column},
		"context":      map[string]any{"includeDeclaration": includeDeclaration},
	})
	raw, err := s.call(ctx, "textDocument/references", params, timeout)
	if err != nil {
		m.handleCallError(language, s, err)
		return nil, err
	}

	var locations []wireLocation
	if err := json.Unmarshal(raw, &locations); err != nil {
		return nil, fmt.Errorf("lspmanager: decode references: %w", err)
	}

	out := make([]adapter.ReferenceLocation, 0, len(locations))
	for _, loc := range locations {
		path, err := adapter.URIToPath(loc.URI)
		if err != nil {
			continue
		}
		rel := relativeTo(workspaceRoot, path)
		out = append(out, adapter.ReferenceLocation{WorkspaceRelPath: rel, Range: loc.Range.toAdapter()})
	}
	return out, nil
}

// DocumentSymbols resolves the full symbol outline of one file.
func (m *Manager) DocumentSymbols(ctx context.Context, language, workspaceRoot, filePath string, timeout time.Duration) ([]adapter.DocumentSymbol, error) {
	s, err := m.acquire(ctx, language, workspaceRoot)
	if err != nil {
		return nil, err
	}

	params, _ := json.Marshal(map[string]any{
		"textDocument": map[string]any{"uri": adapter.PathToURI(filePath)},
	})
	raw, err := s.call(ctx, "textDocument/documentSymbol", params, timeout)
	if err != nil {
		m.handleCallError(language, s, err)
		return nil, err
	}
	return parseDocumentSymbols(raw)
}

// handleCallError reacts to a failed call: a server-exited error triggers a
// pool restart accounting entry; any other error leaves suspect-marking to
// server.call itself (on timeout).
func (m *Manager) handleCallError(language string, s *server, err error) {
	if s.isExited() {
		m.restart(language)
	}
}

// Shutdown kills every pooled server across all languages.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.mu.Lock()
		for _, s := range p.servers {
			s.kill()
		}
		p.servers = nil
		p.mu.Unlock()
	}
}
