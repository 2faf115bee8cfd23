// Package adapter translates LSP wire payloads (document symbols, call
// hierarchy items, reference locations) into the daemon's own Symbol/Edge
// records (spec §4.J). Grounded on the teacher's internal/idcodec for the
// "hash then base-63-encode" identifier shape, with cespare/xxhash/v2
// supplying the hash itself — xxhash is the one hashing dependency the
// pack demonstrates (teacher's go.mod), reused here for generating a
// stable symbol_uid instead of the teacher's incrementing index.
package adapter

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/probelsp/internal/idcodec"
	"github.com/standardbeagle/probelsp/internal/types"
)

// SymbolUID derives a stable identifier for a symbol definition from its
// workspace-relative location, name, and kind. Two definitions at the same
// (file, position, name, kind) always produce the same uid, which is what
// lets StoreSymbols treat re-indexing a file as an idempotent upsert.
func SymbolUID(workspaceRelPath, name string, defStartLine, defStartChar int, kind types.SymbolKind) string {
	key := fmt.Sprintf("%s\x00%s\x00%d\x00%d\x00%s", workspaceRelPath, name, defStartLine, defStartChar, kind)
	return idcodec.Encode(xxhash.Sum64String(key))
}

// URIToPath converts a file:// URI (as LSP servers report it) to a local
// filesystem path, preserving a Windows drive letter when present.
func URIToPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return "", fmt.Errorf("adapter: not a file URI: %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("adapter: parse URI %q: %w", uri, err)
	}
	path := u.Path
	if runtime.GOOS == "windows" {
		path = strings.TrimPrefix(path, "/")
		path = strings.ReplaceAll(path, "/", "\\")
	}
	return path, nil
}

// PathToURI is the inverse of URIToPath, used when issuing requests to an
// LSP server.
func PathToURI(path string) string {
	p := filepath_ToSlash(path)
	if runtime.GOOS == "windows" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

// filepath_ToSlash avoids importing path/filepath solely for ToSlash in a
// file that otherwise has no other filepath dependency.
func filepath_ToSlash(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// DocumentSymbol mirrors the subset of LSP's DocumentSymbol /
// SymbolInformation responses the adapter consumes.
type DocumentSymbol struct {
	Name           string
	Detail         string
	Kind           types.SymbolKind
	Range          types.Range
	SelectionRange types.Range
	Children       []DocumentSymbol
}

// FromDocumentSymbols flattens an LSP documentSymbol response tree into
// Symbol records, assigning each a stable symbol_uid and an FQN built from
// the nesting path (Outer.Inner.method).
func FromDocumentSymbols(filePath, language, workspaceRelPath string, symbols []DocumentSymbol) []types.Symbol {
	var out []types.Symbol
	var walk func(nodes []DocumentSymbol, scope string)
	walk = func(nodes []DocumentSymbol, scope string) {
		for _, n := range nodes {
			fqn := n.Name
			if scope != "" {
				fqn = scope + "." + n.Name
			}
			uid := SymbolUID(workspaceRelPath, n.Name, n.SelectionRange.StartLine, n.SelectionRange.StartChar, n.Kind)
			out = append(out, types.Symbol{
				UID:          uid,
				FilePath:     filePath,
				Language:     language,
				Name:         n.Name,
				FQN:          fqn,
				Kind:         n.Kind,
				Signature:    n.Detail,
				Def:          n.Range,
				IsDefinition: true,
			})
			if len(n.Children) > 0 {
				walk(n.Children, fqn)
			}
		}
	}
	walk(symbols, "")
	return out
}

// CallHierarchyItem mirrors LSP's CallHierarchyItem.
type CallHierarchyItem struct {
	Name             string
	Kind             types.SymbolKind
	URI              string
	WorkspaceRelPath string
	SelectionRange   types.Range
}

func (i CallHierarchyItem) uid() string {
	return SymbolUID(i.WorkspaceRelPath, i.Name, i.SelectionRange.StartLine, i.SelectionRange.StartChar, i.Kind)
}

// IncomingCall mirrors LSP's CallHierarchyIncomingCall: a caller of the
// anchor item, with the call sites inside the caller's body.
type IncomingCall struct {
	From      CallHierarchyItem
	FromSites []types.Range
}

// OutgoingCall mirrors LSP's CallHierarchyOutgoingCall: a callee of the
// anchor item.
type OutgoingCall struct {
	To        CallHierarchyItem
	FromSites []types.Range
}

// FromCallHierarchy emits symmetric calls/called_by edges for the anchor
// symbol against its incoming and outgoing calls, one edge pair per call
// site so that repeated call sites from the same caller are not collapsed.
func FromCallHierarchy(anchorUID string, language string, incoming []IncomingCall, outgoing []OutgoingCall) []types.Edge {
	var edges []types.Edge
	for _, call := range incoming {
		callerUID := call.From.uid()
		sites := call.FromSites
		if len(sites) == 0 {
			sites = []types.Range{{}}
		}
		for _, site := range sites {
			edges = append(edges,
				types.Edge{Relation: types.RelCalls, Source: callerUID, Target: anchorUID, StartLine: site.StartLine, StartChar: site.StartChar, Confidence: 1.0, Language: language},
				types.Edge{Relation: types.RelCalledBy, Source: anchorUID, Target: callerUID, StartLine: site.StartLine, StartChar: site.StartChar, Confidence: 1.0, Language: language},
			)
		}
	}
	for _, call := range outgoing {
		calleeUID := call.To.uid()
		sites := call.FromSites
		if len(sites) == 0 {
			sites = []types.Range{{}}
		}
		for _, site := range sites {
			edges = append(edges,
				types.Edge{Relation: types.RelCalls, Source: anchorUID, Target: calleeUID, StartLine: site.StartLine, StartChar: site.StartChar, Confidence: 1.0, Language: language},
				types.Edge{Relation: types.RelCalledBy, Source: calleeUID, Target: anchorUID, StartLine: site.StartLine, StartChar: site.StartChar, Confidence: 1.0, Language: language},
			)
		}
	}
	return edges
}

// ReferenceLocation mirrors one LSP Location from a textDocument/references
// response.
type ReferenceLocation struct {
	WorkspaceRelPath string
	Range            types.Range
}

// FromReferences emits references/referenced_by edges from the anchor
// symbol to each reference site. Per the spec's resolved open question,
// reference edges are persisted (not discarded after the request returns).
func FromReferences(anchorUID, language string, refs []ReferenceLocation) []types.Edge {
	var edges []types.Edge
	for _, ref := range refs {
		siteUID := SymbolUID(ref.WorkspaceRelPath, "", ref.Range.StartLine, ref.Range.StartChar, "")
		edges = append(edges,
			types.Edge{Relation: types.RelReferences, Source: anchorUID, Target: siteUID, StartLine: ref.Range.StartLine, StartChar: ref.Range.StartChar, Confidence: 1.0, Language: language},
			types.Edge{Relation: types.RelReferencedBy, Source: siteUID, Target: anchorUID, StartLine: ref.Range.StartLine, StartChar: ref.Range.StartChar, Confidence: 1.0, Language: language},
		)
	}
	return edges
}
