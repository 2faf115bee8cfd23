package lspmanager

import (
	"encoding/json"
	"path/filepath"

	"github.com/standardbeagle/probelsp/internal/adapter"
	"github.com/standardbeagle/probelsp/internal/types"
)

// wireRange mirrors LSP's Range (0-based line/character).
type wireRange struct {
	Start wirePosition `json:"start"`
	End   wirePosition `json:"end"`
}

type wirePosition struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

func (r wireRange) toAdapter() types.Range {
	return types.Range{StartLine: r.Start.Line, StartChar: r.Start.Character, EndLine: r.End.Line, EndChar: r.End.Character}
}

// wireCallHierarchyItem mirrors LSP's CallHierarchyItem.
type wireCallHierarchyItem struct {
	Name           string    `json:"name"`
	Kind           int       `json:"kind"`
	URI            string    `json:"uri"`
	Range          wireRange `json:"range"`
	SelectionRange wireRange `json:"selectionRange"`
}

func (i wireCallHierarchyItem) toAdapter(workspaceRoot string) (adapter.CallHierarchyItem, error) {
	path, err := adapter.URIToPath(i.URI)
	if err != nil {
		return adapter.CallHierarchyItem{}, err
	}
	return adapter.CallHierarchyItem{
		Name:             i.Name,
		Kind:             symbolKindFromLSP(i.Kind),
		URI:              i.URI,
		WorkspaceRelPath: relativeTo(workspaceRoot, path),
		SelectionRange:   i.SelectionRange.toAdapter(),
	}, nil
}

type wireIncomingCall struct {
	From       wireCallHierarchyItem `json:"from"`
	FromRanges []wireRange           `json:"fromRanges"`
}

type wireOutgoingCall struct {
	To         wireCallHierarchyItem `json:"to"`
	FromRanges []wireRange           `json:"fromRanges"`
}

type wireLocation struct {
	URI   string    `json:"uri"`
	Range wireRange `json:"range"`
}

func parseIncomingCalls(raw json.RawMessage, workspaceRoot string) ([]adapter.IncomingCall, error) {
	var wire []wireIncomingCall
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	out := make([]adapter.IncomingCall, 0, len(wire))
	for _, w := range wire {
		item, err := w.From.toAdapter(workspaceRoot)
		if err != nil {
			continue
		}
		sites := make([]types.Range, 0, len(w.FromRanges))
		for _, r := range w.FromRanges {
			sites = append(sites, r.toAdapter())
		}
		out = append(out, adapter.IncomingCall{From: item, FromSites: sites})
	}
	return out, nil
}

func parseOutgoingCalls(raw json.RawMessage, workspaceRoot string) ([]adapter.OutgoingCall, error) {
	var wire []wireOutgoingCall
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	out := make([]adapter.OutgoingCall, 0, len(wire))
	for _, w := range wire {
		item, err := w.To.toAdapter(workspaceRoot)
		if err != nil {
			continue
		}
		sites := make([]types.Range, 0, len(w.FromRanges))
		for _, r := range w.FromRanges {
			sites = append(sites, r.toAdapter())
		}
		out = append(out, adapter.OutgoingCall{To: item, FromSites: sites})
	}
	return out, nil
}

// wireDocumentSymbol mirrors LSP's hierarchical DocumentSymbol shape.
type wireDocumentSymbol struct {
	Name           string               `json:"name"`
	Detail         string               `json:"detail"`
	Kind           int                  `json:"kind"`
	Range          wireRange            `json:"range"`
	SelectionRange wireRange            `json:"selectionRange"`
	Children       []wireDocumentSymbol `json:"children"`
}

func (w wireDocumentSymbol) toAdapter() adapter.DocumentSymbol {
	children := make([]adapter.DocumentSymbol, 0, len(w.Children))
	for _, c := range w.Children {
		children = append(children, c.toAdapter())
	}
	return adapter.DocumentSymbol{
		Name:           w.Name,
		Detail:         w.Detail,
		Kind:           symbolKindFromLSP(w.Kind),
		Range:          w.Range.toAdapter(),
		SelectionRange: w.SelectionRange.toAdapter(),
		Children:       children,
	}
}

func parseDocumentSymbols(raw json.RawMessage) ([]adapter.DocumentSymbol, error) {
	var wire []wireDocumentSymbol
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	out := make([]adapter.DocumentSymbol, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toAdapter())
	}
	return out, nil
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// symbolKindFromLSP maps LSP's numeric SymbolKind to this daemon's
// SymbolKind vocabulary; unmapped kinds fall back to "variable".
func symbolKindFromLSP(k int) types.SymbolKind {
	switch k {
	case 12: // Function
		return types.KindFunction
	case 6: // Method
		return types.KindMethod
	case 5: // Class
		return types.KindClass
	case 23: // Struct
		return types.KindStruct
	case 11: // Interface
		return types.KindInterface
	case 10: // Enum
		return types.KindEnum
	case 8: // Field
		return types.KindField
	case 2: // Module
		return types.KindModule
	default:
		return types.KindVariable
	}
}
