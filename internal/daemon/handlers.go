package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/standardbeagle/probelsp/internal/discover"
	"github.com/standardbeagle/probelsp/internal/rpc"
	"github.com/standardbeagle/probelsp/internal/version"
)

func (d *Daemon) registerHandlers() {
	d.rpcRouter.Register("Connect", &jsonschema.Schema{
		Type:     "object",
		Required: []string{"client_id"},
		Properties: map[string]*jsonschema.Schema{
			"client_id": {Type: "string"},
		},
	}, d.handleConnect)

	d.rpcRouter.Register("Ping", nil, d.handlePing)
	d.rpcRouter.Register("Status", nil, d.handleStatus)
	d.rpcRouter.Register("ListLanguages", nil, d.handleListLanguages)

	d.rpcRouter.Register("CallHierarchy", &jsonschema.Schema{
		Type:     "object",
		Required: []string{"file_path", "line", "column"},
		Properties: map[string]*jsonschema.Schema{
			"file_path":      {Type: "string"},
			"line":           {Type: "integer"},
			"column":         {Type: "integer"},
			"workspace_hint": {Type: "string"},
			"language":       {Type: "string"},
		},
	}, d.handleCallHierarchy)

	d.rpcRouter.Register("References", &jsonschema.Schema{
		Type:     "object",
		Required: []string{"file_path", "line", "column", "include_declaration"},
		Properties: map[string]*jsonschema.Schema{
			"file_path":           {Type: "string"},
			"line":                {Type: "integer"},
			"column":              {Type: "integer"},
			"include_declaration": {Type: "boolean"},
			"language":            {Type: "string"},
		},
	}, d.handleReferences)

	d.rpcRouter.Register("GetLogs", &jsonschema.Schema{
		Type:     "object",
		Required: []string{"lines"},
		Properties: map[string]*jsonschema.Schema{
			"lines": {Type: "integer"},
		},
	}, d.handleGetLogs)

	d.rpcRouter.Register("Shutdown", nil, d.handleShutdown)
}

type connectParams struct {
	ClientID string `json:"client_id"`
}

func (d *Daemon) handleConnect(ctx context.Context, params json.RawMessage) (any, error) {
	var p connectParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "decode Connect params: "+err.Error())
	}
	return map[string]string{
		"daemon_version": version.Version,
		"git_hash":       version.GitCommit,
		"build_date":     version.BuildDate,
	}, nil
}

func (d *Daemon) handlePing(ctx context.Context, params json.RawMessage) (any, error) {
	return map[string]string{"pong": "ok"}, nil
}

func (d *Daemon) handleStatus(ctx context.Context, params json.RawMessage) (any, error) {
	progress := d.idxManager.GetProgress()
	languages := d.configuredLanguages()
	degraded := make([]string, 0)
	for _, lang := range languages {
		if d.lsp.IsDegraded(lang) {
			degraded = append(degraded, lang)
		}
	}

	return map[string]any{
		"uptime_seconds":     time.Since(d.startTime).Seconds(),
		"daemon_version":     version.Version,
		"indexing_root":      progress.Root,
		"discovered":         progress.Discovered,
		"enqueued":           progress.Enqueued,
		"processed":          progress.Processed,
		"failed":             progress.Failed,
		"symbols_extracted":  progress.SymbolsExtracted,
		"active_workers":     progress.ActiveWorkers,
		"paused":             progress.Paused,
		"enrichment_backlog": d.enrichQueue.Len(),
		"degraded_languages": degraded,
		"open_store_handles": d.router.OpenCount(),
	}, nil
}

func (d *Daemon) configuredLanguages() []string {
	langs := make([]string, 0, len(d.cfg.LSP.Servers))
	for lang := range d.cfg.LSP.Servers {
		langs = append(langs, lang)
	}
	return langs
}

func (d *Daemon) handleListLanguages(ctx context.Context, params json.RawMessage) (any, error) {
	type languageDescriptor struct {
		Language string `json:"language"`
		Command  string `json:"command"`
		Degraded bool   `json:"degraded"`
	}
	out := make([]languageDescriptor, 0, len(d.cfg.LSP.Servers))
	for lang, sc := range d.cfg.LSP.Servers {
		out = append(out, languageDescriptor{Language: lang, Command: sc.Command, Degraded: d.lsp.IsDegraded(lang)})
	}
	return out, nil
}

type callHierarchyParams struct {
	FilePath      string `json:"file_path"`
	Line          int    `json:"line"`
	Column        int    `json:"column"`
	WorkspaceHint string `json:"workspace_hint"`
	Language      string `json:"language"`
}

func (d *Daemon) handleCallHierarchy(ctx context.Context, params json.RawMessage) (any, error) {
	var p callHierarchyParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "decode CallHierarchy params: "+err.Error())
	}
	root := p.WorkspaceHint
	if root == "" {
		root = d.resolver.Resolve(p.FilePath)
	}
	lang := p.Language
	if lang == "" {
		lang = d.languageForFile(p.FilePath)
	}

	result, err := d.lsp.CallHierarchy(ctx, lang, root, p.FilePath, p.Line, p.Column, d.cfg.LSP.RequestTimeout)
	if err != nil {
		return nil, classifyLSPError(err)
	}
	return result, nil
}

type referencesParams struct {
	FilePath           string `json:"file_path"`
	Line               int    `json:"line"`
	Column             int    `json:"column"`
	IncludeDeclaration bool   `json:"include_declaration"`
	Language           string `json:"language"`
}

func (d *Daemon) handleReferences(ctx context.Context, params json.RawMessage) (any, error) {
	var p referencesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "decode References params: "+err.Error())
	}
	root := d.resolver.Resolve(p.FilePath)
	lang := p.Language
	if lang == "" {
		lang = d.languageForFile(p.FilePath)
	}

	locations, err := d.lsp.References(ctx, lang, root, p.FilePath, p.Line, p.Column, p.IncludeDeclaration, d.cfg.LSP.RequestTimeout)
	if err != nil {
		return nil, classifyLSPError(err)
	}
	return locations, nil
}

type getLogsParams struct {
	Lines int `json:"lines"`
}

func (d *Daemon) handleGetLogs(ctx context.Context, params json.RawMessage) (any, error) {
	var p getLogsParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "decode GetLogs params: "+err.Error())
	}
	return d.logs.GetLast(p.Lines), nil
}

func (d *Daemon) handleShutdown(ctx context.Context, params json.RawMessage) (any, error) {
	go d.shutdownInternal()
	return map[string]bool{"acknowledged": true}, nil
}

// languageForFile is a small extension-based fallback used when a request
// omits an explicit language hint. It defers to discover.LanguageForPath
// rather than ranging over d.cfg.LSP.Servers, whose key order is randomized
// by Go's map iteration and would pick an arbitrary configured language.
func (d *Daemon) languageForFile(filePath string) string {
	return discover.LanguageForPath(filePath)
}

// classifyLSPError maps an lspmanager error into the rpc error-kind policy
// of spec §7: a request that timed out waiting on the LSP server surfaces as
// Timeout, anything else as LspUnavailable.
func classifyLSPError(err error) *rpc.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return rpc.NewError(rpc.CodeTimeout, err.Error())
	}
	return rpc.NewError(rpc.CodeLspUnavailable, err.Error())
}
