package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	r := New()
	r.Register("Ping", nil, func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: "1", Method: "Ping"})
	respBody := r.Dispatch(context.Background(), req)

	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	assert.Equal(t, "1", resp.ID)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"pong":"ok"}`, string(resp.Result))
}

func TestDispatchReturnsParseErrorForMalformedJSON(t *testing.T) {
	r := New()
	respBody := r.Dispatch(context.Background(), []byte("{not json"))

	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
}

func TestDispatchReturnsMethodNotFoundWithSuggestion(t *testing.T) {
	r := New()
	r.Register("Ping", nil, func(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil })

	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: "2", Method: "Pnig"})
	respBody := r.Dispatch(context.Background(), req)

	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}

func TestDispatchPropagatesHandlerRPCError(t *testing.T) {
	r := New()
	r.Register("CallHierarchy", nil, func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, NewError(CodeLspUnavailable, "language server unavailable")
	})

	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: "3", Method: "CallHierarchy"})
	respBody := r.Dispatch(context.Background(), req)

	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeLspUnavailable, resp.Error.Code)
}

func TestDispatchValidatesParamsAgainstSchema(t *testing.T) {
	r := New()
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"file_path"},
		Properties: map[string]*jsonschema.Schema{
			"file_path": {Type: "string"},
			"line":      {Type: "integer"},
			"column":    {Type: "integer"},
		},
	}
	r.Register("CallHierarchy", schema, func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"ok": "true"}, nil
	})

	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: "4", Method: "CallHierarchy", Params: json.RawMessage(`{"line":1,"column":2}`)})
	respBody := r.Dispatch(context.Background(), req)

	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)
}

func TestDispatchAcceptsValidParams(t *testing.T) {
	r := New()
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"file_path"},
		Properties: map[string]*jsonschema.Schema{
			"file_path": {Type: "string"},
		},
	}
	r.Register("CallHierarchy", schema, func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"ok": "true"}, nil
	})

	req, _ := json.Marshal(Request{JSONRPC: "2.0", ID: "5", Method: "CallHierarchy", Params: json.RawMessage(`{"file_path":"a.go"}`)})
	respBody := r.Dispatch(context.Background(), req)

	var resp Response
	require.NoError(t, json.Unmarshal(respBody, &resp))
	assert.Nil(t, resp.Error)
}
