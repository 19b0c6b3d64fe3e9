package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeMCPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp jsonRPCResponse
		resp.JSONRPC = "2.0"
		resp.ID = req.ID

		switch req.Method {
		case "initialize":
			resp.Result = map[string]any{"protocolVersion": "2024-11-05"}
		case "tools/list":
			resp.Result = map[string]any{
				"tools": []any{
					map[string]any{"name": "search", "description": "web search", "inputSchema": map[string]any{"type": "object"}},
				},
			}
		case "tools/call":
			resp.Result = map[string]any{
				"content": []any{map[string]any{"type": "text", "text": "42"}},
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClientListCapabilities(t *testing.T) {
	srv := newFakeMCPServer(t)
	defer srv.Close()

	c, err := NewHTTP(context.Background(), HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	cat, err := c.ListCapabilities(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Tools, 1)
	assert.Equal(t, "search", cat.Tools[0].Name)
	assert.Equal(t, "web search", cat.Tools[0].Description)
}

func TestHTTPClientCallReturnsSingleTextResult(t *testing.T) {
	srv := newFakeMCPServer(t)
	defer srv.Close()

	c, err := NewHTTP(context.Background(), HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	result, err := c.Call(context.Background(), "search", map[string]any{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "42", result["result"])
}

func TestHTTPClientCallSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := jsonRPCResponse{JSONRPC: "2.0", ID: req.ID}
		if req.Method == "initialize" {
			resp.Result = map[string]any{}
		} else {
			resp.Error = &jsonRPCError{Code: -32000, Message: "boom"}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c, err := NewHTTP(context.Background(), HTTPConfig{URL: srv.URL})
	require.NoError(t, err)

	result, err := c.Call(context.Background(), "search", nil)
	require.NoError(t, err)
	assert.Equal(t, "boom", result["error"])
}

func TestEnvSliceFormatsKeyValuePairs(t *testing.T) {
	out := envSlice(map[string]string{"FOO": "bar"})
	assert.Equal(t, []string{"FOO=bar"}, out)
}
