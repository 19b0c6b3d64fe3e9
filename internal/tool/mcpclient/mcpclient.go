// Package mcpclient is the tool executor's connection to an external tool
// service (spec §4.9): the capability catalog (prompts/resources/tools) of
// a named MCP server, and invocation of one of its capabilities.
//
// Grounded on the teacher's pkg/tool/mcptoolset/mcptoolset.go, which talks
// to the same two kinds of MCP server: a stdio subprocess via the mcp-go
// client library, or an HTTP/SSE endpoint via Hector's own retrying
// httpclient. Narrowed here to the two operations the tool executor
// actually drives (ListCapabilities, Call) rather than the teacher's
// richer Toolset/Tool abstraction, since this runtime resolves tools
// through the registry (internal/registry), not a toolset discovery layer.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentruntime/masrt/internal/httpclient"
)

// CatalogEntry describes one capability (tool, resource, or prompt).
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Catalog is the capability catalog returned by get_description.
type Catalog struct {
	Tools     []CatalogEntry `json:"tools,omitempty"`
	Resources []CatalogEntry `json:"resources,omitempty"`
	Prompts   []CatalogEntry `json:"prompts,omitempty"`
}

// Client is the tool executor's view of one external tool server (spec
// §4.9's "external tool service").
type Client interface {
	ListCapabilities(ctx context.Context) (Catalog, error)
	Call(ctx context.Context, capability string, arguments map[string]any) (map[string]any, error)
	Close() error
}

// StdioConfig configures a subprocess-backed MCP server.
type StdioConfig struct {
	Command string
	Args    []string
	Env     map[string]string
}

// StdioClient talks to an MCP server over stdio via mcp-go.
type StdioClient struct {
	raw *client.Client
}

// NewStdio starts cfg.Command and performs the MCP handshake.
func NewStdio(ctx context.Context, cfg StdioConfig) (*StdioClient, error) {
	mcpClient, err := client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: create stdio client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcpclient: start stdio client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "masrt", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("mcpclient: initialize: %w", err)
	}

	return &StdioClient{raw: mcpClient}, nil
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// ListCapabilities lists the server's tools (resources/prompts are left
// empty: the teacher's stdio path only exposes tools/list).
func (c *StdioClient) ListCapabilities(ctx context.Context) (Catalog, error) {
	resp, err := c.raw.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return Catalog{}, fmt.Errorf("mcpclient: list tools: %w", err)
	}

	var cat Catalog
	for _, t := range resp.Tools {
		cat.Tools = append(cat.Tools, CatalogEntry{
			Name:        t.Name,
			Description: t.Description,
			Schema:      schemaToMap(t.InputSchema),
		})
	}
	return cat, nil
}

// Call invokes a tool by name.
func (c *StdioClient) Call(ctx context.Context, capability string, arguments map[string]any) (map[string]any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = capability
	req.Params.Arguments = arguments

	resp, err := c.raw.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call tool %s: %w", capability, err)
	}
	return parseCallResult(resp)
}

// Close tears down the subprocess.
func (c *StdioClient) Close() error {
	return c.raw.Close()
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func parseCallResult(resp *mcp.CallToolResult) (map[string]any, error) {
	result := make(map[string]any)
	if resp.IsError {
		for _, content := range resp.Content {
			if tc, ok := content.(mcp.TextContent); ok {
				result["error"] = tc.Text
				break
			}
		}
		if result["error"] == nil {
			result["error"] = "unknown error"
		}
		return result, nil
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	switch len(texts) {
	case 0:
	case 1:
		result["result"] = texts[0]
	default:
		result["results"] = texts
	}
	return result, nil
}

// HTTPConfig configures a streamable-http/SSE MCP server, reached over
// JSON-RPC the same way the teacher's mcptoolset talks to non-stdio
// transports.
type HTTPConfig struct {
	URL        string
	MaxRetries int
}

// HTTPClient talks to an MCP server over HTTP using JSON-RPC 2.0.
type HTTPClient struct {
	cfg    HTTPConfig
	client *httpclient.Client
}

// NewHTTP creates an HTTPClient and performs the MCP handshake.
func NewHTTP(ctx context.Context, cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	c := &HTTPClient{
		cfg: cfg,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(2*time.Second),
		),
	}

	resp, err := c.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "masrt", "version": "0.1.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: initialize: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("mcpclient: initialize error: %s", resp.Error.Message)
	}
	return c, nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) rpc(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("mcpclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	var out jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("mcpclient: decode response: %w", err)
	}
	return &out, nil
}

// ListCapabilities lists the server's tools over tools/list.
func (c *HTTPClient) ListCapabilities(ctx context.Context) (Catalog, error) {
	resp, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return Catalog{}, err
	}
	if resp.Error != nil {
		return Catalog{}, fmt.Errorf("mcpclient: tools/list error: %s", resp.Error.Message)
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return Catalog{}, fmt.Errorf("mcpclient: unexpected tools/list result shape")
	}
	toolsRaw, _ := resultMap["tools"].([]any)

	var cat Catalog
	for _, raw := range toolsRaw {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		schema, _ := toolMap["inputSchema"].(map[string]any)
		cat.Tools = append(cat.Tools, CatalogEntry{Name: name, Description: desc, Schema: schema})
	}
	return cat, nil
}

// Call invokes a tool over tools/call.
func (c *HTTPClient) Call(ctx context.Context, capability string, arguments map[string]any) (map[string]any, error) {
	resp, err := c.rpc(ctx, "tools/call", map[string]any{"name": capability, "arguments": arguments})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return map[string]any{"error": resp.Error.Message}, nil
	}

	result := make(map[string]any)
	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		result["result"] = resp.Result
		return result, nil
	}

	if isError, _ := resultMap["isError"].(bool); isError {
		result["error"] = extractErrorText(resultMap)
		return result, nil
	}

	if content, ok := resultMap["content"].([]any); ok {
		var texts []string
		for _, c := range content {
			cm, ok := c.(map[string]any)
			if !ok || cm["type"] != "text" {
				continue
			}
			if text, ok := cm["text"].(string); ok {
				texts = append(texts, text)
			}
		}
		switch len(texts) {
		case 0:
		case 1:
			result["result"] = texts[0]
		default:
			result["results"] = texts
		}
	}
	return result, nil
}

func extractErrorText(resultMap map[string]any) string {
	content, ok := resultMap["content"].([]any)
	if !ok {
		return "unknown error"
	}
	for _, c := range content {
		if cm, ok := c.(map[string]any); ok {
			if text, ok := cm["text"].(string); ok {
				return text
			}
		}
	}
	return "unknown error"
}

// Close is a no-op for the HTTP transport: there is no persistent
// connection to tear down.
func (c *HTTPClient) Close() error {
	return nil
}

var (
	_ Client = (*StdioClient)(nil)
	_ Client = (*HTTPClient)(nil)
)
