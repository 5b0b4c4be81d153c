package claudecode

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPRouter routes mcp_message control requests to in-process MCP servers by
// server name. Externally-managed MCP servers never reach the router; the CLI
// talks to those directly. Routers are immutable once built.
type MCPRouter struct {
	servers map[string]*server.MCPServer
}

// NewMCPRouter builds a router over named in-process servers.
func NewMCPRouter(servers map[string]*server.MCPServer) *MCPRouter {
	owned := make(map[string]*server.MCPServer, len(servers))
	for name, srv := range servers {
		owned[name] = srv
	}
	return &MCPRouter{servers: owned}
}

// Len returns the number of registered servers.
func (r *MCPRouter) Len() int {
	if r == nil {
		return 0
	}
	return len(r.servers)
}

// ServerNames returns the registered server names in sorted order.
func (r *MCPRouter) ServerNames() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Route delivers one JSON-RPC message to the named server and returns the
// server's response, re-encoded for the wire. A name with no registered
// server yields a method-not-found error envelope naming the server; routing
// never fails the connection. A nil return means the message was a
// notification and expects no response.
func (r *MCPRouter) Route(ctx context.Context, serverName string, message json.RawMessage) json.RawMessage {
	var srv *server.MCPServer
	if r != nil {
		srv = r.servers[serverName]
	}
	if srv == nil {
		return jsonRPCErrorResponse(message, mcp.METHOD_NOT_FOUND,
			fmt.Sprintf("no in-process MCP server named %q", serverName))
	}

	result := srv.HandleMessage(ctx, message)
	if result == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return jsonRPCErrorResponse(message, mcp.INTERNAL_ERROR,
			fmt.Sprintf("encode response from %q: %v", serverName, err))
	}
	return data
}

// jsonRPCErrorResponse builds an error envelope echoing the request's id.
func jsonRPCErrorResponse(message json.RawMessage, code int, errMsg string) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(message, &probe)
	id := probe.ID
	if len(id) == 0 {
		id = json.RawMessage("null")
	}

	resp := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{JSONRPC: mcp.JSONRPC_VERSION, ID: id}
	resp.Error.Code = code
	resp.Error.Message = errMsg

	data, err := json.Marshal(resp)
	if err != nil {
		// Marshaling a struct of plain fields cannot fail; keep the router
		// total anyway.
		return json.RawMessage(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
