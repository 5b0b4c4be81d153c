package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// hostToolServers builds the in-process MCP servers advertised to the agent.
// The tools run inside this binary; the agent reaches them over the control
// channel, no network involved.
func hostToolServers() map[string]*server.MCPServer {
	return map[string]*server.MCPServer{
		"host": demoToolServer(),
	}
}

func demoToolServer() *server.MCPServer {
	srv := server.NewMCPServer("host", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(
		mcp.NewTool("host_time",
			mcp.WithDescription("Current time on the host machine in RFC 3339 form"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(time.Now().Format(time.RFC3339)), nil
		},
	)

	srv.AddTool(
		mcp.NewTool("host_info",
			mcp.WithDescription("Host process details: OS, architecture, pid, working directory"),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			wd, _ := os.Getwd()
			info := fmt.Sprintf("os=%s arch=%s pid=%d cwd=%s",
				runtime.GOOS, runtime.GOARCH, os.Getpid(), wd)
			return mcp.NewToolResultText(info), nil
		},
	)

	srv.AddTool(
		mcp.NewTool("host_env",
			mcp.WithDescription("Read one environment variable from the host process"),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Environment variable name"),
			),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := req.RequireString("name")
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			value, ok := os.LookupEnv(name)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("%s is not set", name)), nil
			}
			return mcp.NewToolResultText(value), nil
		},
	)

	return srv
}
