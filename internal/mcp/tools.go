package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the session-management tool API
func (s *Server) registerTools() {
	s.registerDebugLaunch()
	s.registerDebugAttach()
	s.registerDebugDisconnect()
	s.registerDebugListSessions()
	s.registerDebugStatus()
}

func (s *Server) registerDebugLaunch() {
	tool := mcp.NewTool("debug_launch",
		mcp.WithDescription("Launch the configured application with remote debugging enabled, wait for its DevTools endpoint to come up, and attach to it. Returns sessionId needed for the other tools."),
		mcp.WithString("program",
			mcp.Description("Path to the application executable. Falls back to the configured applicationPath."),
		),
		mcp.WithString("cwd",
			mcp.Description("Working directory for the application"),
		),
		mcp.WithNumber("port",
			mcp.Description("Remote debugging port the application is started with (default: 9222)"),
		),
		mcp.WithString("webRoot",
			mcp.Description("Root of web app source files (for source map resolution in the child session)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugLaunch)
}

func (s *Server) registerDebugAttach() {
	tool := mcp.NewTool("debug_attach",
		mcp.WithDescription("Attach to an application target already running with remote debugging enabled. Connection loss is retried automatically within the configured budget."),
		mcp.WithString("host",
			mcp.Description("Host address of the application target (default: 127.0.0.1)"),
		),
		mcp.WithNumber("port",
			mcp.Description("Remote debugging port of the application target (default: 9222)"),
		),
		mcp.WithString("browserInspectUri",
			mcp.Description("Pre-known debugger WebSocket endpoint. When given, target discovery is skipped."),
		),
		mcp.WithString("webRoot",
			mcp.Description("Root of web app source files (for source map resolution in the child session)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugAttach)
}

func (s *Server) registerDebugDisconnect() {
	tool := mcp.NewTool("debug_disconnect",
		mcp.WithDescription("Disconnect from a debug session"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID to disconnect from"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugDisconnect)
}

func (s *Server) registerDebugListSessions() {
	tool := mcp.NewTool("debug_list_sessions",
		mcp.WithDescription("List all active debug sessions"),
	)
	s.mcpServer.AddTool(tool, s.handleDebugListSessions)
}

func (s *Server) registerDebugStatus() {
	tool := mcp.NewTool("debug_status",
		mcp.WithDescription("Report one session's lifecycle state, connection status, and remaining reconnect budget"),
		mcp.WithString("sessionId",
			mcp.Required(),
			mcp.Description("The session ID"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleDebugStatus)
}
