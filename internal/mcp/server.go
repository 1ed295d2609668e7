// Package mcp provides the Model Context Protocol (MCP) control surface.
//
// This package exposes session orchestration through MCP tools that can be
// used by AI assistants and other MCP clients:
//
// Session Management:
//   - debug_launch: Launch the application and attach to it
//   - debug_attach: Attach to a running application target
//   - debug_disconnect: Disconnect from a session
//   - debug_list_sessions: List active sessions
//   - debug_status: Report one session's connection state and retry budget
package mcp

import (
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/crollins/webdap/internal/config"
	"github.com/crollins/webdap/internal/session"
	"github.com/crollins/webdap/internal/version"
)

// Server wraps the MCP server with session orchestration
type Server struct {
	mcpServer *server.MCPServer
	manager   *session.Manager
	host      *localHost
	config    *config.Config
	log       *zap.Logger
}

// NewServer creates a new webdap MCP server
func NewServer(cfg *config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		"webdap",
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		manager:   session.NewManager(cfg.MaxSessions, time.Duration(cfg.SessionTimeout), log),
		host:      newLocalHost(log),
		config:    cfg,
		log:       log,
	}

	s.registerTools()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close shuts down the server
func (s *Server) Close() {
	s.manager.Close()
	s.host.Close()
}

// GetManager returns the session manager
func (s *Server) GetManager() *session.Manager {
	return s.manager
}
