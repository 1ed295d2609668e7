package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	apperrors "github.com/crollins/webdap/internal/errors"
	"github.com/crollins/webdap/internal/launcher"
	"github.com/crollins/webdap/internal/proxy"
	"github.com/crollins/webdap/internal/session"
	"github.com/crollins/webdap/pkg/types"
)

// Session Management Handlers

func (s *Server) handleDebugLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	program, _ := request.RequireString("program")
	if program == "" {
		program = s.config.Launcher.ApplicationPath
	}
	if program == "" {
		return mcp.NewToolResultError(apperrors.MissingParameter("program",
			"Specify the path to the application executable, or set launcher.applicationPath in the configuration file.").Error()), nil
	}

	attach := types.AttachArguments{Host: s.config.TargetHost, Port: s.config.TargetPort}
	if port, err := request.RequireFloat("port"); err == nil {
		attach.Port = int(port)
	}
	if webRoot, err := request.RequireString("webRoot"); err == nil {
		attach.WebRoot = webRoot
	}

	args := types.LaunchArguments{
		Program: program,
		Args:    s.config.Launcher.Args,
		Attach:  attach,
	}
	if cwd, err := request.RequireString("cwd"); err == nil {
		args.Cwd = cwd
	}

	entry, err := s.manager.Create(s.orchestratorFactory())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := entry.Orchestrator.Launch(ctx, args); err != nil {
		_ = s.manager.Terminate(entry.ID)
		return mcp.NewToolResultError(apperrors.FromError(err).Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": entry.ID,
		"status":    string(entry.Orchestrator.Status()),
		"program":   program,
	})
}

func (s *Server) handleDebugAttach(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	attach := types.AttachArguments{Host: s.config.TargetHost, Port: s.config.TargetPort}
	if host, err := request.RequireString("host"); err == nil {
		attach.Host = host
	}
	if port, err := request.RequireFloat("port"); err == nil {
		attach.Port = int(port)
	}
	if uri, err := request.RequireString("browserInspectUri"); err == nil {
		attach.BrowserInspectURI = uri
	}
	if webRoot, err := request.RequireString("webRoot"); err == nil {
		attach.WebRoot = webRoot
	}

	entry, err := s.manager.Create(s.orchestratorFactory())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := entry.Orchestrator.Attach(ctx, attach); err != nil {
		_ = s.manager.Terminate(entry.ID)
		return mcp.NewToolResultError(apperrors.FromError(err).Error()), nil
	}

	info := entry.Info()
	return jsonResult(map[string]interface{}{
		"sessionId": entry.ID,
		"status":    string(info.Status),
		"target":    info.Target,
	})
}

func (s *Server) handleDebugDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.manager.Terminate(sessionID); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]interface{}{
		"sessionId": sessionID,
		"status":    "disconnected",
	})
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.manager.List()

	result := make([]map[string]interface{}, len(entries))
	for i, entry := range entries {
		info := entry.Info()
		result[i] = map[string]interface{}{
			"sessionId":        info.SessionID,
			"status":           string(info.Status),
			"retriesRemaining": info.Retries,
		}
		if info.Target != "" {
			result[i]["target"] = info.Target
		}
	}

	return jsonResult(map[string]interface{}{
		"sessions": result,
	})
}

func (s *Server) handleDebugStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	entry, err := s.manager.Get(sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info := entry.Info()
	return jsonResult(map[string]interface{}{
		"sessionId":        info.SessionID,
		"state":            string(entry.Orchestrator.State()),
		"status":           string(info.Status),
		"target":           info.Target,
		"retriesRemaining": info.Retries,
	})
}

// orchestratorFactory wires a fresh proxy and launcher for each logical
// session. All sessions share the localHost broadcast bus, relying on the
// registry's identity filtering.
func (s *Server) orchestratorFactory() session.OrchestratorFactory {
	return func(ctx context.Context, id string) *session.Orchestrator {
		prx := proxy.NewServer(s.config.Proxy.ListenHost, s.config.Proxy.ListenPort, s.log)
		app := launcher.New(s.config.Launcher, s.log)
		return session.New(ctx, id, session.Options{
			Config:   s.config,
			Log:      s.log,
			Proxy:    prx,
			Launcher: app,
			Host:     s.host,
			Handler:  passthroughHandler{},
			Verify: func() error {
				return launcher.VerifyDependencies(s.config.Launcher.Dependencies)
			},
		})
	}
}

// passthroughHandler forwards proxied traffic unmodified.
type passthroughHandler struct{}

func (passthroughHandler) FromHost(msg []byte) []byte   { return msg }
func (passthroughHandler) FromTarget(msg []byte) []byte { return msg }

// jsonResult marshals data to JSON and returns it as a text result
func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
