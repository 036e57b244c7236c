// Package mcpserver exposes the session over the Model Context Protocol.
// Every MCP client session is attached to the orchestrator as one client;
// session events reach it as notifications.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

// ClientPrefix namespaces MCP sessions among orchestrator client IDs
const ClientPrefix = "mcp-"

// Config holds configuration for the MCP server
type Config struct {
	Name    string
	Version string
}

// MCPServer wraps the mcp-go server with the session manager
type MCPServer struct {
	server *server.MCPServer
	sse    *server.SSEServer
	mgr    *orchestrator.Manager
	logger *slog.Logger
}

// NewMCPServer creates and configures a new MCP server
func NewMCPServer(cfg Config, mgr *orchestrator.Manager, logger *slog.Logger) *MCPServer {
	ms := &MCPServer{
		mgr:    mgr,
		logger: logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(ms.onRegister)
	hooks.AddOnUnregisterSession(ms.onUnregister)

	ms.server = server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)
	ms.registerTools()
	ms.sse = server.NewSSEServer(ms.server,
		server.WithStaticBasePath("/mcp"),
		server.WithUseFullURLForMessageEndpoint(false),
	)
	return ms
}

// Server returns the underlying mcp-go server
func (ms *MCPServer) Server() *server.MCPServer {
	return ms.server
}

// Handler returns the HTTP/SSE transport; mount it under /mcp
func (ms *MCPServer) Handler() http.Handler {
	return ms.sse
}

// Shutdown closes open SSE streams
func (ms *MCPServer) Shutdown(ctx context.Context) error {
	return ms.sse.Shutdown(ctx)
}

func (ms *MCPServer) onRegister(_ context.Context, session server.ClientSession) {
	id := session.SessionID()
	ms.mgr.Attach(ClientPrefix+id, orchestrator.SenderFunc(func(ev orchestrator.Event) error {
		return ms.notify(id, ev)
	}))
	ms.logger.Info("MCP client attached", "mcp_session", id)
}

func (ms *MCPServer) onUnregister(_ context.Context, session server.ClientSession) {
	ms.mgr.Detach(ClientPrefix + session.SessionID())
	ms.logger.Info("MCP client detached", "mcp_session", session.SessionID())
}

// notify sends ev to one MCP session as a notification
func (ms *MCPServer) notify(sessionID string, ev orchestrator.Event) error {
	params, err := eventParams(ev)
	if err != nil {
		return err
	}
	if err := ms.server.SendNotificationToSpecificClient(sessionID, config.NotificationSessionEvent, params); err != nil {
		return fmt.Errorf("failed to notify MCP session %s: %w", sessionID, err)
	}
	return nil
}

func eventParams(ev orchestrator.Event) (map[string]any, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", ev.Type, err)
	}
	return params, nil
}

// origin returns the orchestrator client ID of the calling MCP session
func origin(ctx context.Context) string {
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return ""
	}
	return ClientPrefix + session.SessionID()
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
