package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

func (ms *MCPServer) registerTools() {
	ms.server.AddTool(mcp.NewTool(config.ToolChatSend,
		mcp.WithDescription("Send a chat message to the agent and wait for its answer"),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Message text"),
		),
		mcp.WithString("model",
			mcp.Description("Model override for this request"),
		),
		mcp.WithString("surface_context",
			mcp.Description("Serialized surface the message refers to"),
		),
	), ms.handleChatSend)

	ms.server.AddTool(mcp.NewTool(config.ToolChatInterrupt,
		mcp.WithDescription("Cancel the task the agent is working on"),
	), ms.handleChatInterrupt)

	ms.server.AddTool(mcp.NewTool(config.ToolSessionStatus,
		mcp.WithDescription("Report whether the agent is busy and how many messages are pending"),
	), ms.handleSessionStatus)

	ms.server.AddTool(mcp.NewTool(config.ToolSurfaceReportError,
		mcp.WithDescription("Report a broken generated component so the agent can repair it"),
		mcp.WithString("surface_id",
			mcp.Required(),
			mcp.Description("Surface containing the component"),
		),
		mcp.WithString("component_name",
			mcp.Required(),
			mcp.Description("Name of the broken component"),
		),
		mcp.WithString("error",
			mcp.Required(),
			mcp.Description("Error text observed by the client"),
		),
		mcp.WithString("error_type",
			mcp.Description("compile or runtime"),
			mcp.Enum(orchestrator.ErrorTypeCompile, orchestrator.ErrorTypeRuntime),
		),
		mcp.WithString("source",
			mcp.Description("Current source of the component"),
		),
		mcp.WithNumber("attempt",
			mcp.Description("Client-side attempt counter"),
		),
	), ms.handleSurfaceReportError)

	ms.server.AddTool(mcp.NewTool(config.ToolSessionSwitch,
		mcp.WithDescription("Close the session and open one for another working directory"),
		mcp.WithString("workdir",
			mcp.Required(),
			mcp.Description("Working directory of the new session"),
		),
	), ms.handleSessionSwitch)
}

func (ms *MCPServer) handleChatSend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := ms.mgr.Current().HandleChat(ctx, origin(ctx), orchestrator.ChatRequest{
		Input:          content,
		Model:          request.GetString("model", ""),
		SurfaceContext: request.GetString("surface_context", ""),
	})
	if err != nil {
		ms.logger.Warn("Chat failed", "task_id", res.TaskID, "outcome", res.Outcome, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	switch res.Outcome {
	case orchestrator.ChatCompleted:
		return mcp.NewToolResultText(res.Response), nil
	case orchestrator.ChatQueued:
		return mcp.NewToolResultText(config.MsgChimeInQueued), nil
	case orchestrator.ChatCancelled:
		return mcp.NewToolResultError(config.MsgTaskCancelled), nil
	case orchestrator.ChatAuthFailed:
		return mcp.NewToolResultError(config.MsgAuthFailed), nil
	default:
		if err := res.Err(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return textResult(res)
	}
}

func (ms *MCPServer) handleChatInterrupt(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if ms.mgr.Current().HandleInterrupt(ctx, origin(ctx)) {
		return mcp.NewToolResultText("interrupted"), nil
	}
	return mcp.NewToolResultText("idle"), nil
}

func (ms *MCPServer) handleSessionStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return textResult(ms.mgr.Current().Snapshot())
}

func (ms *MCPServer) handleSurfaceReportError(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	surfaceID, err := request.RequireString("surface_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	component, err := request.RequireString("component_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	errText, err := request.RequireString("error")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	outcome, err := ms.mgr.Current().HandleSurfaceError(ctx, origin(ctx), orchestrator.SurfaceErrorReport{
		SurfaceID:     surfaceID,
		ComponentName: component,
		ErrorType:     request.GetString("error_type", ""),
		ErrorText:     errText,
		BrokenSource:  request.GetString("source", ""),
		Attempt:       request.GetInt("attempt", 0),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return mcp.NewToolResultError(fmt.Sprintf("auto-fix %s: %v", outcome, err)), nil
	}
	return mcp.NewToolResultText(string(outcome)), nil
}

func (ms *MCPServer) handleSessionSwitch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workDir, err := request.RequireString("workdir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s, err := ms.mgr.Switch(ctx, workDir)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return textResult(s.Snapshot())
}
