// Package ws is the websocket client channel. Each connection attaches to
// the current session as one client and sends JSON commands; session events
// are written back as JSON.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/assistant-server/internal/agentloop"
	"github.com/AltairaLabs/assistant-server/internal/config"
	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

// Inbound command types
const (
	CmdChat            = "chat"
	CmdInterrupt       = "interrupt"
	CmdSurfaceError    = "surface-error"
	CmdSwitchWorkspace = "switch-workspace"
	CmdLoop            = "loop"
	CmdState           = "state"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Command is one inbound client message
type Command struct {
	Type string `json:"type"`

	// chat
	Content        string `json:"content,omitempty"`
	Model          string `json:"model,omitempty"`
	SurfaceContext string `json:"surfaceContext,omitempty"`

	// surface-error
	SurfaceID     string `json:"surfaceId,omitempty"`
	ComponentName string `json:"componentName,omitempty"`
	ErrorType     string `json:"errorType,omitempty"`
	Error         string `json:"error,omitempty"`
	Source        string `json:"source,omitempty"`
	Attempt       int    `json:"attempt,omitempty"`

	// switch-workspace
	WorkDir string `json:"workdir,omitempty"`

	// loop
	State string `json:"state,omitempty"`
}

// LoopController is the part of the background loop clients can drive
type LoopController interface {
	Set(state agentloop.State)
	State() agentloop.State
}

// Options configures a Gateway
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	// Loop is optional; loop commands are refused without it
	Loop LoopController
	// CheckOrigin overrides the upgrader's origin check
	CheckOrigin func(r *http.Request) bool
	Logger      *slog.Logger
}

// Gateway upgrades HTTP requests to websocket clients of the session manager
type Gateway struct {
	ctx      context.Context
	mgr      *orchestrator.Manager
	loop     LoopController
	upgrader websocket.Upgrader

	sendBuffer   int
	writeTimeout time.Duration
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewGateway creates a gateway. ctx bounds the work started on behalf of
// clients; cancel it on shutdown.
func NewGateway(ctx context.Context, mgr *orchestrator.Manager, opts Options) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = config.DefaultClientSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = config.DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		ctx:  ctx,
		mgr:  mgr,
		loop: opts.Loop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		sendBuffer:   opts.SendBuffer,
		writeTimeout: opts.WriteTimeout,
		logger:       opts.Logger,
	}
}

// ServeHTTP upgrades the connection and runs the client until it disconnects
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn, g.sendBuffer, g.writeTimeout, g.logger)
	go c.writePump(pingPeriod)

	stop := context.AfterFunc(g.ctx, c.close)
	defer stop()

	g.mgr.Attach(c.id, c)
	g.logger.Info("Client connected", "client_id", c.id, "remote", r.RemoteAddr)

	g.readLoop(c)

	g.mgr.Detach(c.id)
	c.close()
	g.logger.Info("Client disconnected", "client_id", c.id)
}

// Wait blocks until every command started by the gateway has returned
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("Client read failed", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			g.reply(c, fmt.Sprintf("Malformed command: %v", err))
			continue
		}
		g.dispatch(c, cmd)
	}
}

// dispatch routes one command. Long-running commands run on their own
// goroutine so the client can interrupt them.
func (g *Gateway) dispatch(c *client, cmd Command) {
	switch cmd.Type {
	case CmdChat:
		g.spawn(func() { g.chat(c, cmd) })
	case CmdInterrupt:
		g.mgr.Current().HandleInterrupt(g.ctx, c.id)
	case CmdSurfaceError:
		g.spawn(func() { g.surfaceError(c, cmd) })
	case CmdSwitchWorkspace:
		g.spawn(func() { g.switchWorkspace(c, cmd) })
	case CmdLoop:
		g.setLoop(c, cmd)
	case CmdState:
		_ = c.Send(orchestrator.SessionStateEvent(g.mgr.Current().Snapshot()))
	default:
		g.reply(c, fmt.Sprintf("Unknown command type %q", cmd.Type))
	}
}

func (g *Gateway) spawn(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

func (g *Gateway) chat(c *client, cmd Command) {
	res, err := g.mgr.Current().HandleChat(g.ctx, c.id, orchestrator.ChatRequest{
		Input:          cmd.Content,
		Model:          cmd.Model,
		SurfaceContext: cmd.SurfaceContext,
	})
	if err != nil {
		g.logger.Warn("Chat failed",
			"client_id", c.id,
			"task_id", res.TaskID,
			"outcome", res.Outcome,
			"error", err,
		)
		if res.TaskID == "" {
			// never admitted, so no task reported it
			g.reply(c, fmt.Sprintf("Chat refused: %v", err))
		}
	}
}

func (g *Gateway) surfaceError(c *client, cmd Command) {
	outcome, err := g.mgr.Current().HandleSurfaceError(g.ctx, c.id, orchestrator.SurfaceErrorReport{
		SurfaceID:     cmd.SurfaceID,
		ComponentName: cmd.ComponentName,
		ErrorType:     cmd.ErrorType,
		ErrorText:     cmd.Error,
		BrokenSource:  cmd.Source,
		Attempt:       cmd.Attempt,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("Auto-fix failed",
			"client_id", c.id,
			"surface_id", cmd.SurfaceID,
			"component", cmd.ComponentName,
			"outcome", outcome,
			"error", err,
		)
	}
}

func (g *Gateway) switchWorkspace(c *client, cmd Command) {
	if cmd.WorkDir == "" {
		g.reply(c, "switch-workspace requires a workdir")
		return
	}
	if _, err := g.mgr.Switch(g.ctx, cmd.WorkDir); err != nil {
		g.logger.Error("Workspace switch failed", "client_id", c.id, "workdir", cmd.WorkDir, "error", err)
		g.reply(c, fmt.Sprintf("Workspace switch failed: %v", err))
	}
}

func (g *Gateway) setLoop(c *client, cmd Command) {
	if g.loop == nil {
		g.reply(c, "The background loop is not enabled")
		return
	}
	state, err := agentloop.ParseState(cmd.State)
	if err != nil {
		g.reply(c, err.Error())
		return
	}
	g.loop.Set(state)
	g.logger.Info("Loop state changed", "client_id", c.id, "state", g.loop.State())
}

func (g *Gateway) reply(c *client, text string) {
	if err := c.Send(orchestrator.MessageEvent(orchestrator.RoleSystem, text)); err != nil {
		g.logger.Debug("Reply dropped", "client_id", c.id, "error", err)
	}
}
