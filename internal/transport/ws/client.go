package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

// ErrSlowClient is returned when a client's outbound buffer is full
var ErrSlowClient = errors.New("client send buffer full")

// ErrClientClosed is returned when sending to a disconnected client
var ErrClientClosed = errors.New("client closed")

// client is one websocket connection. It implements orchestrator.Sender;
// events are queued and written by the write pump.
type client struct {
	id     string
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once

	writeTimeout time.Duration
	logger       *slog.Logger
}

func newClient(id string, conn *websocket.Conn, buffer int, writeTimeout time.Duration, logger *slog.Logger) *client {
	return &client{
		id:           id,
		conn:         conn,
		sendCh:       make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Send implements orchestrator.Sender. It never blocks.
func (c *client) Send(ev orchestrator.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		return ErrSlowClient
	}
}

// close stops the write pump
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// writePump drains sendCh to the connection and pings at pingPeriod. It
// closes the connection on exit.
func (c *client) writePump(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Client write failed", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			// flush what is already queued so terminal events are not lost
			for {
				select {
				case data := <-c.sendCh:
					_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
					return
				}
			}
		}
	}
}
