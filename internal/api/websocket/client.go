package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCalibrationCore/internal/auth"
	"github.com/KevinKickass/OpenCalibrationCore/internal/signal"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256

	authWait       = 10 * time.Second
	commandTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a WebSocket client connection
type Client struct {
	id            uuid.UUID
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	logger        *zap.Logger
	authenticated bool
	permissions   []auth.Permission

	// nil means all signals
	mu      sync.RWMutex
	signals map[string]bool
}

func (c *Client) wants(signalName string) bool {
	if signalName == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.signals == nil || c.signals[signalName]
}

func (c *Client) can(p auth.Permission) bool {
	for _, have := range c.permissions {
		if have == p {
			return true
		}
	}
	return false
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	if !c.authenticated {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	}

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", c.id.String()))
			}
			break
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg ClientMessage) bool {
	if msg.Type != MessageTypeAuth {
		c.sendAuthFailed("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	permissions, err := c.hub.authService.ValidateToken(
		context.Background(),
		msg.Token,
		c.conn.RemoteAddr().String(),
		"", // User-Agent not available in WebSocket
	)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed",
			zap.Error(err),
			zap.String("client_id", c.id.String()))
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.authenticated = true
	c.permissions = permissions
	c.conn.SetReadDeadline(time.Time{}) // Remove deadline

	c.sendAuthSuccess(permissions)
	c.logger.Info("WebSocket client authenticated",
		zap.String("client_id", c.id.String()),
		zap.Any("permissions", permissions))

	// NOW register to hub (only after auth)
	return c.hub.registerClient(c)
}

// sendDirect is only safe before the client is registered.
func (c *Client) sendDirect(msg map[string]interface{}) {
	data, _ := json.Marshal(msg)
	c.send <- data
}

func (c *Client) sendAuthSuccess(permissions []auth.Permission) {
	c.sendDirect(map[string]interface{}{
		"type":        "auth_success",
		"timestamp":   time.Now(),
		"permissions": permissions,
	})
}

func (c *Client) sendAuthFailed(reason string) {
	c.sendDirect(map[string]interface{}{
		"type":      "auth_failed",
		"timestamp": time.Now(),
		"reason":    reason,
	})
}

func (c *Client) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.mu.Lock()
		if len(msg.Signals) == 0 {
			c.signals = nil
		} else {
			c.signals = make(map[string]bool, len(msg.Signals))
			for _, s := range msg.Signals {
				c.signals[s] = true
			}
		}
		c.mu.Unlock()
		c.logger.Debug("WebSocket subscription changed",
			zap.String("client_id", c.id.String()),
			zap.Strings("signals", msg.Signals))

	case MessageTypeCommand:
		c.runCommand(msg)

	default:
		c.logger.Debug("Ignoring client message",
			zap.String("client_id", c.id.String()),
			zap.String("type", string(msg.Type)))
	}
}

func (c *Client) runCommand(msg ClientMessage) {
	required := auth.PermOperator
	if strings.HasPrefix(msg.Signal, signal.WritePrefix) {
		required = auth.PermTechnician
	}

	var err error
	switch {
	case c.hub.handler == nil:
		err = errNoHandler
	case !c.can(required):
		err = errForbidden
	default:
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		err = c.hub.handler.HandleSignal(ctx, msg.Signal, msg.Value)
		cancel()
	}

	data, merr := json.Marshal(NewCommandResultMessage(msg.Signal, err))
	if merr != nil {
		return
	}
	c.hub.sendTo(c, data)
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Coalesce queued messages into current websocket message
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		id:     uuid.New(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger, // <- Logger vom Hub übernehmen
	}

	if !hub.authRequired() {
		client.authenticated = true
		client.permissions = auth.RoleToPermissions("admin")
		if !hub.registerClient(client) {
			conn.Close()
			return
		}
	}

	// Start read and write pumps in separate goroutines
	go client.writePump()
	go client.readPump()
}
