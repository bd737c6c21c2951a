// Package ws handles WebSocket connection management: upgrading HTTP
// requests, maintaining active connections, reading client frames, and
// dispatching incoming messages to the appropriate handlers.
package ws

import (
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/peerbridge/peer-app/internal/protocol"
)

// ServerConfig holds tunable parameters for the WebSocket layer.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 10000,
		WriteTimeout:   10 * time.Second,
	}
}

// Server manages WebSocket connections. It upgrades HTTP requests via the
// gobwas/ws zero-copy upgrader and runs one reader goroutine per connection.
// It does not own an HTTP listener; mount HandleUpgrade on the shared mux.
type Server struct {
	config       ServerConfig
	conns        *ConnectionManager
	onMessage    func(conn *Connection, data []byte)
	onDisconnect func(connID string)
	done         chan struct{}
}

// NewServer creates a Server with the given configuration and message
// callback. The onMessage function is called from the connection's reader
// goroutine whenever a complete WebSocket text frame is received.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
}

// SetOnDisconnect registers a callback invoked exactly once when a connection
// is removed (read error, heartbeat timeout, or graceful close).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection. On
// success it assigns an ephemeral connection ID, sends the connected message,
// and starts the reader goroutine.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		WriteTimeout: s.config.WriteTimeout,
	}
	c.touch()
	s.conns.Add(c)

	msg, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		ConnectionID: c.ID,
	})
	if err != nil {
		log.Printf("ws: failed to build connected message conn=%s: %v", c.ID, err)
	} else if err := c.WriteMessage(msg); err != nil {
		log.Printf("ws: failed to send connected message conn=%s: %v", c.ID, err)
	}

	go s.readLoop(c)

	log.Printf("ws: new connection conn=%s (total=%d)", c.ID, s.conns.Count())
}

// readLoop reads frames from the connection until it fails or the server
// shuts down. Control frames refresh liveness; data frames are passed to the
// onMessage callback. When the loop exits the connection is removed.
func (s *Server) readLoop(c *Connection) {
	defer s.RemoveConnection(c)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		// Any frame proves the connection is alive.
		c.touch()

		if header.OpCode.IsControl() {
			payload := make([]byte, header.Length)
			if header.Length > 0 {
				if _, err := io.ReadFull(reader, payload); err != nil {
					return
				}
			}
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writePong(payload); err != nil {
					return
				}
			}
			// Pong frames need no response; liveness is already recorded.
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		if s.onMessage != nil {
			s.onMessage(c, data)
		}
	}
}

// RemoveConnection removes a connection from the manager and closes the
// underlying network connection. Safe to call more than once; the disconnect
// callback fires only for the call that actually removed it.
func (s *Server) RemoveConnection(c *Connection) {
	if !s.conns.Remove(c.ID) {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Printf("ws: connection closed conn=%s (total=%d)", c.ID, s.conns.Count())
}

// SendMessage writes a WebSocket text frame to the connection identified by
// connID. It is goroutine-safe thanks to the per-connection write mutex, and
// the connection's write deadline bounds the time a stalled client can hold
// the caller.
func (s *Server) SendMessage(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		return fmt.Errorf("ws: connection %s not found", connID)
	}
	return c.WriteMessage(data)
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown signals the reader goroutines to exit and closes every active
// connection.
func (s *Server) Shutdown() {
	log.Println("ws: shutting down...")
	close(s.done)

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	log.Println("ws: all connections closed")
}

// registerConn is a test hook that installs a pre-built connection and starts
// its reader loop, bypassing the HTTP upgrade.
func (s *Server) registerConn(conn net.Conn) *Connection {
	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		WriteTimeout: s.config.WriteTimeout,
	}
	c.touch()
	s.conns.Add(c)
	go s.readLoop(c)
	return c
}
