package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bhandras/codetutor/server/internal/session"
	"github.com/bhandras/codetutor/server/internal/stream"
	"github.com/bhandras/codetutor/server/internal/websocket/handlers"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// DefaultReadTimeout is how long a connection may stay silent.
	DefaultReadTimeout = 60 * time.Second
	// DefaultMaxMessageBytes limits inbound frame size.
	DefaultMaxMessageBytes = 1 << 20
)

// Config configures the websocket server.
type Config struct {
	ReadTimeout     time.Duration
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	QueueSize       int
	// CloseOnMalformed closes the connection after a malformed frame.
	CloseOnMalformed bool
	// CheckOrigin overrides the upgrader's origin check. Nil allows all
	// origins.
	CheckOrigin func(r *http.Request) bool
}

// Server accepts client websocket connections and attaches them to
// sessions.
type Server struct {
	registry *session.Registry
	manager  *ConnectionManager
	deps     handlers.Deps
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server backed by registry.
func NewServer(registry *session.Registry, cfg Config) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = stream.DefaultWriteTimeout
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool {
			return true // Allow all origins for self-hosting
		}
	}
	return &Server{
		registry: registry,
		manager:  NewConnectionManager(),
		deps:     handlers.NewDeps(registry),
		cfg:      cfg,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// Connections returns the live connection tracker.
func (s *Server) Connections() *ConnectionManager { return s.manager }

// Shutdown closes every live connection. Sessions are left to the registry.
func (s *Server) Shutdown() {
	if n := s.manager.GetConnectionCount(); n > 0 {
		logger.Infof("[ws] closing %d connections", n)
	}
	s.manager.CloseAll()
}

// HandleWebSocket serves GET /ws/:client_id.
func (s *Server) HandleWebSocket(c *gin.Context) {
	id, err := session.ParseClientIdentity(c.Param("client_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resume, err := parseResume(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] %s: upgrade failed: %v", id, err)
		return
	}

	s.serve(id, conn, resume)
}

// serve owns conn until the client goes away or the connection is
// superseded.
func (s *Server) serve(id session.ClientIdentity, conn *websocket.Conn, resume *session.Resume) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := stream.NewMux(conn, stream.Config{
		QueueSize:    s.cfg.QueueSize,
		WriteTimeout: s.cfg.WriteTimeout,
		OnDegraded: func(err error) {
			// Unblocks the read loop, which then detaches.
			_ = conn.Close()
		},
	})

	client := &ClientConnection{
		ClientID:    id,
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		mux:         mux,
		server:      s,
	}
	client.Epoch, client.Resumed = s.registry.Attach(id, mux, resume)

	s.manager.AddConnection(client)
	defer s.manager.RemoveConnection(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := mux.Run(ctx); err != nil && !errors.Is(err, stream.ErrMuxClosed) {
			logger.Debugf("[ws] %s: writer stopped: %v", id, err)
		}
		// The mux is done writing; a superseded or evicted connection
		// must also stop reading.
		_ = conn.Close()
	}()

	logger.Infof("[ws] %s connected from %s (epoch=%d resumed=%t)",
		id, client.RemoteAddr, client.Epoch, client.Resumed)

	client.readLoop(ctx)

	s.registry.Detach(id, client.Epoch)
	_ = mux.Close()
	<-writerDone
	logger.Infof("[ws] %s disconnected (epoch=%d)", id, client.Epoch)
}
