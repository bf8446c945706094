package websocket

import (
	"context"
	"errors"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/server/internal/session"
	"github.com/bhandras/codetutor/server/internal/stream"
	"github.com/bhandras/codetutor/server/internal/websocket/handlers"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gorilla/websocket"
)

// ClientConnection is one live websocket attached to a session.
type ClientConnection struct {
	ClientID    session.ClientIdentity
	Epoch       uint64
	Resumed     bool
	RemoteAddr  string
	ConnectedAt time.Time

	conn   *websocket.Conn
	mux    *stream.Mux
	server *Server
}

// Close closes the connection with a normal close frame.
func (c *ClientConnection) Close() {
	_ = c.mux.Close()
}

func (c *ClientConnection) readLoop(ctx context.Context) {
	cfg := c.server.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[ws] %s: read: %v", c.ClientID, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.server.registry.Touch(c.ClientID, c.Epoch)

		if !c.dispatch(ctx, data) {
			return
		}
	}
}

// dispatch handles one inbound frame and reports whether the connection
// should stay open.
func (c *ClientConnection) dispatch(ctx context.Context, data []byte) bool {
	frame, err := wire.Decode(data)
	if err != nil {
		if errors.Is(err, wire.ErrUnknownMessageType) {
			logger.Warnf("[ws] %s: dropping frame: %v", c.ClientID, err)
			return true
		}
		logger.Warnf("[ws] %s: %v", c.ClientID, err)
		if c.server.cfg.CloseOnMalformed {
			_ = c.mux.CloseWith(websocket.CloseUnsupportedData, "malformed message")
			return false
		}
		return true
	}

	conn := handlers.NewConnContext(c.ClientID, c.Epoch)

	var res handlers.EventResult
	switch m := frame.Message.(type) {
	case wire.RunCode:
		res = handlers.RunCode(c.server.deps, conn, m)
	case wire.Ping:
		res = handlers.Ping(conn)
	default:
		logger.Warnf("[ws] %s: ignoring server-side message %s", c.ClientID, m.MessageType())
		return true
	}

	if runID := res.RunID(); runID != "" {
		logger.Debugf("[ws] %s: run_code accepted as run %s", c.ClientID, runID)
	}
	for _, reply := range res.Replies() {
		if err := c.mux.Enqueue(ctx, "", reply); err != nil {
			logger.Debugf("[ws] %s: reply %s not sent: %v", c.ClientID, reply.MessageType(), err)
			return false
		}
	}
	return true
}
