package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxAttempts  = 10
	DefaultPingInterval = 15 * time.Second
	DefaultPongTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)

// State is the connection state reported to OnState.
type State string

const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateGaveUp       State = "gave_up"
)

var (
	// ErrGaveUp is returned by Run after MaxAttempts consecutive failed
	// connection attempts.
	ErrGaveUp = errors.New("gave up reconnecting")

	// ErrPongTimeout closes a connection whose keep-alive went unanswered.
	ErrPongTimeout = errors.New("pong timeout")
)

// Config configures a Supervisor.
type Config struct {
	// ServerURL is the server base URL (http, https, ws or wss).
	ServerURL string
	// Identity is the persisted client identity.
	Identity string

	Backoff      Backoff
	MaxAttempts  int
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	// Header is sent with every handshake.
	Header http.Header
	// Dialer overrides the websocket dialer.
	Dialer *websocket.Dialer

	// OnMessage receives every decoded server frame, in arrival order, on
	// the read goroutine.
	OnMessage func(wire.Frame)
	// OnState is told about connection state changes. err is the reason for
	// StateDisconnected and StateGaveUp.
	OnState func(state State, err error)
}

// Supervisor keeps one websocket connection to the tutor server alive,
// reconnecting with backoff and resuming the current run after a drop.
type Supervisor struct {
	cfg     Config
	baseURL *url.URL
	dialer  *websocket.Dialer
	tracker RunTracker

	mu   sync.Mutex
	conn *websocket.Conn
	// writeMu serializes writers; gorilla connections allow one at a time.
	writeMu sync.Mutex
}

// NewSupervisor validates cfg and returns an idle Supervisor.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	if cfg.Identity == "" {
		return nil, fmt.Errorf("websocket: identity is required")
	}
	base, err := endpoint(cfg.ServerURL, cfg.Identity)
	if err != nil {
		return nil, err
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultDialTimeout,
		}
	}
	return &Supervisor{cfg: cfg, baseURL: base, dialer: dialer}, nil
}

// endpoint maps the server base URL to the per-identity websocket URL.
func endpoint(server, identity string) (*url.URL, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("websocket: invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("websocket: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("websocket: server url has no host")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(identity)
	u.RawQuery = ""
	return u, nil
}

// Connected reports whether a connection is currently established.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Submit sends a run_code request. It fails with ErrNotConnected while the
// supervisor is between connections; requests are never buffered.
func (s *Supervisor) Submit(code, language string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := s.write(conn, wire.RunCode{Code: code, Language: language}); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Run connects and keeps reconnecting until ctx is done or MaxAttempts
// consecutive attempts fail, in which case it returns an error wrapping
// ErrGaveUp.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			logger.Debugf("[ws] dial failed (%d/%d): %v", failures, s.cfg.MaxAttempts, err)
			if failures >= s.cfg.MaxAttempts {
				s.notify(StateGaveUp, err)
				return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, failures, err)
			}
		} else {
			failures = 0
			s.setConn(conn)
			s.notify(StateConnected, nil)

			err = s.serve(ctx, conn)

			s.setConn(nil)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debugf("[ws] connection lost: %v", err)
			s.notify(StateDisconnected, err)
		}

		delay := s.cfg.Backoff.Next(failures)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Supervisor) dial(ctx context.Context) (*websocket.Conn, error) {
	u := *s.baseURL
	if q := s.tracker.Query(); q != nil {
		logger.Debugf("[ws] resuming run %s", s.tracker.RunID())
		u.RawQuery = q.Encode()
	}
	conn, resp, err := s.dialer.DialContext(ctx, u.String(), s.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	logger.Debugf("[ws] connected to %s", u.Redacted())
	return conn, nil
}

// serve runs the read loop and keep-alive for one connection and returns
// when either fails or ctx ends.
func (s *Supervisor) serve(ctx context.Context, conn *websocket.Conn) error {
	pongs := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.readLoop(conn, pongs) })
	g.Go(func() error { return s.keepAlive(gctx, conn, pongs) })
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
		}
		return conn.Close()
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Supervisor) readLoop(conn *websocket.Conn, pongs chan<- struct{}) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := wire.Decode(data)
		if err != nil {
			logger.Debugf("[ws] dropping frame: %v", err)
			continue
		}
		if _, ok := frame.Message.(wire.Pong); ok {
			select {
			case pongs <- struct{}{}:
			default:
			}
			continue
		}
		s.tracker.Observe(frame)
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(frame)
		}
	}
}

func (s *Supervisor) keepAlive(ctx context.Context, conn *websocket.Conn, pongs <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		// Drop a stale pong so only a reply to this ping counts.
		select {
		case <-pongs:
		default:
		}
		if err := s.write(conn, wire.Ping{}); err != nil {
			return err
		}

		timer := time.NewTimer(s.cfg.PongTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-pongs:
			timer.Stop()
		case <-timer.C:
			return ErrPongTimeout
		}
	}
}

func (s *Supervisor) write(conn *websocket.Conn, m wire.Message) error {
	data, err := wire.Encode("", m)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Supervisor) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Supervisor) notify(state State, err error) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(state, err)
	}
}
