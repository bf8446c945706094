package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Next(t *testing.T) {
	mid := Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2, Jitter: 0.2,
		Rand: func() float64 { return 0.5 }}
	require.Equal(t, 500*time.Millisecond, mid.Next(0))
	require.Equal(t, time.Second, mid.Next(1))
	require.Equal(t, 8*time.Second, mid.Next(4))
	require.Equal(t, 10*time.Second, mid.Next(5))
	require.Equal(t, 10*time.Second, mid.Next(50))

	low := mid
	low.Rand = func() float64 { return 0 }
	require.Equal(t, 400*time.Millisecond, low.Next(0))

	for i := 0; i < 100; i++ {
		d := DefaultBackoff().Next(1)
		require.GreaterOrEqual(t, d, 800*time.Millisecond)
		require.LessOrEqual(t, d, 1200*time.Millisecond)
	}
}

func TestRunTracker(t *testing.T) {
	var tr RunTracker
	require.Nil(t, tr.Query())

	tr.Observe(wire.Frame{Message: wire.Pong{}})
	require.Nil(t, tr.Query())

	tr.Observe(wire.Frame{RunID: "r1", Message: wire.Status{Message: "Running"}})
	tr.Observe(wire.Frame{RunID: "r1", Message: wire.ExecutionOutput{Stream: wire.Stdout, Data: "1\n"}})
	tr.Observe(wire.Frame{RunID: "r1", Message: wire.RAGExplanation{Data: "This "}})
	tr.Observe(wire.Frame{RunID: "r1", Message: wire.RAGExplanation{Data: "prints."}})
	require.Equal(t, url.Values{
		"run": {"r1"}, "out": {"1"}, "expl": {"2"}, "done": {"false"},
	}, tr.Query())

	tr.Observe(wire.Frame{RunID: "r1", Message: wire.ExecutionComplete{}})
	require.Equal(t, "true", tr.Query().Get("done"))

	tr.Observe(wire.Frame{RunID: "r2", Message: wire.Status{Message: "Running"}})
	require.Equal(t, url.Values{
		"run": {"r2"}, "out": {"0"}, "expl": {"0"}, "done": {"false"},
	}, tr.Query())
}

func TestRunTracker_SessionGoneEndsRun(t *testing.T) {
	var tr RunTracker
	tr.Observe(wire.Frame{RunID: "r1", Message: wire.ExecutionOutput{Stream: wire.Stdout, Data: "1\n"}})
	tr.Observe(wire.Frame{RunID: "r1", Message: wire.Error{Code: wire.CodeSessionGone, Message: "session no longer exists"}})
	require.Equal(t, url.Values{
		"run": {"r1"}, "out": {"1"}, "expl": {"0"}, "done": {"true"},
	}, tr.Query())

	// Other rejections leave the run open.
	tr.Observe(wire.Frame{RunID: "r2", Message: wire.Error{Code: wire.CodeRunAlreadyActive, Message: "busy"}})
	require.Equal(t, "false", tr.Query().Get("done"))
}

func TestEndpoint(t *testing.T) {
	u, err := endpoint("http://localhost:8000", "editor-1")
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:8000/ws/editor-1", u.String())

	u, err = endpoint("https://tutor.example/api/", "editor-1")
	require.NoError(t, err)
	require.Equal(t, "wss://tutor.example/api/ws/editor-1", u.String())

	_, err = endpoint("ftp://tutor.example", "editor-1")
	require.Error(t, err)
	_, err = endpoint("http://", "editor-1")
	require.Error(t, err)
}

// fakeServer upgrades every connection and hands it to handle along with
// the handshake query.
type fakeServer struct {
	*httptest.Server
	mu      sync.Mutex
	queries []url.Values
}

func newFakeServer(t *testing.T, handle func(n int, conn *websocket.Conn)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.queries = append(fs.queries, r.URL.Query())
		n := len(fs.queries)
		fs.mu.Unlock()
		handle(n, conn)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) connections() []url.Values {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]url.Values(nil), fs.queries...)
}

// sendFrame runs on server goroutines, so it reports nothing to t.
func sendFrame(conn *websocket.Conn, runID string, m wire.Message) {
	data, err := wire.Encode(runID, m)
	if err != nil {
		panic(err)
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

type recorder struct {
	mu     sync.Mutex
	frames []wire.Frame
	states []State
	errs   []error
}

func (r *recorder) onMessage(f wire.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recorder) onState(s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	r.errs = append(r.errs, err)
}

func (r *recorder) messages() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.Message, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Message
	}
	return out
}

func (r *recorder) sawState(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, got := range r.states {
		if got == s {
			return true
		}
	}
	return false
}

func fastConfig(serverURL string, rec *recorder) Config {
	return Config{
		ServerURL:   serverURL,
		Identity:    "editor-1",
		Backoff:     Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond, Factor: 2},
		MaxAttempts: 3,
		OnMessage:   rec.onMessage,
		OnState:     rec.onState,
	}
}

func TestSupervisor_SubmitWhileDisconnected(t *testing.T) {
	sup, err := NewSupervisor(Config{ServerURL: "http://127.0.0.1:1", Identity: "editor-1"})
	require.NoError(t, err)
	require.False(t, sup.Connected())
	require.ErrorIs(t, sup.Submit("print(1)", "python"), ErrNotConnected)
}

func TestSupervisor_ReconnectResumesRun(t *testing.T) {
	got := make(chan wire.RunCode, 1)
	fs := newFakeServer(t, func(n int, conn *websocket.Conn) {
		defer conn.Close()
		if n == 1 {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := wire.Decode(data)
			if err != nil {
				return
			}
			got <- f.Message.(wire.RunCode)
			sendFrame(conn, "r1", wire.Status{Message: "Running"})
			sendFrame(conn, "r1", wire.ExecutionOutput{Stream: wire.Stdout, Data: "1\n"})
			// Drop the connection mid-run.
			return
		}
		sendFrame(conn, "r1", wire.Status{Message: "Reconnected"})
		sendFrame(conn, "r1", wire.ExecutionComplete{})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := &recorder{}
	sup, err := NewSupervisor(fastConfig(fs.URL, rec))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, sup.Connected, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sup.Submit("print(1)", "python"))
	require.Equal(t, wire.RunCode{Code: "print(1)", Language: "python"}, <-got)

	require.Eventually(t, func() bool { return len(rec.messages()) == 4 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, []wire.Message{
		wire.Status{Message: "Running"},
		wire.ExecutionOutput{Stream: wire.Stdout, Data: "1\n"},
		wire.Status{Message: "Reconnected"},
		wire.ExecutionComplete{},
	}, rec.messages())

	conns := fs.connections()
	require.Len(t, conns, 2)
	require.Empty(t, conns[0])
	require.Equal(t, url.Values{"run": {"r1"}, "out": {"1"}, "expl": {"0"}, "done": {"false"}}, conns[1])
	require.True(t, rec.sawState(StateDisconnected))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	rec := &recorder{}
	sup, err := NewSupervisor(fastConfig(srv.URL, rec))
	require.NoError(t, err)

	err = sup.Run(context.Background())
	require.ErrorIs(t, err, ErrGaveUp)
	require.True(t, rec.sawState(StateGaveUp))
	require.False(t, rec.sawState(StateConnected))
}

func TestSupervisor_PongTimeoutReconnects(t *testing.T) {
	fs := newFakeServer(t, func(_ int, conn *websocket.Conn) {
		defer conn.Close()
		// Read pings but never answer them.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := &recorder{}
	cfg := fastConfig(fs.URL, rec)
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PongTimeout = 20 * time.Millisecond
	sup, err := NewSupervisor(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, func() bool { return len(fs.connections()) >= 2 }, 2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var timedOut bool
	for i, s := range rec.states {
		if s == StateDisconnected && errors.Is(rec.errs[i], ErrPongTimeout) {
			timedOut = true
		}
	}
	require.True(t, timedOut)
}

func TestSupervisor_PongKeepsConnection(t *testing.T) {
	fs := newFakeServer(t, func(_ int, conn *websocket.Conn) {
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if f, err := wire.Decode(data); err == nil {
				if _, ok := f.Message.(wire.Ping); ok {
					sendFrame(conn, "", wire.Pong{})
				}
			}
		}
	})

	rec := &recorder{}
	cfg := fastConfig(fs.URL, rec)
	cfg.PingInterval = 10 * time.Millisecond
	cfg.PongTimeout = 200 * time.Millisecond
	sup, err := NewSupervisor(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	require.Eventually(t, sup.Connected, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.Len(t, fs.connections(), 1)
	require.Empty(t, rec.messages(), "pongs are consumed by the keep-alive")
}
