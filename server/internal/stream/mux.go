package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/gorilla/websocket"
)

const (
	// DefaultQueueSize bounds each producer queue.
	DefaultQueueSize = 256
	// DefaultWriteTimeout bounds a single transport write.
	DefaultWriteTimeout = 10 * time.Second
)

// ErrMuxClosed is returned by Enqueue once the mux stopped writing.
var ErrMuxClosed = errors.New("stream: mux closed")

// Transport is the write side of a websocket connection.
type Transport interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
}

// Config configures a Mux.
type Config struct {
	QueueSize    int
	WriteTimeout time.Duration
	// OnDegraded is called once, from the writer goroutine, when a write
	// fails or times out.
	OnDegraded func(err error)
}

type item struct {
	runID string
	msg   wire.Message
}

type closeRequest struct {
	code   int
	reason string
}

// Mux serializes control messages, program output and explanation
// fragments onto one transport. It is the only writer of data and close
// frames. Websocket-level pong frames are answered by the connection's ping
// handler through WriteControl, which gorilla allows concurrently with
// WriteMessage.
//
// Per-queue order is preserved. Primed backlog items go first, then control
// items, then output and explanation alternate. A terminal message is
// written only after every output and explanation item queued before it.
type Mux struct {
	conn Transport
	cfg  Config

	control     chan item
	output      chan item
	explanation chan item

	mu      sync.Mutex
	backlog []item
	wake    chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	closeReq  closeRequest

	done chan struct{}
	// err is the reason the writer stopped; read after done is closed.
	err error
}

// NewMux creates a Mux writing to conn. Call Run to start the writer.
func NewMux(conn Transport, cfg Config) *Mux {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Mux{
		conn:        conn,
		cfg:         cfg,
		control:     make(chan item, cfg.QueueSize),
		output:      make(chan item, cfg.QueueSize),
		explanation: make(chan item, cfg.QueueSize),
		wake:        make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
		closeReq:    closeRequest{code: websocket.CloseNormalClosure},
		done:        make(chan struct{}),
	}
}

// Enqueue queues msg for delivery. It blocks while the message's queue is
// full until there is space, ctx is done, or the mux stops.
func (m *Mux) Enqueue(ctx context.Context, runID string, msg wire.Message) error {
	select {
	case <-m.done:
		return ErrMuxClosed
	case <-m.closeCh:
		return ErrMuxClosed
	default:
	}

	q := m.queueFor(msg)
	select {
	case q <- item{runID: runID, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrMuxClosed
	case <-m.closeCh:
		return ErrMuxClosed
	}
}

func (m *Mux) queueFor(msg wire.Message) chan item {
	switch msg.(type) {
	case wire.ExecutionOutput:
		return m.output
	case wire.RAGExplanation:
		return m.explanation
	default:
		return m.control
	}
}

// Prime appends catch-up messages to the backlog, which is written before
// anything queued.
func (m *Mux) Prime(runID string, msgs []wire.Message) {
	if len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	for _, msg := range msgs {
		m.backlog = append(m.backlog, item{runID: runID, msg: msg})
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close asks the writer to send a normal close frame and stop.
func (m *Mux) Close() error {
	return m.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith asks the writer to send a close frame with code and reason and
// stop. Only the first close request has an effect.
func (m *Mux) CloseWith(code int, reason string) error {
	m.closeOnce.Do(func() {
		m.closeReq = closeRequest{code: code, reason: reason}
		close(m.closeCh)
	})
	return nil
}

// Done is closed when the writer has stopped.
func (m *Mux) Done() <-chan struct{} { return m.done }

// Err returns why the writer stopped. It is only meaningful after Done.
func (m *Mux) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Run is the writer loop. It returns when the mux is closed, ctx is done, or
// a write fails.
func (m *Mux) Run(ctx context.Context) error {
	err := m.loop(ctx)
	m.err = err
	close(m.done)
	return err
}

func (m *Mux) loop(ctx context.Context) error {
	preferExplanation := false
	for {
		select {
		case <-m.closeCh:
			return m.writeClose()
		case <-ctx.Done():
			_ = m.writeClose()
			return ctx.Err()
		default:
		}

		if it, ok := m.popBacklog(); ok {
			if err := m.write(it); err != nil {
				return err
			}
			continue
		}

		select {
		case it := <-m.control:
			if err := m.writeControl(it); err != nil {
				return err
			}
			continue
		default:
		}

		first, second := m.output, m.explanation
		if preferExplanation {
			first, second = second, first
		}
		if it, ok := tryRecv(first); ok {
			if err := m.write(it); err != nil {
				return err
			}
			preferExplanation = !preferExplanation
			continue
		}
		if it, ok := tryRecv(second); ok {
			if err := m.write(it); err != nil {
				return err
			}
			continue
		}

		var err error
		select {
		case <-m.closeCh:
			return m.writeClose()
		case <-ctx.Done():
			_ = m.writeClose()
			return ctx.Err()
		case <-m.wake:
		case it := <-m.control:
			err = m.writeControl(it)
		case it := <-m.output:
			err = m.write(it)
			preferExplanation = true
		case it := <-m.explanation:
			err = m.write(it)
			preferExplanation = false
		}
		if err != nil {
			return err
		}
	}
}

// writeControl writes a control item. Terminal items first flush the
// producer queues.
func (m *Mux) writeControl(it item) error {
	if wire.IsTerminal(it.msg) {
		if err := m.flush(); err != nil {
			return err
		}
	}
	return m.write(it)
}

func (m *Mux) flush() error {
	for {
		progressed := false
		if it, ok := tryRecv(m.output); ok {
			if err := m.write(it); err != nil {
				return err
			}
			progressed = true
		}
		if it, ok := tryRecv(m.explanation); ok {
			if err := m.write(it); err != nil {
				return err
			}
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

func (m *Mux) popBacklog() (item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.backlog) == 0 {
		return item{}, false
	}
	it := m.backlog[0]
	m.backlog[0] = item{}
	m.backlog = m.backlog[1:]
	return it, true
}

func (m *Mux) write(it item) error {
	data, err := wire.Encode(it.runID, it.msg)
	if err != nil {
		// Invalid messages are dropped; the connection stays up.
		logger.Errorf("[stream] dropping %s: %v", it.msg.MessageType(), err)
		return nil
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout)); err != nil {
		return m.degrade(err)
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return m.degrade(err)
	}
	return nil
}

func (m *Mux) writeClose() error {
	payload := websocket.FormatCloseMessage(m.closeReq.code, m.closeReq.reason)
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := m.conn.WriteMessage(websocket.CloseMessage, payload); err != nil {
		logger.Debugf("[stream] close frame not written: %v", err)
	}
	return ErrMuxClosed
}

func (m *Mux) degrade(err error) error {
	err = fmt.Errorf("stream: write failed: %w", err)
	logger.Warnf("[stream] transport degraded: %v", err)
	if m.cfg.OnDegraded != nil {
		m.cfg.OnDegraded(err)
	}
	return err
}

func tryRecv(q chan item) (item, bool) {
	select {
	case it := <-q:
		return it, true
	default:
		return item{}, false
	}
}
