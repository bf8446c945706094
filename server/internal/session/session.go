package session

import (
	"context"
	"sync"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
)

// StatusReconnectedMessage is sent ahead of the catch-up tail when a client
// reattaches to a session that has a run.
const StatusReconnectedMessage = "Reconnected"

// ConnStatus is the attachment state of a session.
type ConnStatus string

const (
	StatusConnected    ConnStatus = "connected"
	StatusDisconnected ConnStatus = "disconnected"
)

// Attachment is the outbound side of one transport connection.
type Attachment interface {
	runtime.Outbox
	// Prime queues catch-up messages ahead of anything enqueued later.
	Prime(runID string, msgs []wire.Message)
	// Close tears the transport down. It must be safe to call more than once.
	Close() error
}

// Session is the server-side state for one client identity. It outlives
// individual transport connections.
type Session struct {
	id ClientIdentity

	// ctx bounds every run of the session; cancel is called on eviction.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	status         ConnStatus
	attachment     Attachment
	epoch          uint64
	run            *runtime.Run
	task           *runtime.Task
	createdAt      time.Time
	lastActivity   time.Time
	disconnectedAt time.Time

	// finishing is closed when the run's terminal message has been queued.
	// It is nil outside Finish..Release.
	finishing chan struct{}
	// owed is an attachment primed while the terminal was in flight to an
	// earlier one; it still needs the terminal.
	owed Attachment
}

func newSession(id ClientIdentity, now time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:           id,
		ctx:          ctx,
		cancel:       cancel,
		status:       StatusDisconnected,
		createdAt:    now,
		lastActivity: now,
	}
}

// ID returns the session's client identity.
func (s *Session) ID() ClientIdentity { return s.id }

// Apply implements runtime.Host.
func (s *Session) Apply(run *runtime.Run, ev runtime.Event) ([]runtime.Effect, runtime.Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return run.Handle(ev), s.outboxLocked(run)
}

// Finish implements runtime.Host.
func (s *Session) Finish(run *runtime.Run) (wire.Message, runtime.Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == run && s.finishing == nil {
		s.finishing = make(chan struct{})
	}
	return run.Terminal(), s.outboxLocked(run)
}

// Release implements runtime.Host.
func (s *Session) Release(run *runtime.Run, out runtime.Outbox) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := run.MarkReleased()
	if s.run != run {
		return
	}
	if owed := s.owed; owed != nil {
		s.owed = nil
		if msg != nil && owed == s.attachment && runtime.Outbox(owed) != out {
			owed.Prime(run.ID, []wire.Message{msg})
		}
	}
	if s.finishing != nil {
		close(s.finishing)
		s.finishing = nil
	}
}

// outboxLocked returns the current attachment as an Outbox, or a nil
// interface when detached or when run is no longer the session's run.
func (s *Session) outboxLocked(run *runtime.Run) runtime.Outbox {
	if s.attachment == nil || s.run != run {
		return nil
	}
	return s.attachment
}

// busyLocked reports whether the session's run has not yet released its
// terminal message. A run stays busy until then so that its terminal message
// is never overtaken by the next run. While the terminal is being queued,
// finishing is non-nil and callers wait on it instead of failing.
func (s *Session) busyLocked() bool {
	return s.run != nil && !s.run.Released()
}

// shutdown cancels the session's run and closes its transport.
func (s *Session) shutdown() {
	s.cancel()

	s.mu.Lock()
	att := s.attachment
	s.attachment = nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	if att != nil {
		_ = att.Close()
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID             ClientIdentity `json:"client_id"`
	Status         ConnStatus     `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivity   time.Time      `json:"last_activity"`
	DisconnectedAt *time.Time     `json:"disconnected_at,omitempty"`
	Run            *RunSnapshot   `json:"run,omitempty"`
}

// RunSnapshot summarizes the session's current or most recent run.
type RunSnapshot struct {
	ID                   string           `json:"run_id"`
	Language             runtime.Language `json:"language"`
	Status               runtime.Status   `json:"status"`
	OutputChunks         int              `json:"output_chunks"`
	ExplanationFragments int              `json:"explanation_fragments"`
	Error                string           `json:"error,omitempty"`
	StartedAt            time.Time        `json:"started_at"`
	EndedAt              *time.Time       `json:"ended_at,omitempty"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.id,
		Status:       s.status,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
	}
	if !s.disconnectedAt.IsZero() && s.status == StatusDisconnected {
		t := s.disconnectedAt
		snap.DisconnectedAt = &t
	}
	if s.run != nil {
		rs := &RunSnapshot{
			ID:                   s.run.ID,
			Language:             s.run.Language,
			Status:               s.run.Status,
			OutputChunks:         len(s.run.Output),
			ExplanationFragments: len(s.run.Explanation),
			Error:                s.run.Err,
			StartedAt:            s.run.StartedAt,
		}
		if !s.run.EndedAt.IsZero() {
			t := s.run.EndedAt
			rs.EndedAt = &t
		}
		snap.Run = rs
	}
	return snap
}
