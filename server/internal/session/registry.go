package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/server/internal/session/runtime"
	"github.com/bhandras/codetutor/shared/logger"
	"github.com/google/uuid"
)

const (
	// DefaultGracePeriod is how long a disconnected session is retained.
	DefaultGracePeriod = 30 * time.Second
	// DefaultIdleTTL evicts connected sessions without inbound activity.
	DefaultIdleTTL = 5 * time.Minute
	// DefaultSweepInterval is the janitor period.
	DefaultSweepInterval = 5 * time.Second
)

// Config configures a Registry.
type Config struct {
	GracePeriod   time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Resume describes what a reconnecting client has already received.
type Resume struct {
	RunID           string
	OutputSeen      int
	ExplanationSeen int
	SawTerminal     bool
}

// Submission is a run request from a client.
type Submission struct {
	Code     string
	Language runtime.Language
}

// Registry maps client identities to sessions.
//
// Every attachment is stamped with an epoch so that a superseded connection
// cannot detach or submit on behalf of its replacement.
type Registry struct {
	driver *runtime.Driver
	cfg    Config

	mu        sync.Mutex
	sessions  map[ClientIdentity]*Session
	lastEpoch uint64
}

// NewRegistry creates a registry that starts runs with driver.
func NewRegistry(driver *runtime.Driver, cfg Config) *Registry {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		driver:   driver,
		cfg:      cfg,
		sessions: make(map[ClientIdentity]*Session),
	}
}

// Attach binds att to the session for id, creating the session on first
// contact. An existing attachment is superseded and closed. When resume is
// set, att is primed with whatever part of the session's run the client has
// not seen yet.
//
// The returned epoch must accompany Detach, Touch and Submit calls.
func (r *Registry) Attach(id ClientIdentity, att Attachment, resume *Resume) (epoch uint64, resumed bool) {
	now := r.cfg.Now()

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, now)
		r.sessions[id] = s
	}
	r.lastEpoch++
	epoch = r.lastEpoch

	s.mu.Lock()
	old := s.attachment
	s.attachment = att
	s.epoch = epoch
	s.status = StatusConnected
	s.lastActivity = now
	s.disconnectedAt = time.Time{}
	switch {
	case ok && resume != nil && s.run != nil:
		r.primeLocked(s, att, resume)
	case resume != nil && resume.RunID != "" && !resume.SawTerminal:
		// The run the client is waiting on died with its session.
		att.Prime(resume.RunID, []wire.Message{runtime.ErrSessionGone.Wire()})
	}
	s.mu.Unlock()
	r.mu.Unlock()

	if old != nil && old != att {
		logger.Debugf("[registry] %s: superseding previous connection", id)
		_ = old.Close()
	}
	logger.Infof("[registry] %s attached (epoch=%d resumed=%t)", id, epoch, ok)
	return epoch, ok
}

// primeLocked queues the catch-up tail of the session's run. s.mu is held.
func (r *Registry) primeLocked(s *Session, att Attachment, resume *Resume) {
	run := s.run
	out, expl, sawTerminal := 0, 0, false
	if resume.RunID == run.ID {
		out, expl, sawTerminal = resume.OutputSeen, resume.ExplanationSeen, resume.SawTerminal
	}
	tail := run.Tail(out, expl, sawTerminal)
	if run.Terminal() != nil && !run.Released() && !sawTerminal {
		// The terminal is on its way to the previous attachment.
		s.owed = att
	}
	if len(tail) == 0 && !run.Active() {
		return
	}
	msgs := make([]wire.Message, 0, len(tail)+1)
	msgs = append(msgs, wire.Status{Message: StatusReconnectedMessage})
	msgs = append(msgs, tail...)
	att.Prime(run.ID, msgs)
}

// Detach marks the session disconnected if epoch is still current. The
// session and its run are retained for the grace period.
func (r *Registry) Detach(id ClientIdentity, epoch uint64) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	s.attachment = nil
	s.status = StatusDisconnected
	s.disconnectedAt = r.cfg.Now()
	logger.Infof("[registry] %s detached (epoch=%d)", id, epoch)
}

// Touch records inbound activity for the idle timer.
func (r *Registry) Touch(id ClientIdentity, epoch uint64) {
	s := r.lookup(id, epoch)
	if s == nil {
		return
	}
	now := r.cfg.Now()
	s.mu.Lock()
	if s.epoch == epoch {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

// Submit starts a new run for the session. It fails with a *runtime.PolicyError
// when the language is unsupported, a run is already active, or the
// attachment identified by epoch is no longer current.
func (r *Registry) Submit(id ClientIdentity, epoch uint64, sub Submission) (string, error) {
	s := r.lookup(id, epoch)
	if s == nil {
		return "", runtime.ErrSessionGone
	}
	if !r.driver.Supports(sub.Language) {
		return "", runtime.UnsupportedLanguage(sub.Language)
	}

	now := r.cfg.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Wait until the previous run's terminal message is queued so the new
	// run cannot overtake it.
	for s.finishing != nil {
		finishing := s.finishing
		s.mu.Unlock()
		<-finishing
		s.mu.Lock()
	}

	if s.epoch != epoch {
		return "", runtime.ErrSessionGone
	}
	s.lastActivity = now
	if s.busyLocked() {
		return "", runtime.ErrRunAlreadyActive
	}

	run := runtime.NewRun(uuid.NewString(), sub.Code, sub.Language)
	effects := run.Handle(runtime.Submitted{At: r.driver.Now()})
	s.run = run
	s.task = r.driver.Start(s.ctx, s, run, effects, s.outboxLocked(run))

	logger.Infof("[registry] %s: run %s started (%s)", id, run.ID, sub.Language)
	return run.ID, nil
}

// Evict destroys the session for id, cancelling its run and closing its
// transport. It reports whether a session existed.
func (r *Registry) Evict(id ClientIdentity) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.shutdown()
	logger.Infof("[registry] %s evicted", id)
	return true
}

// Sweep evicts sessions whose grace period or idle TTL elapsed at now and
// returns their identities.
func (r *Registry) Sweep(now time.Time) []ClientIdentity {
	var (
		expired []ClientIdentity
		victims []*Session
	)

	r.mu.Lock()
	for id, s := range r.sessions {
		if reason := r.expired(s, now); reason != "" {
			logger.Debugf("[registry] %s expired: %s", id, reason)
			delete(r.sessions, id)
			expired = append(expired, id)
			victims = append(victims, s)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.shutdown()
	}
	return expired
}

func (r *Registry) expired(s *Session, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case StatusDisconnected:
		if now.Sub(s.disconnectedAt) >= r.cfg.GracePeriod {
			return fmt.Sprintf("disconnected for %s", now.Sub(s.disconnectedAt))
		}
	case StatusConnected:
		if s.busyLocked() {
			return ""
		}
		if now.Sub(s.lastActivity) >= r.cfg.IdleTTL {
			return fmt.Sprintf("idle for %s", now.Sub(s.lastActivity))
		}
	}
	return ""
}

// Run sweeps expired sessions until ctx is done, then evicts everything.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			if evicted := r.Sweep(r.cfg.Now()); len(evicted) > 0 {
				logger.Infof("[registry] swept %d session(s)", len(evicted))
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

// Snapshot returns a view of the session for id.
func (r *Registry) Snapshot(id ClientIdentity) (Snapshot, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// lookup returns the session for id if epoch is its current attachment.
func (r *Registry) lookup(id ClientIdentity, epoch uint64) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return nil
	}
	return s
}
