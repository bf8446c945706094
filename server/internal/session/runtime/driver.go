package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/codetutor/protocol/wire"
	"github.com/bhandras/codetutor/shared/logger"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultRunTimeout is the inactivity ceiling for a run.
	DefaultRunTimeout = 60 * time.Second
	// DefaultReferenceCount is how many document fragments are retrieved
	// for the explainer.
	DefaultReferenceCount = 3
	// referenceCodePrefix bounds how much code goes into the retrieval
	// query.
	referenceCodePrefix = 200
)

// Driver runs the two producers of a run and interprets the state machine's
// effects.
type Driver struct {
	executor  Executor
	explainer Explainer
	retriever Retriever

	runTimeout time.Duration
	references int
	now        func() time.Time
}

// DriverConfig configures a Driver.
type DriverConfig struct {
	Executor  Executor
	Explainer Explainer
	// Retriever is optional.
	Retriever Retriever
	// RunTimeout is the inactivity ceiling. Zero means DefaultRunTimeout.
	RunTimeout time.Duration
	// References is the number of fragments to retrieve. Zero means
	// DefaultReferenceCount.
	References int
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// NewDriver creates a Driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Executor == nil {
		return nil, errors.New("runtime: executor is required")
	}
	if cfg.Explainer == nil {
		return nil, errors.New("runtime: explainer is required")
	}
	d := &Driver{
		executor:   cfg.Executor,
		explainer:  cfg.Explainer,
		retriever:  cfg.Retriever,
		runTimeout: cfg.RunTimeout,
		references: cfg.References,
		now:        cfg.Now,
	}
	if d.runTimeout <= 0 {
		d.runTimeout = DefaultRunTimeout
	}
	if d.references <= 0 {
		d.references = DefaultReferenceCount
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Supports reports whether the executor can run lang.
func (d *Driver) Supports(lang Language) bool {
	return d.executor.Supports(lang)
}

// Now returns the driver clock's current time.
func (d *Driver) Now() time.Time { return d.now() }

// Task is a started run.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel requests cancellation of both producers.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once both producers returned and the terminal message was
// handed to the outbox.
func (t *Task) Done() <-chan struct{} { return t.done }

// Start interprets the effects of the Submitted transition and launches the
// producers. ctx bounds the lifetime of the run (normally the session).
func (d *Driver) Start(ctx context.Context, host Host, run *Run, effects []Effect, out Outbox) *Task {
	runCtx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}
	rt := &runTask{
		driver:   d,
		host:     host,
		run:      run,
		runID:    run.ID,
		ctx:      ctx,
		cancel:   cancel,
		activity: make(chan struct{}, 1),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		rt.execute(runCtx, effects, out)
	}()
	return t
}

// runTask is the driver state for one run.
type runTask struct {
	driver *Driver
	host   Host
	run    *Run
	runID  string

	// ctx is the parent context; terminal delivery uses it so that a run
	// cancelled by its own failure still reports the failure.
	ctx    context.Context
	cancel context.CancelFunc

	activity chan struct{}

	mu     sync.Mutex
	finish wire.Message
}

func (t *runTask) execute(runCtx context.Context, effects []Effect, out Outbox) {
	start := false
	for _, eff := range effects {
		if _, ok := eff.(StartProducers); ok {
			start = true
		}
	}
	if err := t.perform(runCtx, effects, out); err != nil {
		logger.Debugf("[runtime] run %s: initial effects: %v", t.runID, err)
	}
	if !start {
		t.deliverFinish()
		return
	}

	g, gctx := errgroup.WithContext(runCtx)
	watchdogDone := make(chan struct{})
	go t.watchdog(gctx, watchdogDone)

	req := t.run.Request()
	g.Go(func() error {
		err := t.driver.executor.Execute(gctx, req, func(c OutputChunk) error {
			return t.apply(gctx, OutputProduced{Chunk: c})
		})
		t.apply(gctx, ExecutorFinished{Err: err, At: t.driver.now()})
		return err
	})
	g.Go(func() error {
		ereq := ExplainRequest{Request: req, References: t.references(gctx, req)}
		err := t.driver.explainer.Explain(gctx, ereq, func(fragment string) error {
			return t.apply(gctx, FragmentProduced{Text: fragment})
		})
		t.apply(gctx, ExplainerFinished{Err: err, At: t.driver.now()})
		return err
	})

	err := g.Wait()
	close(watchdogDone)
	if err != nil {
		logger.Debugf("[runtime] run %s: producers stopped: %v", t.runID, err)
	}
	t.deliverFinish()
}

// apply feeds ev to the host and performs the resulting effects.
func (t *runTask) apply(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		switch ev.(type) {
		case ExecutorFinished, ExplainerFinished, TimedOut:
		default:
			return err
		}
	}
	t.touch()
	effects, out := t.host.Apply(t.run, ev)
	return t.perform(ctx, effects, out)
}

func (t *runTask) perform(ctx context.Context, effects []Effect, out Outbox) error {
	for _, eff := range effects {
		switch e := eff.(type) {
		case Emit:
			if out == nil {
				continue
			}
			if err := out.Enqueue(ctx, t.runID, e.Msg); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// The transport went away; the run log keeps the message
				// for a reconnecting client.
				logger.Debugf("[runtime] run %s: dropped %s: %v", t.runID, e.Msg.MessageType(), err)
			}
		case CancelProducers:
			t.cancel()
		case Finish:
			t.mu.Lock()
			if t.finish == nil {
				t.finish = e.Msg
			}
			t.mu.Unlock()
		case StartProducers:
		}
	}
	return nil
}

// deliverFinish hands the terminal message to whichever client is attached
// now. It runs after both producers returned, so nothing of this run can
// follow it. The run is released only once the message is queued.
func (t *runTask) deliverFinish() {
	msg, out := t.host.Finish(t.run)
	if msg == nil {
		logger.Warnf("[runtime] run %s: producers returned without a terminal state", t.runID)
		t.host.Release(t.run, nil)
		return
	}
	logger.Infof("[runtime] run %s finished: %s", t.runID, msg.MessageType())
	if out != nil {
		if err := out.Enqueue(t.ctx, t.runID, msg); err != nil {
			logger.Debugf("[runtime] run %s: terminal not delivered: %v", t.runID, err)
		}
	}
	t.host.Release(t.run, out)
}

func (t *runTask) references(ctx context.Context, req Request) []string {
	if t.driver.retriever == nil {
		return nil
	}
	refs, err := t.driver.retriever.Retrieve(ctx, ReferenceQuery(req), t.driver.references)
	if err != nil {
		logger.Warnf("[runtime] run %s: reference lookup failed: %v", t.runID, err)
		return nil
	}
	return refs
}

func (t *runTask) touch() {
	select {
	case t.activity <- struct{}{}:
	default:
	}
}

// watchdog fails the run when neither producer shows activity within the
// run timeout.
func (t *runTask) watchdog(ctx context.Context, done <-chan struct{}) {
	timeout := t.driver.runTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-t.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			logger.Warnf("[runtime] run %s: no activity for %s", t.runID, timeout)
			effects, out := t.host.Apply(t.run, TimedOut{After: timeout, At: t.driver.now()})
			_ = t.perform(ctx, effects, out)
			return
		}
	}
}

// ReferenceQuery builds the document retrieval query for a run.
func ReferenceQuery(req Request) string {
	code := req.Code
	if len(code) > referenceCodePrefix {
		code = code[:referenceCodePrefix]
	}
	return fmt.Sprintf("%s code %s", req.Language, code)
}
