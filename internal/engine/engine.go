// Package engine keeps a client's view of tickets, comments and chats
// consistent with the desk server. All state is owned by a single event
// loop; push events, timer fires, fetch and submit completions and calls
// from the view layer are queued onto it and run to completion in order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/membership"
	"github.com/ganot/desksync/internal/domain/optimistic"
	"github.com/ganot/desksync/internal/domain/reconcile"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/domain/transcript"
	"github.com/ganot/desksync/internal/pubsub"
	"github.com/ganot/desksync/internal/transport"
)

// Engine is the synchronization engine of one user session.
type Engine struct {
	opts   Options
	logger *slog.Logger

	ops     chan func()
	stop    context.Context
	halt    context.CancelFunc
	closed  chan struct{}
	exited  chan struct{}
	running atomic.Bool
	once    sync.Once

	// bg scopes fetches and submits running outside the loop.
	bg       context.Context
	cancelBg context.CancelFunc
	wg       sync.WaitGroup

	updates  *pubsub.Broker[Update]
	reports  *pubsub.Broker[Report]
	registry *activity.Registry

	recentMu sync.Mutex
	recent   []Report

	draftsMu sync.Mutex
	drafts   map[scope.Scope]*transcript.Buffer

	// Owned by the loop.
	members    *membership.Service
	classifier *classify.Classifier
	sched      *reconcile.Scheduler
	ledger     *optimistic.Ledger
	records    map[scope.Scope][]entity.Record
	loaded     map[scope.Scope]bool
	removed    map[scope.Scope]*tombstone
	connection transport.ConnState
}

// New creates an engine. Run must be called to start processing.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	stop, halt := context.WithCancel(context.Background())
	bg, cancelBg := context.WithCancel(context.Background())

	e := &Engine{
		opts:       opts,
		logger:     opts.Logger,
		ops:        make(chan func(), opsBacklog),
		stop:       stop,
		halt:       halt,
		closed:     make(chan struct{}),
		exited:     make(chan struct{}),
		bg:         bg,
		cancelBg:   cancelBg,
		updates:    pubsub.NewBroker[Update](0, opts.Logger),
		reports:    pubsub.NewBroker[Report](0, opts.Logger),
		drafts:     map[scope.Scope]*transcript.Buffer{},
		records:    map[scope.Scope][]entity.Record{},
		loaded:     map[scope.Scope]bool{},
		removed:    map[scope.Scope]*tombstone{},
		connection: transport.StateDisconnected,
	}

	e.members = membership.NewService(opts.Rooms, opts.Logger)
	e.classifier = classify.NewClassifier(e.members.Holds, nil, opts.Logger)
	e.sched = reconcile.NewScheduler(reconcile.Options{
		Clock:    opts.Clock,
		Window:   opts.CoalesceWindow,
		Dispatch: e.dispatch,
		Post:     e.post,
		OnState:  e.onSchedState,
		Logger:   opts.Logger,
	})
	e.ledger = optimistic.NewLedger(optimistic.Options{
		Clock:     opts.Clock,
		Tolerance: opts.MatchTolerance,
		MaxPasses: opts.MaxPasses,
		Logger:    opts.Logger,
	})
	if opts.Activity != nil {
		e.registry = activity.NewRegistry(opts.Activity, activity.Options{
			Clock: opts.Clock,
			OnMalformed: func(err error) {
				e.report(Report{Kind: KindMalformedLocalState, Err: err})
			},
			Logger: opts.Logger,
		})
	}
	return e
}

// Run processes the event loop until ctx is done or Close is called, then
// tears the session down.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(e.exited)

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return ctx.Err()
		case <-e.stop.Done():
			e.teardown()
			return nil
		case fn := <-e.ops:
			e.safely(fn)
		}
	}
}

// Close releases every scope, cancels timers and in-flight requests and
// closes subscriber channels. It is safe to call more than once.
func (e *Engine) Close() {
	e.halt()
	if e.running.Load() {
		<-e.exited
		return
	}
	e.teardown()
}

func (e *Engine) teardown() {
	e.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRoomTimeout)
		defer cancel()
		if err := e.members.ReleaseAll(ctx); err != nil {
			e.logger.Debug("leaving rooms on close", "error", err)
		}
		e.sched.Stop()

		e.draftsMu.Lock()
		for _, b := range e.drafts {
			b.Stop()
		}
		e.draftsMu.Unlock()

		e.cancelBg()
		close(e.closed)
		e.wg.Wait()
		e.updates.Close()
		e.reports.Close()
		e.logger.Info("sync engine closed")
	})
}

// post queues fn onto the loop. It never runs fn after the engine closed.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.closed:
	}
}

// call runs fn on the loop and waits for it.
func (e *Engine) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case e.ops <- wrapped:
	case <-e.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-e.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// goBackground runs fn outside the loop, tracked for teardown.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.bg)
	}()
}

func (e *Engine) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine task panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Updates subscribes to view-layer updates until ctx is done.
func (e *Engine) Updates(ctx context.Context) <-chan pubsub.Event[Update] {
	return e.updates.Subscribe(ctx)
}

// Errors subscribes to error reports until ctx is done.
func (e *Engine) Errors(ctx context.Context) <-chan pubsub.Event[Report] {
	return e.reports.Subscribe(ctx)
}

func (e *Engine) report(r Report) {
	if r.At.IsZero() {
		r.At = e.opts.Clock.Now()
	}
	e.logger.Warn("sync error", "kind", string(r.Kind), "scope", r.Scope.String(), "error", r.Err)

	e.recentMu.Lock()
	e.recent = append(e.recent, r)
	if len(e.recent) > recentErrorLimit {
		e.recent = e.recent[len(e.recent)-recentErrorLimit:]
	}
	e.recentMu.Unlock()

	e.reports.Publish(pubsub.EventType(r.Kind), r)
}

// RecentErrors returns the latest reports, oldest first.
func (e *Engine) RecentErrors() []Report {
	e.recentMu.Lock()
	defer e.recentMu.Unlock()
	return append([]Report(nil), e.recent...)
}

// Status returns a snapshot of the connection, every held scope and the
// recent error ring.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	var st Status
	err := e.call(ctx, func() {
		st.Connection = e.connection
		st.Pending = e.ledger.Len()
		for _, sc := range e.members.Scopes() {
			st.Scopes = append(st.Scopes, ScopeStatus{
				Scope:       sc,
				Subscribers: e.members.Count(sc),
				State:       e.sched.State(sc),
				Loaded:      e.loaded[sc],
				Pending:     len(e.ledger.Pending(sc)),
			})
		}
	})
	if err != nil {
		return Status{}, err
	}
	st.RecentErrors = e.RecentErrors()
	return st, nil
}
