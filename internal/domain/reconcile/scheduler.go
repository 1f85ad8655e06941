package reconcile

import (
	"fmt"
	"log/slog"

	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/jonboulle/clockwork"
)

type scopeState struct {
	state State
	timer clockwork.Timer
	// gen identifies the armed debounce timer. It is drawn from the
	// scheduler-wide counter so a fire posted by an earlier window never
	// matches a later one.
	gen         uint64
	again       bool
	againReason string
	inflight    RefetchRequest
}

// Scheduler decides when to refetch each scope. At most one refetch per
// scope is pending or in flight; triggers that arrive during a fetch set a
// single "again" flag so that none is lost.
//
// Scheduler is not safe for concurrent use. Timer callbacks are routed
// through Options.Post onto the owning goroutine.
type Scheduler struct {
	opts    Options
	states  map[scope.Scope]*scopeState
	seq     uint64
	gens    uint64
	stopped bool
	logger  *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(opts Options) *Scheduler {
	opts = opts.withDefaults()
	return &Scheduler{
		opts:   opts,
		states: map[scope.Scope]*scopeState{},
		logger: opts.Logger,
	}
}

// Trigger feeds a classified push event into the state machine.
func (s *Scheduler) Trigger(ev classify.ClassifiedEvent) {
	s.Request(ev.Scope, ev.Priority, ev.Type)
}

// Request asks for a refetch of sc.
func (s *Scheduler) Request(sc scope.Scope, priority classify.Priority, reason string) {
	if s.stopped {
		return
	}
	st := s.states[sc]
	if st == nil {
		st = &scopeState{}
		s.states[sc] = st
	}

	switch st.state {
	case StateFetching:
		if !st.again {
			st.againReason = reason
		}
		st.again = true
		s.logger.Debug("refetch queued behind in-flight fetch", "scope", sc.String(), "reason", reason)

	case StatePendingDebounce:
		if priority != classify.PriorityCritical {
			return
		}
		st.timer.Stop()
		st.gen = 0
		s.dispatch(sc, st, priority, reason)

	default:
		if priority == classify.PriorityCritical {
			s.dispatch(sc, st, priority, reason)
			return
		}
		s.gens++
		gen := s.gens
		st.gen = gen
		st.state = StatePendingDebounce
		st.againReason = reason
		st.timer = s.opts.Clock.AfterFunc(s.opts.Window, func() {
			s.opts.Post(func() { s.fire(sc, gen) })
		})
		s.notify(sc, StatePendingDebounce)
	}
}

func (s *Scheduler) fire(sc scope.Scope, gen uint64) {
	st := s.states[sc]
	if s.stopped || st == nil || st.state != StatePendingDebounce || st.gen != gen {
		s.logger.Debug("stale debounce fire dropped", "scope", sc.String(), "gen", gen)
		return
	}
	s.dispatch(sc, st, classify.PriorityNormal, st.againReason)
}

func (s *Scheduler) dispatch(sc scope.Scope, st *scopeState, priority classify.Priority, reason string) {
	s.seq++
	req := RefetchRequest{
		Scope:       sc,
		Reason:      reason,
		Priority:    priority,
		RequestedAt: s.opts.Clock.Now(),
		Seq:         s.seq,
	}
	st.state = StateFetching
	st.timer = nil
	st.again = false
	st.againReason = ""
	st.inflight = req
	s.notify(sc, StateFetching)
	s.logger.Debug("refetch dispatched", "scope", sc.String(), "reason", reason, "priority", priority.String(), "seq", req.Seq)
	if s.opts.Dispatch != nil {
		s.opts.Dispatch(req)
	}
}

// Owns reports whether req is the fetch currently in flight for its scope.
func (s *Scheduler) Owns(req RefetchRequest) bool {
	st := s.states[req.Scope]
	return st != nil && st.state == StateFetching && st.inflight.Seq == req.Seq
}

// InFlight returns the fetch currently in flight for sc.
func (s *Scheduler) InFlight(sc scope.Scope) (RefetchRequest, bool) {
	st := s.states[sc]
	if st == nil || st.state != StateFetching {
		return RefetchRequest{}, false
	}
	return st.inflight, true
}

// Complete reports the end of a refetch. The caller applies a successful
// result before calling Complete. A set "again" flag re-dispatches at
// once; otherwise the scope returns to idle. A failed fetch returns to
// idle with the flag cleared and no retry, and the failure is returned
// wrapped in ErrFetchFailed.
func (s *Scheduler) Complete(req RefetchRequest, fetchErr error) error {
	if !s.Owns(req) {
		return fmt.Errorf("%w: %s seq %d", ErrStaleCompletion, req.Scope, req.Seq)
	}
	st := s.states[req.Scope]

	if fetchErr != nil {
		s.idle(req.Scope)
		return fmt.Errorf("%w: %s: %w", ErrFetchFailed, req.Scope, fetchErr)
	}
	if st.again {
		s.dispatch(req.Scope, st, classify.PriorityCritical, st.againReason)
		return nil
	}
	s.idle(req.Scope)
	return nil
}

func (s *Scheduler) idle(sc scope.Scope) {
	delete(s.states, sc)
	s.notify(sc, StateIdle)
}

// Forget drops all state for sc, cancelling its timer. A fetch still in
// flight completes as stale.
func (s *Scheduler) Forget(sc scope.Scope) {
	st, ok := s.states[sc]
	if !ok {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	s.idle(sc)
}

// State returns the state of sc.
func (s *Scheduler) State(sc scope.Scope) State {
	if st, ok := s.states[sc]; ok {
		return st.state
	}
	return StateIdle
}

// Stop cancels every timer and rejects further requests.
func (s *Scheduler) Stop() {
	s.stopped = true
	for sc, st := range s.states {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(s.states, sc)
	}
}

func (s *Scheduler) notify(sc scope.Scope, state State) {
	if s.opts.OnState != nil {
		s.opts.OnState(sc, state)
	}
}
