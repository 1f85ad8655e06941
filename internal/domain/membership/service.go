package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ganot/desksync/internal/domain/scope"
)

// Service reference-counts local subscribers per scope and keeps the
// transport's room membership minimal: a join is sent only on the 0→1
// edge and a leave only on the 1→0 edge.
//
// Service is not safe for concurrent use; the engine calls it from its
// event loop.
type Service struct {
	rooms  RoomTransport
	counts map[scope.Scope]int
	logger *slog.Logger
}

// NewService creates a membership service.
func NewService(rooms RoomTransport, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		rooms:  rooms,
		counts: map[scope.Scope]int{},
		logger: logger,
	}
}

// Acquire adds a local subscriber. joined reports whether this call was the
// first subscriber. A transport failure does not undo the local count; the
// room is joined again by Rejoin after the transport reconnects.
func (s *Service) Acquire(ctx context.Context, sc scope.Scope) (joined bool, err error) {
	if !sc.Valid() {
		return false, fmt.Errorf("%w: %s", ErrInvalidScope, sc)
	}
	s.counts[sc]++
	if s.counts[sc] != 1 {
		return false, nil
	}
	s.logger.Debug("joining scope", "scope", sc.String())
	return true, s.join(ctx, sc)
}

// Release drops a local subscriber. left reports whether it was the last one.
func (s *Service) Release(ctx context.Context, sc scope.Scope) (left bool, err error) {
	n, ok := s.counts[sc]
	if !ok || n == 0 {
		return false, fmt.Errorf("%w: %s", ErrNotHeld, sc)
	}
	if n > 1 {
		s.counts[sc] = n - 1
		return false, nil
	}
	delete(s.counts, sc)
	s.logger.Debug("leaving scope", "scope", sc.String())
	return true, s.leave(ctx, sc)
}

// Holds reports whether sc has at least one local subscriber.
func (s *Service) Holds(sc scope.Scope) bool {
	return s.counts[sc] > 0
}

// Count returns the number of local subscribers for sc.
func (s *Service) Count(sc scope.Scope) int {
	return s.counts[sc]
}

// Scopes returns every held scope in key order.
func (s *Service) Scopes() []scope.Scope {
	out := make([]scope.Scope, 0, len(s.counts))
	for sc := range s.counts {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Rejoin re-issues joins for every held scope. Room membership does not
// survive a transport reconnect. The first error is returned after all
// joins have been attempted.
func (s *Service) Rejoin(ctx context.Context) error {
	var firstErr error
	for _, sc := range s.Scopes() {
		if err := s.join(ctx, sc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReleaseAll leaves every held scope and resets the counts. Used on
// session teardown.
func (s *Service) ReleaseAll(ctx context.Context) error {
	var firstErr error
	for _, sc := range s.Scopes() {
		delete(s.counts, sc)
		if err := s.leave(ctx, sc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Service) join(ctx context.Context, sc scope.Scope) error {
	if sc.IsGlobal() || s.rooms == nil {
		return nil
	}
	if err := s.rooms.Join(ctx, sc); err != nil {
		return fmt.Errorf("joining %s: %w", sc, err)
	}
	return nil
}

func (s *Service) leave(ctx context.Context, sc scope.Scope) error {
	if sc.IsGlobal() || s.rooms == nil {
		return nil
	}
	if err := s.rooms.Leave(ctx, sc); err != nil {
		return fmt.Errorf("leaving %s: %w", sc, err)
	}
	return nil
}
