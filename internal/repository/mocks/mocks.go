package mocks

import (
	"context"
	"errors"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/stretchr/testify/mock"
)

// StateStore is a mock for repository.StateStore.
type StateStore struct {
	mock.Mock
}

func (m *StateStore) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *StateStore) Update(ctx context.Context, key string, fn func(string, bool) (string, error)) error {
	args := m.Called(ctx, key, fn)
	return args.Error(0)
}

// ActivityRepository is a mock for repository.ActivityRepository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Load(ctx context.Context) ([]activity.Record, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]activity.Record); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// Update runs fn over the list returned by the "Load" expectation and
// matches the "Update" expectation against the list fn would store.
func (m *ActivityRepository) Update(ctx context.Context, fn activity.Mutation) error {
	current, loadErr := m.Load(ctx)
	if loadErr != nil && !errors.Is(loadErr, activity.ErrMalformedState) {
		return loadErr
	}
	if loadErr != nil {
		current = []activity.Record{}
	}
	next, err := fn(current, loadErr)
	if err != nil {
		return err
	}
	args := m.Called(ctx, next)
	return args.Error(0)
}

// RoomTransport is a mock for repository.RoomTransport.
type RoomTransport struct {
	mock.Mock
}

func (m *RoomTransport) Join(ctx context.Context, s scope.Scope) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *RoomTransport) Leave(ctx context.Context, s scope.Scope) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

// Backend is a mock for repository.Backend.
type Backend struct {
	mock.Mock
}

func (m *Backend) List(ctx context.Context, s scope.Scope) ([]entity.Record, error) {
	args := m.Called(ctx, s)
	if list, ok := args.Get(0).([]entity.Record); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Backend) Submit(ctx context.Context, s scope.Scope, content, clientRef string) (entity.Record, error) {
	args := m.Called(ctx, s, content, clientRef)
	if rec, ok := args.Get(0).(entity.Record); ok {
		return rec, args.Error(1)
	}
	return entity.Record{}, args.Error(1)
}
