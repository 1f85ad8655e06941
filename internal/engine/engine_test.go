package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/domain/classify"
	"github.com/ganot/desksync/internal/domain/entity"
	"github.com/ganot/desksync/internal/domain/reconcile"
	"github.com/ganot/desksync/internal/domain/scope"
	"github.com/ganot/desksync/internal/engine"
	"github.com/ganot/desksync/internal/repository/mocks"
	"github.com/ganot/desksync/internal/transport"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	agent = engine.Identity{UserID: "u1", Name: "Dana", Role: entity.RoleAgent}
	start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

// memActivity keeps the activity registry in memory.
type memActivity struct {
	mu      sync.Mutex
	records []activity.Record
}

func (m *memActivity) Load(context.Context) ([]activity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]activity.Record(nil), m.records...), nil
}

func (m *memActivity) Update(_ context.Context, fn activity.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(append([]activity.Record{}, m.records...), nil)
	if err != nil {
		return err
	}
	m.records = append([]activity.Record(nil), next...)
	return nil
}

type harness struct {
	eng     *engine.Engine
	backend *mocks.Backend
	rooms   *mocks.RoomTransport
	clock   *clockwork.FakeClock
}

func newHarness(t *testing.T, mutate func(*engine.Options)) *harness {
	t.Helper()
	h := &harness{
		backend: &mocks.Backend{},
		rooms:   &mocks.RoomTransport{},
		clock:   clockwork.NewFakeClockAt(start),
	}
	h.rooms.On("Join", mock.Anything, mock.Anything).Return(nil).Maybe()
	h.rooms.On("Leave", mock.Anything, mock.Anything).Return(nil).Maybe()

	opts := engine.Options{
		Identity: agent,
		Backend:  h.backend,
		Rooms:    h.rooms,
		Clock:    h.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.eng = engine.New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx) }()
	t.Cleanup(func() {
		h.eng.Close()
		cancel()
		<-done
	})
	return h
}

// countLists answers List for sc with records and counts the calls.
func (h *harness) countLists(sc scope.Scope, records []entity.Record) *atomic.Int32 {
	var n atomic.Int32
	h.backend.On("List", mock.Anything, sc).Run(func(mock.Arguments) { n.Add(1) }).Return(records, nil)
	return &n
}

func (h *harness) waitLoaded(t *testing.T, sc scope.Scope) engine.View {
	t.Helper()
	var view engine.View
	require.Eventually(t, func() bool {
		v, err := h.eng.View(context.Background(), sc)
		if err != nil || !v.Loaded || v.Syncing() {
			return false
		}
		view = v
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return view
}

func event(tag string, payload map[string]any) classify.PushEvent {
	return classify.PushEvent{Type: tag, Payload: payload, ReceivedAt: start}
}

func comment(id int64, content string) entity.Record {
	return entity.Record{
		ID:        id,
		Author:    entity.Author{ID: "c9", Name: "Casey", Role: entity.RoleCustomer},
		Content:   content,
		CreatedAt: start,
	}
}

func TestEngine_OpenJoinsOnceAndFetches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sc := scope.Ticket(42)
	lists := h.countLists(sc, []entity.Record{comment(1, "a"), comment(2, "b")})

	_, err := h.eng.Open(ctx, sc)
	require.NoError(t, err)
	_, err = h.eng.Open(ctx, sc)
	require.NoError(t, err)

	view := h.waitLoaded(t, sc)
	require.Len(t, view.Items, 2)
	require.EqualValues(t, 1, lists.Load())
	h.rooms.AssertNumberOfCalls(t, "Join", 1)

	require.NoError(t, h.eng.CloseScope(ctx, sc))
	h.rooms.AssertNumberOfCalls(t, "Leave", 0)
	require.NoError(t, h.eng.CloseScope(ctx, sc))
	h.rooms.AssertNumberOfCalls(t, "Leave", 1)

	err = h.eng.CloseScope(ctx, sc)
	require.ErrorIs(t, err, engine.ErrNotOpen)

	view, err = h.eng.View(ctx, sc)
	require.NoError(t, err)
	require.False(t, view.Loaded)
	require.Empty(t, view.Items)
}

func TestEngine_OpenRejectsInvalidScope(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.eng.Open(context.Background(), scope.Ticket(0))
	require.Error(t, err)
	h.rooms.AssertNotCalled(t, "Join", mock.Anything, mock.Anything)
}

func TestEngine_JoinFailureIsReportedAndScopeStillLoads(t *testing.T) {
	ctx := context.Background()
	rooms := &mocks.RoomTransport{}
	rooms.On("Join", mock.Anything, mock.Anything).Return(transport.ErrNotConnected)
	rooms.On("Leave", mock.Anything, mock.Anything).Return(nil).Maybe()
	h := newHarness(t, func(o *engine.Options) { o.Rooms = rooms })
	sc := scope.Ticket(5)
	h.countLists(sc, []entity.Record{comment(1, "a")})

	reports := h.eng.Errors(ctx)
	_, err := h.eng.Open(ctx, sc)
	require.NoError(t, err)

	select {
	case ev := <-reports:
		require.Equal(t, engine.KindTransportUnavailable, ev.Payload.Kind)
		require.ErrorIs(t, ev.Payload, transport.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
	require.Len(t, h.waitLoaded(t, sc).Items, 1)
}

func TestEngine_CriticalBurstIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(42)

	gate := make(chan struct{})
	var lists atomic.Int32
	h.backend.On("List", mock.Anything, ticket).Run(func(mock.Arguments) {
		lists.Add(1)
		<-gate
	}).Return([]entity.Record{comment(1, "a")}, nil)

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return lists.Load() == 1 }, time.Second, time.Millisecond)

	h.eng.Push(event(classify.TagTicketUpdated, map[string]any{"ticketId": float64(42)}))
	h.eng.Push(event(classify.TagCommentAdded, map[string]any{"ticketId": float64(42)}))
	h.eng.Push(event(classify.TagTicketStatusChanged, map[string]any{"ticketId": float64(42)}))
	h.eng.Push(event(classify.TagTicketUpdated, map[string]any{"ticketId": float64(99)}))

	syncing, err := h.eng.Syncing(ctx, ticket)
	require.NoError(t, err)
	require.True(t, syncing)
	require.EqualValues(t, 1, lists.Load())

	close(gate)
	h.waitLoaded(t, ticket)
	require.Never(t, func() bool { return lists.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	require.EqualValues(t, 2, lists.Load())
	h.backend.AssertNotCalled(t, "List", mock.Anything, scope.Ticket(99))
}

func TestEngine_NormalEventsCoalesce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	chat := scope.Chat(7)
	lists := h.countLists(chat, []entity.Record{})

	_, err := h.eng.Open(ctx, chat)
	require.NoError(t, err)
	h.waitLoaded(t, chat)

	for i := 0; i < 5; i++ {
		h.eng.Push(event(classify.TagChatMessage, map[string]any{"chatId": "7"}))
	}
	syncing, err := h.eng.Syncing(ctx, chat)
	require.NoError(t, err)
	require.True(t, syncing)
	require.EqualValues(t, 1, lists.Load())

	h.clock.Advance(reconcile.DefaultWindow)
	require.Eventually(t, func() bool { return lists.Load() == 2 }, time.Second, time.Millisecond)
	h.waitLoaded(t, chat)
	require.EqualValues(t, 2, lists.Load())
}

func TestEngine_RemovalAppliesWithoutRefetch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(42)
	lists := h.countLists(ticket, []entity.Record{comment(1, "a"), comment(2, "b")})

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	h.waitLoaded(t, ticket)

	h.eng.Push(event(classify.TagCommentDeleted, map[string]any{"ticketId": 42, "commentId": 1}))
	require.Eventually(t, func() bool {
		v, err := h.eng.View(ctx, ticket)
		return err == nil && len(v.Items) == 1 && v.Items[0].Record.ID == 2
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 1, lists.Load())
}

func TestEngine_RemovalDuringFetchIsNotResurrected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(42)

	gate := make(chan struct{})
	var lists atomic.Int32
	count := func(mock.Arguments) { lists.Add(1) }
	h.backend.On("List", mock.Anything, ticket).Run(count).
		Return([]entity.Record{comment(1, "a"), comment(2, "b")}, nil).Once()
	h.backend.On("List", mock.Anything, ticket).Run(func(mock.Arguments) {
		lists.Add(1)
		<-gate
	}).Return([]entity.Record{comment(1, "a"), comment(2, "b")}, nil).Once()
	h.backend.On("List", mock.Anything, ticket).Run(count).
		Return([]entity.Record{comment(2, "b")}, nil)

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	h.waitLoaded(t, ticket)

	require.NoError(t, h.eng.Refresh(ctx, ticket))
	require.Eventually(t, func() bool { return lists.Load() == 2 }, time.Second, time.Millisecond)

	h.eng.Push(event(classify.TagCommentDeleted, map[string]any{"ticketId": 42, "commentId": 1}))
	require.Eventually(t, func() bool {
		v, err := h.eng.View(ctx, ticket)
		return err == nil && len(v.Items) == 1
	}, time.Second, time.Millisecond)

	close(gate)
	view := h.waitLoaded(t, ticket)
	require.Len(t, view.Items, 1)
	require.EqualValues(t, 2, view.Items[0].Record.ID)
	require.EqualValues(t, 3, lists.Load())
}

func TestEngine_TicketDeletedFailsPendingSubmissions(t *testing.T) {
	ctx := context.Background()
	repo := &memActivity{records: []activity.Record{
		{UserID: agent.UserID, ConversationID: "ticket:42", CommentsCount: 2, LastActivity: start},
		{UserID: agent.UserID, ConversationID: "chat:3", MessagesCount: 1, LastActivity: start},
	}}
	h := newHarness(t, func(o *engine.Options) { o.Activity = repo })
	ticket := scope.Ticket(42)
	h.countLists(ticket, []entity.Record{comment(1, "a")})

	sending := make(chan struct{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.backend.On("Submit", mock.Anything, ticket, "hello", mock.Anything).
		Run(func(mock.Arguments) {
			close(sending)
			<-release
		}).
		Return(entity.Record{}, errors.New("gone"))

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	h.waitLoaded(t, ticket)

	reports := h.eng.Errors(ctx)
	entry, err := h.eng.Submit(ctx, ticket, "hello")
	require.NoError(t, err)
	<-sending

	h.eng.Push(event(classify.TagTicketDeleted, map[string]any{"ticketId": 42}))

	select {
	case ev := <-reports:
		require.Equal(t, engine.KindSubmitFailed, ev.Payload.Kind)
		require.Equal(t, entry.LocalID, ev.Payload.LocalID)
		require.Equal(t, "hello", ev.Payload.Content)
		require.ErrorIs(t, ev.Payload, engine.ErrScopeDeleted)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}

	view, err := h.eng.View(ctx, ticket)
	require.NoError(t, err)
	require.Empty(t, view.Items)

	require.Eventually(t, func() bool {
		active, err := h.eng.ActiveConversations(ctx)
		return err == nil && len(active) == 1 && active[0].ConversationID == "chat:3"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_SubmitConfirmsAgainstServerRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(42)

	created := entity.Record{ID: 7, Author: agent.Author(), Content: "hello", CreatedAt: start}
	h.backend.On("List", mock.Anything, ticket).Return([]entity.Record{}, nil).Once()
	h.backend.On("List", mock.Anything, ticket).Return([]entity.Record{created}, nil)
	h.backend.On("Submit", mock.Anything, ticket, "hello", mock.AnythingOfType("string")).Return(created, nil)

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	h.waitLoaded(t, ticket)

	entry, err := h.eng.Submit(ctx, ticket, "hello")
	require.NoError(t, err)
	require.NotEmpty(t, entry.LocalID)

	require.Eventually(t, func() bool {
		v, err := h.eng.View(ctx, ticket)
		return err == nil && !v.Syncing() && len(v.Items) == 1 && !v.Items[0].Pending
	}, 2*time.Second, 5*time.Millisecond)

	view, err := h.eng.View(ctx, ticket)
	require.NoError(t, err)
	require.EqualValues(t, 7, view.Items[0].Record.ID)

	status, err := h.eng.Status(ctx)
	require.NoError(t, err)
	require.Zero(t, status.Pending)
}

func TestEngine_SubmitFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	chat := scope.Chat(3)
	h.countLists(chat, []entity.Record{})
	h.backend.On("Submit", mock.Anything, chat, "hello", mock.Anything).Return(nil, errors.New("boom"))

	_, err := h.eng.Open(ctx, chat)
	require.NoError(t, err)
	h.waitLoaded(t, chat)

	reports := h.eng.Errors(ctx)
	entry, err := h.eng.Submit(ctx, chat, "hello")
	require.NoError(t, err)

	select {
	case ev := <-reports:
		require.Equal(t, engine.KindSubmitFailed, ev.Payload.Kind)
		require.Equal(t, entry.LocalID, ev.Payload.LocalID)
		require.Equal(t, "hello", ev.Payload.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}

	view, err := h.eng.View(ctx, chat)
	require.NoError(t, err)
	require.Empty(t, view.Items)
	require.Len(t, h.eng.RecentErrors(), 1)
}

func TestEngine_SubmitValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	_, err := h.eng.Submit(ctx, scope.Chat(1), "   ")
	require.ErrorIs(t, err, engine.ErrEmptyContent)
	_, err = h.eng.Submit(ctx, scope.Global, "hi")
	require.ErrorIs(t, err, engine.ErrReadOnlyScope)
	h.backend.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_StaleFetchAfterCloseIsDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(8)

	gate := make(chan struct{})
	var lists atomic.Int32
	h.backend.On("List", mock.Anything, ticket).Run(func(mock.Arguments) {
		lists.Add(1)
		<-gate
	}).Return([]entity.Record{comment(1, "stale")}, nil).Once()
	h.backend.On("List", mock.Anything, ticket).Return([]entity.Record{comment(2, "fresh")}, nil)

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return lists.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.eng.CloseScope(ctx, ticket))

	_, err = h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	view := h.waitLoaded(t, ticket)
	require.Len(t, view.Items, 1)
	require.EqualValues(t, 2, view.Items[0].Record.ID)

	close(gate)
	require.Never(t, func() bool {
		v, err := h.eng.View(ctx, ticket)
		return err != nil || len(v.Items) != 1 || v.Items[0].Record.ID != 2
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestEngine_FetchFailureIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(4)
	h.backend.On("List", mock.Anything, ticket).Return(nil, errors.New("unreachable"))

	reports := h.eng.Errors(ctx)
	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)

	select {
	case ev := <-reports:
		require.Equal(t, engine.KindFetchFailed, ev.Payload.Kind)
		require.Equal(t, ticket, ev.Payload.Scope)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
	syncing, err := h.eng.Syncing(ctx, ticket)
	require.NoError(t, err)
	require.False(t, syncing)
}

func TestEngine_ReconnectRejoinsAndRefetches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(42)
	lists := h.countLists(ticket, []entity.Record{})

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	h.waitLoaded(t, ticket)

	reports := h.eng.Errors(ctx)
	h.eng.Connection(transport.StateDisconnected)
	select {
	case ev := <-reports:
		require.Equal(t, engine.KindTransportUnavailable, ev.Payload.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}

	h.eng.Connection(transport.StateReconnected)
	require.Eventually(t, func() bool { return lists.Load() == 2 }, time.Second, time.Millisecond)
	h.rooms.AssertNumberOfCalls(t, "Join", 2)

	status, err := h.eng.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, transport.StateReconnected, status.Connection)
	require.Len(t, status.Scopes, 1)
}

func TestEngine_RefreshRequiresOpenScope(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	ticket := scope.Ticket(42)
	lists := h.countLists(ticket, []entity.Record{})

	require.ErrorIs(t, h.eng.Refresh(ctx, ticket), engine.ErrNotOpen)

	_, err := h.eng.Open(ctx, ticket)
	require.NoError(t, err)
	h.waitLoaded(t, ticket)
	require.NoError(t, h.eng.Refresh(ctx, ticket))
	require.Eventually(t, func() bool { return lists.Load() == 2 }, time.Second, time.Millisecond)
}

func TestEngine_DictationPublishesDrafts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, nil)
	chat := scope.Chat(1)

	updates := h.eng.Updates(ctx)
	buf := h.eng.Dictation(chat)
	require.Same(t, buf, h.eng.Dictation(chat))

	buf.Start()
	buf.Final("hello")

	for {
		select {
		case ev := <-updates:
			if ev.Type != engine.UpdateDraft {
				continue
			}
			require.Equal(t, chat, ev.Payload.Scope)
			require.Equal(t, "hello", ev.Payload.Draft)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no draft update")
		}
	}
}

func TestEngine_SubmitTouchesActivity(t *testing.T) {
	ctx := context.Background()
	repo := &memActivity{}
	h := newHarness(t, func(o *engine.Options) { o.Activity = repo })
	chat := scope.Chat(3)
	h.countLists(chat, []entity.Record{})
	h.backend.On("Submit", mock.Anything, chat, "hi", mock.Anything).
		Return(entity.Record{ID: 1, Author: agent.Author(), Content: "hi"}, nil)

	_, err := h.eng.Open(ctx, chat)
	require.NoError(t, err)
	_, err = h.eng.Submit(ctx, chat, "hi")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		active, err := h.eng.ActiveConversations(ctx)
		return err == nil && len(active) == 1 && active[0].MessagesCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	active, err := h.eng.ActiveConversations(ctx)
	require.NoError(t, err)
	require.Equal(t, "chat:3", active[0].ConversationID)
}

func TestEngine_MalformedLocalStateIsReported(t *testing.T) {
	ctx := context.Background()
	repo := &mocks.ActivityRepository{}
	repo.On("Load", mock.Anything).Return(nil, activity.ErrMalformedState)
	h := newHarness(t, func(o *engine.Options) { o.Activity = repo })

	reports := h.eng.Errors(ctx)
	active, err := h.eng.ActiveConversations(ctx)
	require.NoError(t, err)
	require.Empty(t, active)

	select {
	case ev := <-reports:
		require.Equal(t, engine.KindMalformedLocalState, ev.Payload.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("no report")
	}
}

func TestEngine_CloseEndsSubscriptions(t *testing.T) {
	h := newHarness(t, nil)
	updates := h.eng.Updates(context.Background())

	h.eng.Close()
	_, ok := <-updates
	require.False(t, ok)

	_, err := h.eng.View(context.Background(), scope.Global)
	require.ErrorIs(t, err, engine.ErrClosed)
}
