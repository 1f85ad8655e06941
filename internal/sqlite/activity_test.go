package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/stretchr/testify/require"
)

func newActivityRepo(t *testing.T) (*ActivityRepository, *StateStore) {
	t.Helper()
	store := NewStateStore(NewTestDB(t))
	repo, err := NewActivityRepository(store, "")
	require.NoError(t, err)
	return repo, store
}

// openActivityRepo opens its own connection pool on the database at path,
// the way a second client process would.
func openActivityRepo(t *testing.T, path string) *ActivityRepository {
	t.Helper()
	db, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.RunMigrations())
	repo, err := NewActivityRepository(NewStateStore(db), "")
	require.NoError(t, err)
	return repo
}

func appendRecord(rec activity.Record) activity.Mutation {
	return func(records []activity.Record, _ error) ([]activity.Record, error) {
		return append(records, rec), nil
	}
}

func TestActivityRepository_UpdateLoad(t *testing.T) {
	ctx := context.Background()
	repo, _ := newActivityRepo(t)

	records, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, records)

	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, repo.Update(ctx, appendRecord(activity.Record{UserID: "u1", ConversationID: "ticket:42", CommentsCount: 2, LastActivity: at})))
	require.NoError(t, repo.Update(ctx, appendRecord(activity.Record{UserID: "u1", ConversationID: "chat:7", MessagesCount: 1, LastActivity: at})))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "ticket:42", got[0].ConversationID)
	require.True(t, at.Equal(got[0].LastActivity))
}

func TestActivityRepository_MalformedState(t *testing.T) {
	ctx := context.Background()
	repo, store := newActivityRepo(t)

	cases := []string{
		`not json`,
		`{"userId":"u1"}`,
		`[{"userId":"u1"}]`,
		`[{"userId":"u1","conversationId":"chat:1","messagesCount":-1}]`,
		`[{"userId":"u1","conversationId":"chat:1","lastActivity":"yesterday"}]`,
	}
	for _, raw := range cases {
		put(t, store, activity.StorageKey, raw)
		_, err := repo.Load(ctx)
		require.ErrorIs(t, err, activity.ErrMalformedState, raw)

		require.NoError(t, repo.Update(ctx, func(records []activity.Record, loadErr error) ([]activity.Record, error) {
			require.ErrorIs(t, loadErr, activity.ErrMalformedState, raw)
			require.Empty(t, records)
			return records, nil
		}))
		records, err := repo.Load(ctx)
		require.NoError(t, err, raw)
		require.Empty(t, records)
	}
}

func TestActivityRepository_ConcurrentWriterWaitsForTransaction(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "desksync.db")
	tabA := openActivityRepo(t, path)
	tabB := openActivityRepo(t, path)

	bDone := make(chan error, 1)
	bEarly := false
	err := tabA.Update(ctx, func(records []activity.Record, _ error) ([]activity.Record, error) {
		go func() {
			bDone <- tabB.Update(ctx, appendRecord(activity.Record{UserID: "u1", ConversationID: "chat:7", MessagesCount: 1}))
		}()
		select {
		case <-bDone:
			bEarly = true
		case <-time.After(100 * time.Millisecond):
		}
		return append(records, activity.Record{UserID: "u1", ConversationID: "ticket:42", CommentsCount: 1}), nil
	})
	require.NoError(t, err)
	require.False(t, bEarly, "second writer committed inside the first writer's transaction")

	select {
	case err := <-bDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second writer never committed")
	}

	records, err := tabA.Load(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ticket:42", "chat:7"}, conversations(records))
}

func TestActivityRepository_RegistriesInTwoProcessesKeepEachOthersRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "desksync.db")
	regA := activity.NewRegistry(openActivityRepo(t, path), activity.Options{})
	regB := activity.NewRegistry(openActivityRepo(t, path), activity.Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := regA.Touch(ctx, "u1", fmt.Sprintf("ticket:%d", i+1), activity.KindComment)
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := regB.Touch(ctx, "u1", fmt.Sprintf("chat:%d", i+1), activity.KindMessage)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	active, err := regA.Active(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 20)
}

func TestActivityRepository_WithRegistry(t *testing.T) {
	ctx := context.Background()
	repo, store := newActivityRepo(t)
	put(t, store, activity.StorageKey, `garbage`)

	malformed := 0
	reg := activity.NewRegistry(repo, activity.Options{OnMalformed: func(error) { malformed++ }})
	_, err := reg.Touch(ctx, "u1", "chat:7", activity.KindMessage)
	require.NoError(t, err)
	require.Equal(t, 1, malformed)

	active, err := reg.Active(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, 1, active[0].MessagesCount)
	require.Equal(t, 1, malformed)

	require.NoError(t, reg.Forget(ctx, "u1", "chat:7"))
	active, err = reg.Active(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, active)
}

func conversations(records []activity.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ConversationID)
	}
	return out
}
