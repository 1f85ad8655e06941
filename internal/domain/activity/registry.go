package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

// Registry records which conversations the local user is active in.
// Every write is a read-modify-write inside the store, so changes made by
// another process are never overwritten with a stale list.
type Registry struct {
	repo        Repository
	clock       clockwork.Clock
	onMalformed func(error)
	logger      *slog.Logger

	mu   sync.Mutex
	last []Record
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		repo:        repo,
		clock:       opts.Clock,
		onMalformed: opts.OnMalformed,
		logger:      opts.Logger,
	}
}

// Touch bumps the counter of kind for (userID, conversationID), creating
// the record on first interaction.
func (r *Registry) Touch(ctx context.Context, userID, conversationID string, kind Kind) (Record, error) {
	if userID == "" || conversationID == "" {
		return Record{}, ErrInvalidInput
	}
	if kind != KindComment && kind != KindMessage {
		return Record{}, fmt.Errorf("%w: kind %q", ErrInvalidInput, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var touched Record
	err := r.update(ctx, func(records []Record) ([]Record, error) {
		idx := -1
		for i, rec := range records {
			if rec.UserID == userID && rec.ConversationID == conversationID {
				idx = i
				break
			}
		}
		if idx < 0 {
			records = append(records, Record{UserID: userID, ConversationID: conversationID})
			idx = len(records) - 1
		}

		rec := &records[idx]
		if kind == KindComment {
			rec.CommentsCount++
		} else {
			rec.MessagesCount++
		}
		rec.LastActivity = r.clock.Now().UTC().Round(0)
		touched = *rec
		return records, nil
	})
	if err != nil {
		return Record{}, err
	}
	return touched, nil
}

// Forget removes the record for (userID, conversationID).
func (r *Registry) Forget(ctx context.Context, userID, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.update(ctx, func(records []Record) ([]Record, error) {
		kept := make([]Record, 0, len(records))
		for _, rec := range records {
			if rec.UserID == userID && rec.ConversationID == conversationID {
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == len(records) {
			return nil, errUnchanged
		}
		return kept, nil
	})
}

// Active returns the user's records with nonzero activity, most recent
// first.
func (r *Registry) Active(ctx context.Context, userID string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	r.last = records
	return filter(records, userID), nil
}

// Refresh re-reads the store after an external change and reports
// whether the registry content changed.
func (r *Registry) Refresh(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, err := r.load(ctx)
	if err != nil {
		return false, err
	}
	changed := !reflect.DeepEqual(records, r.last)
	r.last = records
	if changed {
		r.logger.Debug("activity registry changed externally", "records", len(records))
	}
	return changed, nil
}

// update runs fn as one read-modify-write against the store. Unreadable
// stored content is reported and replaced.
func (r *Registry) update(ctx context.Context, fn func([]Record) ([]Record, error)) error {
	var (
		malformed error
		stored    []Record
	)
	err := r.repo.Update(ctx, func(records []Record, loadErr error) ([]Record, error) {
		malformed = loadErr
		next, err := fn(append([]Record{}, records...))
		if err != nil {
			return nil, err
		}
		stored = next
		return next, nil
	})
	if malformed != nil {
		r.malformed(malformed)
	}
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("saving activity: %w", err)
	}
	r.last = append([]Record{}, stored...)
	return nil
}

func (r *Registry) malformed(err error) {
	r.logger.Warn("activity registry unreadable, treating as empty", "error", err)
	if r.onMalformed != nil {
		r.onMalformed(err)
	}
}

func (r *Registry) load(ctx context.Context) ([]Record, error) {
	records, err := r.repo.Load(ctx)
	if errors.Is(err, ErrMalformedState) {
		r.malformed(err)
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading activity: %w", err)
	}
	return append([]Record{}, records...), nil
}
func filter(records []Record, userID string) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.UserID == userID && rec.Active() {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}
