package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ganot/desksync/internal/domain/activity"
	"github.com/ganot/desksync/internal/repository"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var _ repository.ActivityRepository = (*ActivityRepository)(nil)

const activitySchemaURL = "desksync://schemas/active-conversations.json"

const activitySchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["userId", "conversationId"],
    "properties": {
      "userId": {"type": "string", "minLength": 1},
      "conversationId": {"type": "string", "minLength": 1},
      "commentsCount": {"type": "integer", "minimum": 0},
      "messagesCount": {"type": "integer", "minimum": 0},
      "lastActivity": {"type": "string"}
    }
  }
}`

// ActivityRepository implements repository.ActivityRepository on top of the
// local key/value table. The whole registry is stored as one JSON list.
type ActivityRepository struct {
	store  repository.StateStore
	key    string
	schema *jsonschema.Schema
}

// NewActivityRepository creates a new ActivityRepository. An empty key uses
// activity.StorageKey.
func NewActivityRepository(store repository.StateStore, key string) (*ActivityRepository, error) {
	if key == "" {
		key = activity.StorageKey
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(activitySchema))
	if err != nil {
		return nil, fmt.Errorf("failed to parse activity schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(activitySchemaURL, doc); err != nil {
		return nil, fmt.Errorf("failed to add activity schema: %w", err)
	}
	schema, err := c.Compile(activitySchemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile activity schema: %w", err)
	}
	return &ActivityRepository{store: store, key: key, schema: schema}, nil
}

// Load returns the stored registry. A missing key is an empty registry;
// undecodable or invalid content is reported as activity.ErrMalformedState.
func (r *ActivityRepository) Load(ctx context.Context) ([]activity.Record, error) {
	raw, err := r.store.Get(ctx, r.key)
	if errors.Is(err, repository.ErrNotFound) {
		return []activity.Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	return r.decode(raw)
}

// Update applies fn to the stored registry inside one store transaction.
// Malformed content is handed to fn as an empty list with the decode
// error, so the write replaces it.
func (r *ActivityRepository) Update(ctx context.Context, fn activity.Mutation) error {
	return r.store.Update(ctx, r.key, func(raw string, found bool) (string, error) {
		records := []activity.Record{}
		var loadErr error
		if found {
			decoded, err := r.decode(raw)
			if err != nil {
				loadErr = err
			} else {
				records = decoded
			}
		}

		next, err := fn(records, loadErr)
		if err != nil {
			return "", err
		}
		if next == nil {
			next = []activity.Record{}
		}
		data, err := json.Marshal(next)
		if err != nil {
			return "", fmt.Errorf("failed to encode activity: %w", err)
		}
		return string(data), nil
	})
}

func (r *ActivityRepository) decode(raw string) ([]activity.Record, error) {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", activity.ErrMalformedState, r.key, err)
	}
	if err := r.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", activity.ErrMalformedState, r.key, err)
	}

	var records []activity.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", activity.ErrMalformedState, r.key, err)
	}
	return records, nil
}
