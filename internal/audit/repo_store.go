package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"callbridge/internal/store"
)

// StoreRepo appends audit events to a list collection in the record store.
type StoreRepo struct {
	store store.Store
}

func NewStoreRepo(s store.Store) *StoreRepo { return &StoreRepo{store: s} }

func (r *StoreRepo) Append(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode: %w", err)
	}
	var rec store.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("audit: encode: %w", err)
	}
	return store.AppendToList(ctx, r.store, store.CollectionAudit, rec)
}

func (r *StoreRepo) Recent(ctx context.Context, limit int) ([]Event, error) {
	list, err := store.ReadList(ctx, r.store, store.CollectionAudit)
	if err != nil {
		return nil, fmt.Errorf("audit: read: %w", err)
	}
	out := make([]Event, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		b, err := json.Marshal(list[i])
		if err != nil {
			return nil, fmt.Errorf("audit: decode: %w", err)
		}
		var e Event
		if err := json.Unmarshal(b, &e); err != nil {
			return nil, fmt.Errorf("audit: decode: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
