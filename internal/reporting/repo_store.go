package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"callbridge/internal/store"
)

// DefaultRetention caps the call log; the oldest records are dropped first.
const DefaultRetention = 5000

// StoreRepo keeps the call log as a list collection in the record store.
type StoreRepo struct {
	store     store.Store
	retention int
}

func NewStoreRepo(s store.Store, retention int) *StoreRepo {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &StoreRepo{store: s, retention: retention}
}

func (r *StoreRepo) AppendCall(ctx context.Context, c CallRecord) error {
	rec, err := toRecord(c)
	if err != nil {
		return err
	}
	return store.MutateList(ctx, r.store, store.CollectionCallLog, func(list []store.Record) ([]store.Record, bool, error) {
		list = append(list, rec)
		if over := len(list) - r.retention; over > 0 {
			list = list[over:]
		}
		return list, true, nil
	})
}

func (r *StoreRepo) ListCalls(ctx context.Context, from, to time.Time) ([]CallRecord, error) {
	list, err := store.ReadList(ctx, r.store, store.CollectionCallLog)
	if err != nil {
		return nil, fmt.Errorf("reporting: read call log: %w", err)
	}
	rng := TimeRange{From: from, To: to}
	out := make([]CallRecord, 0, len(list))
	for _, rec := range list {
		c, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		if rng.Contains(c.StartedAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func toRecord(c CallRecord) (store.Record, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("reporting: encode: %w", err)
	}
	var rec store.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("reporting: encode: %w", err)
	}
	return rec, nil
}

func fromRecord(rec store.Record) (CallRecord, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return CallRecord{}, fmt.Errorf("reporting: decode: %w", err)
	}
	var c CallRecord
	if err := json.Unmarshal(b, &c); err != nil {
		return CallRecord{}, fmt.Errorf("reporting: decode: %w", err)
	}
	return c, nil
}
