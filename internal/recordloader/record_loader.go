package recordloader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/engine"

	"github.com/graph-gophers/dataloader"
)

// RecordLoader batches lookups of current records by entity id within one
// request, so fan-out reads hit the store once.
type RecordLoader struct {
	Loader *dataloader.Loader
}

// NewRecordLoader creates a loader over the engine's current-version reads.
func NewRecordLoader(eng *engine.Engine) *RecordLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]int64, len(keys))
		for i, k := range keys {
			id, err := strconv.ParseInt(k.String(), 10, 64)
			if err != nil {
				return []*dataloader.Result{{Error: fmt.Errorf("invalid entity id: %w", err)}}
			}
			ids[i] = id
		}

		records, err := eng.CurrentBatch(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// CurrentBatch preserves input order; missing entities are nil.
		results := make([]*dataloader.Result, len(keys))
		for i, rec := range records {
			results[i] = &dataloader.Result{Data: rec}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &RecordLoader{Loader: loader}
}

// LoadRecord fetches one current record through the loader.
func (l *RecordLoader) LoadRecord(ctx context.Context, entityID int64) (*domain.Record, error) {
	value, err := l.Loader.Load(ctx, dataloader.StringKey(strconv.FormatInt(entityID, 10)))()
	if err != nil {
		return nil, err
	}
	rec, _ := value.(*domain.Record)
	return rec, nil
}
