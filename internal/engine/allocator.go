package engine

import (
	"context"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/repository"
)

// nextEntityID allocates the next logical entity identifier: one past the
// table-wide maximum, or 1 for an empty table. The UNIQUE (entity_id,
// version) constraint turns a lost race on this aggregate into a detectable
// insert failure.
func (e *Engine) nextEntityID(ctx context.Context) (int64, error) {
	max, err := e.store.SelectMax(ctx, domain.ColEntityID, nil)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// nextVersion allocates the next version number for an entity. Callers on
// the major-edit path pass their transaction so the aggregate runs under the
// per-entity advisory lock.
func nextVersion(ctx context.Context, store repository.RowStore, entityID int64) (int64, error) {
	max, err := store.SelectMax(ctx, domain.ColVersion, repository.Where(domain.ColEntityID, entityID))
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}
