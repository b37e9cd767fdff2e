package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/repository"
)

// Current returns the live version of an entity.
func (e *Engine) Current(ctx context.Context, entityID int64) (*domain.Record, error) {
	pred := repository.Where(domain.ColEntityID, entityID).And(domain.ColCurrent, true)
	rows, err := e.store.Select(ctx, pred, "")
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("entity %d: %w", entityID, ErrNotFound)
	case 1:
		return domain.RecordFromRow(rows[0]), nil
	default:
		return nil, fmt.Errorf("entity %d has %d current rows: %w", entityID, len(rows), ErrChainCorrupt)
	}
}

// CurrentBatch returns the live versions of several entities, in input
// order. Entities without a current row yield a nil slot.
func (e *Engine) CurrentBatch(ctx context.Context, entityIDs []int64) ([]*domain.Record, error) {
	records := make([]*domain.Record, len(entityIDs))
	for i, entityID := range entityIDs {
		rec, err := e.Current(ctx, entityID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

// History returns the full chain of an entity, oldest version first.
func (e *Engine) History(ctx context.Context, entityID int64) ([]*domain.Record, error) {
	rows, err := e.store.Select(ctx, repository.Where(domain.ColEntityID, entityID), domain.ColVersion)
	if err != nil {
		return nil, err
	}
	records := make([]*domain.Record, len(rows))
	for i, row := range rows {
		records[i] = domain.RecordFromRow(row)
	}
	return records, nil
}

// Version returns one snapshot of an entity by version number.
func (e *Engine) Version(ctx context.Context, entityID, version int64) (*domain.Record, error) {
	rows, err := e.store.Select(ctx, chainPredicate(entityID, version), "")
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, fmt.Errorf("entity %d version %d: %w", entityID, version, ErrNotFound)
	case 1:
		return domain.RecordFromRow(rows[0]), nil
	default:
		return nil, fmt.Errorf("entity %d has %d rows at version %d: %w", entityID, len(rows), version, ErrChainCorrupt)
	}
}

// PreviousVersion returns the snapshot preceding rec in its chain, or nil
// when rec is version 1. A missing or duplicated predecessor is chain
// corruption, not a miss.
func (e *Engine) PreviousVersion(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	if rec.Version <= 1 {
		return nil, nil
	}
	return e.neighbor(ctx, rec.EntityID, rec.Version-1)
}

// NextVersion returns the snapshot following rec in its chain, or nil when
// rec is the current version.
func (e *Engine) NextVersion(ctx context.Context, rec *domain.Record) (*domain.Record, error) {
	if rec.Current {
		return nil, nil
	}
	return e.neighbor(ctx, rec.EntityID, rec.Version+1)
}

func (e *Engine) neighbor(ctx context.Context, entityID, version int64) (*domain.Record, error) {
	rows, err := e.store.Select(ctx, chainPredicate(entityID, version), "")
	if err != nil {
		return nil, err
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("entity %d has %d rows at version %d, want 1: %w", entityID, len(rows), version, ErrChainCorrupt)
	}
	return domain.RecordFromRow(rows[0]), nil
}

// Rollback restores the payload of an archived snapshot as a new current
// version. History is never rewritten: the restore itself goes through the
// chain-extending write protocol, so the pre-rollback state is archived too.
func (e *Engine) Rollback(ctx context.Context, entityID, toVersion int64) (*domain.Record, error) {
	snapshot, err := e.Version(ctx, entityID, toVersion)
	if err != nil {
		return nil, err
	}

	current, err := e.Current(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if current.Version == toVersion {
		return current, nil
	}

	current.SetFields(snapshot.Fields())
	if !current.Dirty() {
		return current, nil
	}
	// A rollback always records a version, even when the restored fields
	// would classify as a minor edit.
	if err := e.archiveAndPromote(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

func chainPredicate(entityID, version int64) repository.Predicate {
	return repository.Where(domain.ColEntityID, entityID).And(domain.ColVersion, version)
}
