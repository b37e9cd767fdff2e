// Package engine implements the record-versioning write protocol: every
// entity is stored as a gapless chain of immutable snapshots with exactly
// one current row, and saves either overwrite that row in place (minor
// edits) or archive it and promote the new state (major edits).
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/hooks"
	"github.com/rpattn/verstore/internal/repository"
)

var (
	// ErrVetoed reports that a lifecycle hook cancelled the save before any
	// row was touched.
	ErrVetoed = hooks.ErrCancel

	// ErrNotFound reports that no row matched a lookup.
	ErrNotFound = errors.New("record not found")

	// ErrChainCorrupt reports a violated chain invariant, such as a missing
	// or duplicated version. It is a data-integrity fault, not a miss.
	ErrChainCorrupt = errors.New("version chain corrupted")
)

// Engine coordinates saves and reads of versioned records against a RowStore.
type Engine struct {
	store repository.RowStore
	hooks *hooks.Registry
	minor map[string][]string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMinorFields registers the payload fields of an entity type whose
// changes do not warrant a new version.
func WithMinorFields(entityType string, fields ...string) Option {
	return func(e *Engine) {
		e.minor[entityType] = append(e.minor[entityType], fields...)
	}
}

// New creates an engine over the given store. The registry may be nil when
// no lifecycle hooks are needed.
func New(store repository.RowStore, registry *hooks.Registry, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		hooks: registry,
		minor: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinorFields returns the configured minor allowlist for an entity type.
func (e *Engine) MinorFields(entityType string) []string {
	return e.minor[entityType]
}

// Save persists the record. New records are inserted as version 1; dirty
// persisted records are either updated in place (when every changed field is
// on the entity type's minor allowlist, or versioning is disabled for the
// record) or archived and promoted to the next version. A clean persisted
// record is a no-op.
func (e *Engine) Save(ctx context.Context, rec *domain.Record) error {
	if err := e.hooks.Notify(ctx, hooks.Saving, rec); err != nil {
		return err
	}
	if !rec.Persisted() {
		return e.insertNew(ctx, rec)
	}

	changed := rec.ChangedFields()
	if len(changed) == 0 {
		return nil
	}
	if !rec.VersioningEnabled() || domain.IsMinorEdit(changed, e.minor[rec.EntityType]) {
		return e.updateInPlace(ctx, rec)
	}
	return e.archiveAndPromote(ctx, rec)
}

// SaveMinor persists the record without extending the chain, regardless of
// which fields changed.
func (e *Engine) SaveMinor(ctx context.Context, rec *domain.Record) error {
	if err := e.hooks.Notify(ctx, hooks.Saving, rec); err != nil {
		return err
	}
	if !rec.Persisted() {
		return e.insertNew(ctx, rec)
	}
	if !rec.Dirty() {
		return nil
	}
	return e.updateInPlace(ctx, rec)
}

func (e *Engine) insertNew(ctx context.Context, rec *domain.Record) error {
	if rec.EntityID == 0 {
		entityID, err := e.nextEntityID(ctx)
		if err != nil {
			return err
		}
		rec.EntityID = entityID
	}
	rec.Version = 1
	rec.Current = true

	rowID, err := e.store.Insert(ctx, rec.Row())
	if err != nil {
		return err
	}
	rec.RowID = rowID
	rec.MarkSynced()
	return nil
}

func (e *Engine) updateInPlace(ctx context.Context, rec *domain.Record) error {
	affected, err := e.store.Update(ctx, repository.Where(domain.ColRowID, rec.RowID), rec.Row())
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("row %d for entity %d: %w", rec.RowID, rec.EntityID, ErrNotFound)
	}
	rec.MarkSynced()
	return nil
}

// archiveAndPromote is the chain-extending save: within one transaction the
// live row is updated in place with its new payload and version, then the
// pre-change state is inserted as the archived snapshot. The update is
// ordered strictly before the archive insert, so a failed update leaves the
// chain untouched and a failed insert rolls the update back with it.
func (e *Engine) archiveAndPromote(ctx context.Context, rec *domain.Record) error {
	if err := e.hooks.Notify(ctx, hooks.Updating, rec); err != nil {
		return err
	}

	old := rec.Snapshot()
	prevVersion := rec.Version

	err := e.store.InTransaction(ctx, func(tx repository.RowStore) error {
		if err := tx.LockEntity(ctx, rec.EntityID); err != nil {
			return err
		}

		next, err := nextVersion(ctx, tx, rec.EntityID)
		if err != nil {
			return err
		}
		rec.Version = next

		affected, err := tx.Update(ctx, repository.Where(domain.ColRowID, rec.RowID), rec.Row())
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("row %d for entity %d: %w", rec.RowID, rec.EntityID, ErrNotFound)
		}

		if err := e.hooks.Notify(ctx, hooks.Creating, old); err != nil {
			return err
		}

		rowID, err := tx.Insert(ctx, old.Row())
		if err != nil {
			return err
		}
		old.RowID = rowID
		return nil
	})
	if err != nil {
		rec.Version = prevVersion
		return err
	}

	rec.MarkSynced()
	if err := e.hooks.Notify(ctx, hooks.Updated, rec); err != nil {
		// The transaction is already committed; a failing observer cannot
		// unwind the save.
		log.Printf("updated hook failed for entity %d: %v", rec.EntityID, err)
	}
	return nil
}
