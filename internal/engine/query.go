package engine

import (
	"context"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/repository"
)

// Scope selects which versions of a chain a query sees.
type Scope int

const (
	// ScopeCurrent is the default lens: only current versions are visible.
	ScopeCurrent Scope = iota
	// ScopeAll sees every version, current and archived.
	ScopeAll
	// ScopeOld sees only archived versions.
	ScopeOld
)

// Query describes a read against one entity type. The zero scope filters to
// current versions; history access is an explicit bypass.
type Query struct {
	entityType string
	scope      Scope
}

// ByType builds a current-versions-only query for an entity type.
func ByType(entityType string) Query {
	return Query{entityType: entityType}
}

// WithOldVersions removes the current-only filter: all versions match.
func (q Query) WithOldVersions() Query {
	q.scope = ScopeAll
	return q
}

// OnlyOldVersions inverts the filter: only archived versions match.
func (q Query) OnlyOldVersions() Query {
	q.scope = ScopeOld
	return q
}

func (q Query) predicate() repository.Predicate {
	pred := repository.Where(domain.ColEntityType, q.entityType)
	switch q.scope {
	case ScopeCurrent:
		pred = pred.And(domain.ColCurrent, true)
	case ScopeOld:
		pred = pred.And(domain.ColCurrent, false)
	}
	return pred
}

// Find executes the query, returning matching records ordered by entity id.
func (e *Engine) Find(ctx context.Context, q Query) ([]*domain.Record, error) {
	rows, err := e.store.Select(ctx, q.predicate(), domain.ColEntityID)
	if err != nil {
		return nil, err
	}
	records := make([]*domain.Record, len(rows))
	for i, row := range rows {
		records[i] = domain.RecordFromRow(row)
	}
	return records, nil
}
