package repository

import (
	"context"
	"errors"
)

// Row is a flat store row: bookkeeping columns plus payload fields.
type Row map[string]any

// Cond is a single equality condition on a bookkeeping column.
type Cond struct {
	Column string
	Value  any
}

// Predicate is a conjunction of equality conditions.
type Predicate []Cond

// Where starts a predicate with one condition.
func Where(column string, value any) Predicate {
	return Predicate{{Column: column, Value: value}}
}

// And appends a condition to the predicate.
func (p Predicate) And(column string, value any) Predicate {
	return append(p, Cond{Column: column, Value: value})
}

// ErrConstraint is wrapped by stores when an insert or update violates the
// chain's uniqueness constraints, such as two rows sharing (entity_id,
// version). It turns an allocation race into a detectable failure.
var ErrConstraint = errors.New("uniqueness constraint violated")

// ErrNoLock is returned when an entity lock is requested outside a
// transaction.
var ErrNoLock = errors.New("entity lock requires a transaction")

// RowStore is the transactional row store the versioning engine runs
// against. Implementations must make InTransaction atomic: any error from fn
// rolls back every write performed through the transactional store.
type RowStore interface {
	// Insert adds a row and returns the store-assigned primary key.
	Insert(ctx context.Context, fields Row) (int64, error)
	// Update overwrites matching rows and returns the affected count. Payload
	// fields in the row replace the stored payload wholesale.
	Update(ctx context.Context, pred Predicate, fields Row) (int64, error)
	// SelectMax returns the maximum value of a column over matching rows, or
	// zero when none match.
	SelectMax(ctx context.Context, column string, pred Predicate) (int64, error)
	// Select returns matching rows ordered by orderBy (a bookkeeping column),
	// or insertion order when orderBy is empty.
	Select(ctx context.Context, pred Predicate, orderBy string) ([]Row, error)
	// InTransaction runs fn against a transactional view of the store.
	InTransaction(ctx context.Context, fn func(RowStore) error) error
	// LockEntity serializes concurrent writers of one entity for the duration
	// of the enclosing transaction.
	LockEntity(ctx context.Context, entityID int64) error
}
