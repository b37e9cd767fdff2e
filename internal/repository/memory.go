package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rpattn/verstore/internal/domain"
)

// MemoryStore is an in-memory RowStore used by tests and local tooling. It
// enforces the same uniqueness rules the Postgres migration installs: one
// row per (entity_id, version), one current row per entity.
type MemoryStore struct {
	mu   sync.Mutex
	data *memoryData
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: &memoryData{}}
}

func (s *MemoryStore) Insert(ctx context.Context, fields Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.insert(fields)
}

func (s *MemoryStore) Update(ctx context.Context, pred Predicate, fields Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.update(pred, fields)
}

func (s *MemoryStore) SelectMax(ctx context.Context, column string, pred Predicate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.selectMax(column, pred), nil
}

func (s *MemoryStore) Select(ctx context.Context, pred Predicate, orderBy string) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.selectRows(pred, orderBy), nil
}

// InTransaction snapshots the store, runs fn against a transactional view
// and restores the snapshot when fn fails. The store mutex is held for the
// whole unit, which also serializes concurrent writers.
func (s *MemoryStore) InTransaction(ctx context.Context, fn func(RowStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.data.clone()
	if err := fn(&memoryTx{data: s.data}); err != nil {
		s.data = backup
		return err
	}
	return nil
}

// LockEntity is a no-op: the store mutex already serializes writers.
func (s *MemoryStore) LockEntity(ctx context.Context, entityID int64) error {
	return nil
}

// memoryTx is the transactional view handed to InTransaction callbacks. The
// enclosing store holds the mutex, so operations run unlocked.
type memoryTx struct {
	data *memoryData
}

func (t *memoryTx) Insert(ctx context.Context, fields Row) (int64, error) {
	return t.data.insert(fields)
}

func (t *memoryTx) Update(ctx context.Context, pred Predicate, fields Row) (int64, error) {
	return t.data.update(pred, fields)
}

func (t *memoryTx) SelectMax(ctx context.Context, column string, pred Predicate) (int64, error) {
	return t.data.selectMax(column, pred), nil
}

func (t *memoryTx) Select(ctx context.Context, pred Predicate, orderBy string) ([]Row, error) {
	return t.data.selectRows(pred, orderBy), nil
}

func (t *memoryTx) InTransaction(ctx context.Context, fn func(RowStore) error) error {
	// Nested units join the enclosing transaction.
	return fn(t)
}

func (t *memoryTx) LockEntity(ctx context.Context, entityID int64) error {
	return nil
}

type memoryData struct {
	nextID int64
	rows   []Row
}

func (d *memoryData) clone() *memoryData {
	rows := make([]Row, len(d.rows))
	for i, row := range d.rows {
		copied := make(Row, len(row))
		for name, value := range row {
			copied[name] = value
		}
		rows[i] = copied
	}
	return &memoryData{nextID: d.nextID, rows: rows}
}

func (d *memoryData) insert(fields Row) (int64, error) {
	row := make(Row, len(fields)+3)
	for name, value := range fields {
		row[name] = value
	}
	d.nextID++
	row[domain.ColRowID] = d.nextID
	now := time.Now()
	row[domain.ColCreatedAt] = now
	row[domain.ColUpdatedAt] = now

	if err := validateRows(append(d.rows, row)); err != nil {
		d.nextID--
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	d.rows = append(d.rows, row)
	return row[domain.ColRowID].(int64), nil
}

func (d *memoryData) update(pred Predicate, fields Row) (int64, error) {
	updated := make([]Row, len(d.rows))
	var affected int64
	for i, row := range d.rows {
		if !matches(row, pred) {
			updated[i] = row
			continue
		}
		// Payload replaced wholesale, bookkeeping columns merged.
		next := Row{
			domain.ColRowID:      row[domain.ColRowID],
			domain.ColEntityID:   row[domain.ColEntityID],
			domain.ColVersion:    row[domain.ColVersion],
			domain.ColCurrent:    row[domain.ColCurrent],
			domain.ColEntityType: row[domain.ColEntityType],
			domain.ColCreatedAt:  row[domain.ColCreatedAt],
			domain.ColUpdatedAt:  time.Now(),
		}
		for name, value := range fields {
			if name == domain.ColRowID || name == domain.ColCreatedAt || name == domain.ColUpdatedAt {
				continue
			}
			next[name] = value
		}
		updated[i] = next
		affected++
	}

	if affected == 0 {
		return 0, nil
	}
	if err := validateRows(updated); err != nil {
		return 0, fmt.Errorf("failed to update records: %w", err)
	}
	d.rows = updated
	return affected, nil
}

func (d *memoryData) selectMax(column string, pred Predicate) int64 {
	var max int64
	for _, row := range d.rows {
		if !matches(row, pred) {
			continue
		}
		if value := asInt64(row[column]); value > max {
			max = value
		}
	}
	return max
}

func (d *memoryData) selectRows(pred Predicate, orderBy string) []Row {
	var result []Row
	for _, row := range d.rows {
		if !matches(row, pred) {
			continue
		}
		copied := make(Row, len(row))
		for name, value := range row {
			copied[name] = value
		}
		result = append(result, copied)
	}
	if orderBy != "" {
		sort.SliceStable(result, func(i, j int) bool {
			return asInt64(result[i][orderBy]) < asInt64(result[j][orderBy])
		})
	}
	return result
}

// validateRows enforces the chain uniqueness constraints over a candidate
// table state.
func validateRows(rows []Row) error {
	versions := make(map[[2]int64]struct{}, len(rows))
	current := make(map[int64]struct{})
	for _, row := range rows {
		entityID := asInt64(row[domain.ColEntityID])
		version := asInt64(row[domain.ColVersion])

		key := [2]int64{entityID, version}
		if _, ok := versions[key]; ok {
			return fmt.Errorf("%w: duplicate version %d for entity %d", ErrConstraint, version, entityID)
		}
		versions[key] = struct{}{}

		if isCurrent, _ := row[domain.ColCurrent].(bool); isCurrent {
			if _, ok := current[entityID]; ok {
				return fmt.Errorf("%w: multiple current rows for entity %d", ErrConstraint, entityID)
			}
			current[entityID] = struct{}{}
		}
	}
	return nil
}

func matches(row Row, pred Predicate) bool {
	for _, cond := range pred {
		value, ok := row[cond.Column]
		if !ok {
			return false
		}
		switch want := cond.Value.(type) {
		case bool:
			if got, ok := value.(bool); !ok || got != want {
				return false
			}
		case string:
			if got, ok := value.(string); !ok || got != want {
				return false
			}
		default:
			if asInt64(value) != asInt64(cond.Value) {
				return false
			}
		}
	}
	return true
}

func asInt64(value any) int64 {
	switch typed := value.(type) {
	case int64:
		return typed
	case int:
		return int64(typed)
	case int32:
		return int64(typed)
	case float64:
		return int64(typed)
	default:
		return 0
	}
}
