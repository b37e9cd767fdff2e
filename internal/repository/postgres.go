package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rpattn/verstore/internal/domain"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresStore implements RowStore on top of the records table. Payload
// fields are stored in the properties JSONB column; bookkeeping fields map to
// real columns.
type postgresStore struct {
	q    querier
	pool *pgxpool.Pool
}

// NewPostgresStore creates a RowStore backed by the records table.
func NewPostgresStore(pool *pgxpool.Pool) RowStore {
	return &postgresStore{q: pool, pool: pool}
}

var selectableColumns = map[string]struct{}{
	domain.ColRowID:      {},
	domain.ColEntityID:   {},
	domain.ColVersion:    {},
	domain.ColCurrent:    {},
	domain.ColEntityType: {},
}

func (s *postgresStore) Insert(ctx context.Context, fields Row) (int64, error) {
	properties, err := payloadJSON(fields)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.q.QueryRow(ctx,
		`INSERT INTO records (entity_id, version, is_current, entity_type, properties)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		fields[domain.ColEntityID],
		fields[domain.ColVersion],
		fields[domain.ColCurrent],
		fields[domain.ColEntityType],
		properties,
	).Scan(&id)
	if err != nil {
		return 0, mapConstraintError("failed to insert record", err)
	}
	return id, nil
}

func (s *postgresStore) Update(ctx context.Context, pred Predicate, fields Row) (int64, error) {
	properties, err := payloadJSON(fields)
	if err != nil {
		return 0, err
	}

	sets := []string{"properties = $1", "updated_at = now()"}
	args := []any{properties}
	for _, column := range []string{domain.ColEntityID, domain.ColVersion, domain.ColCurrent, domain.ColEntityType} {
		if value, ok := fields[column]; ok {
			args = append(args, value)
			sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}

	where, args, err := whereClause(pred, args)
	if err != nil {
		return 0, err
	}

	tag, err := s.q.Exec(ctx,
		fmt.Sprintf("UPDATE records SET %s%s", strings.Join(sets, ", "), where),
		args...,
	)
	if err != nil {
		return 0, mapConstraintError("failed to update records", err)
	}
	return tag.RowsAffected(), nil
}

func (s *postgresStore) SelectMax(ctx context.Context, column string, pred Predicate) (int64, error) {
	if _, ok := selectableColumns[column]; !ok {
		return 0, fmt.Errorf("cannot aggregate column %q", column)
	}

	where, args, err := whereClause(pred, nil)
	if err != nil {
		return 0, err
	}

	var max int64
	err = s.q.QueryRow(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM records%s", column, where),
		args...,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to select max %s: %w", column, err)
	}
	return max, nil
}

func (s *postgresStore) Select(ctx context.Context, pred Predicate, orderBy string) ([]Row, error) {
	where, args, err := whereClause(pred, nil)
	if err != nil {
		return nil, err
	}

	query := "SELECT id, entity_id, version, is_current, entity_type, properties, created_at, updated_at FROM records" + where
	if orderBy != "" {
		if _, ok := selectableColumns[orderBy]; !ok {
			return nil, fmt.Errorf("cannot order by column %q", orderBy)
		}
		query += " ORDER BY " + orderBy
	}

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row, err := scanRecordRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read record rows: %w", err)
	}
	return result, nil
}

func (s *postgresStore) InTransaction(ctx context.Context, fn func(RowStore) error) error {
	if s.pool == nil {
		// Already transactional; nested units join the enclosing transaction.
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *postgresStore) LockEntity(ctx context.Context, entityID int64) error {
	if s.pool != nil {
		return ErrNoLock
	}
	if _, err := s.q.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", entityID); err != nil {
		return fmt.Errorf("failed to lock entity %d: %w", entityID, err)
	}
	return nil
}

func scanRecordRow(rows pgx.Rows) (Row, error) {
	var (
		id, entityID, version int64
		current               bool
		entityType            string
		properties            []byte
		createdAt, updatedAt  any
	)
	if err := rows.Scan(&id, &entityID, &version, &current, &entityType, &properties, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan record row: %w", err)
	}

	payload := map[string]any{}
	if len(properties) > 0 {
		if err := json.Unmarshal(properties, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode properties for row %d: %w", id, err)
		}
	}

	row := make(Row, len(payload)+7)
	for name, value := range payload {
		if domain.IsBookkeepingColumn(name) {
			continue
		}
		row[name] = value
	}
	row[domain.ColRowID] = id
	row[domain.ColEntityID] = entityID
	row[domain.ColVersion] = version
	row[domain.ColCurrent] = current
	row[domain.ColEntityType] = entityType
	row[domain.ColCreatedAt] = createdAt
	row[domain.ColUpdatedAt] = updatedAt
	return row, nil
}

// payloadJSON marshals the non-column residue of a row for the properties
// column. Updates replace the stored payload wholesale, so removed fields
// disappear from the row.
func payloadJSON(fields Row) ([]byte, error) {
	payload := make(map[string]any, len(fields))
	for name, value := range fields {
		if domain.IsBookkeepingColumn(name) {
			continue
		}
		payload[name] = value
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return data, nil
}

func whereClause(pred Predicate, args []any) (string, []any, error) {
	if len(pred) == 0 {
		return "", args, nil
	}
	conds := make([]string, 0, len(pred))
	for _, cond := range pred {
		if _, ok := selectableColumns[cond.Column]; !ok {
			return "", nil, fmt.Errorf("cannot filter on column %q", cond.Column)
		}
		args = append(args, cond.Value)
		conds = append(conds, fmt.Sprintf("%s = $%d", cond.Column, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func mapConstraintError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %s", msg, ErrConstraint, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
