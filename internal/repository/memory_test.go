package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/verstore/internal/domain"
)

func assetRow(entityID, version int64, current bool) Row {
	return Row{
		domain.ColEntityID:   entityID,
		domain.ColVersion:    version,
		domain.ColCurrent:    current,
		domain.ColEntityType: "asset",
		"name":               "pump",
	}
}

func TestMemoryStore_InsertAssignsRowIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Insert(ctx, assetRow(1, 1, true))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	second, err := store.Insert(ctx, assetRow(2, 1, true))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if first == second || first == 0 {
		t.Fatalf("row ids must be distinct and non-zero: %d, %d", first, second)
	}
}

func TestMemoryStore_DuplicateVersionRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Insert(ctx, assetRow(1, 1, true)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, err := store.Insert(ctx, assetRow(1, 1, false))
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected constraint violation for duplicate (entity, version), got %v", err)
	}
}

func TestMemoryStore_SecondCurrentRejected(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Insert(ctx, assetRow(1, 1, true)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	_, err := store.Insert(ctx, assetRow(1, 2, true))
	if !errors.Is(err, ErrConstraint) {
		t.Fatalf("expected constraint violation for second current row, got %v", err)
	}
}

func TestMemoryStore_UpdateReplacesPayloadWholesale(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	row := assetRow(1, 1, true)
	row["obsolete"] = true
	rowID, err := store.Insert(ctx, row)
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	affected, err := store.Update(ctx, Where(domain.ColRowID, rowID), Row{
		domain.ColEntityID:   int64(1),
		domain.ColVersion:    int64(1),
		domain.ColCurrent:    true,
		domain.ColEntityType: "asset",
		"name":               "compressor",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected)
	}

	rows, err := store.Select(ctx, Where(domain.ColRowID, rowID), "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if rows[0]["name"] != "compressor" {
		t.Fatalf("payload not updated: %v", rows[0])
	}
	if _, ok := rows[0]["obsolete"]; ok {
		t.Fatalf("update must replace the payload wholesale")
	}
}

func TestMemoryStore_SelectMax(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	max, err := store.SelectMax(ctx, domain.ColEntityID, nil)
	if err != nil {
		t.Fatalf("select max failed: %v", err)
	}
	if max != 0 {
		t.Fatalf("empty table must aggregate to zero, got %d", max)
	}

	store.Insert(ctx, assetRow(3, 1, true))
	store.Insert(ctx, assetRow(7, 1, true))

	max, err = store.SelectMax(ctx, domain.ColEntityID, nil)
	if err != nil {
		t.Fatalf("select max failed: %v", err)
	}
	if max != 7 {
		t.Fatalf("expected max entity id 7, got %d", max)
	}

	max, err = store.SelectMax(ctx, domain.ColVersion, Where(domain.ColEntityID, int64(3)))
	if err != nil {
		t.Fatalf("select max failed: %v", err)
	}
	if max != 1 {
		t.Fatalf("expected max version 1 for entity 3, got %d", max)
	}
}

func TestMemoryStore_TransactionRollsBack(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Insert(ctx, assetRow(1, 1, true)); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	boom := errors.New("boom")
	err := store.InTransaction(ctx, func(tx RowStore) error {
		if _, err := tx.Insert(ctx, assetRow(2, 1, true)); err != nil {
			return err
		}
		if _, err := tx.Update(ctx, Where(domain.ColEntityID, int64(1)), assetRow(1, 2, true)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected transaction error, got %v", err)
	}

	rows, err := store.Select(ctx, nil, "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rollback must discard inserted rows, got %d", len(rows))
	}
	if version := rows[0][domain.ColVersion]; version != int64(1) {
		t.Fatalf("rollback must discard updates, got version %v", version)
	}
}

func TestMemoryStore_TransactionCommits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.InTransaction(ctx, func(tx RowStore) error {
		if err := tx.LockEntity(ctx, 1); err != nil {
			return err
		}
		_, err := tx.Insert(ctx, assetRow(1, 1, true))
		return err
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	rows, err := store.Select(ctx, nil, "")
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("committed insert must persist, got %d rows", len(rows))
	}
}

func TestMemoryStore_SelectOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Insert(ctx, assetRow(1, 3, true))
	store.Insert(ctx, assetRow(1, 1, false))
	store.Insert(ctx, assetRow(1, 2, false))

	rows, err := store.Select(ctx, Where(domain.ColEntityID, int64(1)), domain.ColVersion)
	if err != nil {
		t.Fatalf("select failed: %v", err)
	}
	for i, row := range rows {
		if row[domain.ColVersion] != int64(i+1) {
			t.Fatalf("expected version %d at position %d, got %v", i+1, i, row[domain.ColVersion])
		}
	}
}
