package domain

// Project returns the externally visible view of a record. For a versioned
// current record the chain bookkeeping (entity_id, is_current) and any extra
// hidden fields are stripped. Archived snapshots and records with versioning
// disabled project their full row: history-aware callers need the
// bookkeeping to navigate the chain.
func Project(rec *Record, hidden ...string) map[string]any {
	row := rec.Row()
	row[ColRowID] = rec.RowID

	if !rec.VersioningEnabled() || !rec.Current {
		return row
	}

	delete(row, ColEntityID)
	delete(row, ColCurrent)
	for _, name := range hidden {
		delete(row, name)
	}
	return row
}
