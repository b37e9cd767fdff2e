package domain

import "time"

// Well-known column names shared by every entity type stored through the
// engine. The payload lives alongside these in the same row.
const (
	ColRowID      = "id"
	ColEntityID   = "entity_id"
	ColVersion    = "version"
	ColCurrent    = "is_current"
	ColEntityType = "entity_type"
	ColCreatedAt  = "created_at"
	ColUpdatedAt  = "updated_at"
)

// bookkeepingColumns are the row keys that are not payload.
var bookkeepingColumns = map[string]struct{}{
	ColRowID:      {},
	ColEntityID:   {},
	ColVersion:    {},
	ColCurrent:    {},
	ColEntityType: {},
	ColCreatedAt:  {},
	ColUpdatedAt:  {},
}

// IsBookkeepingColumn reports whether name is one of the engine-owned columns.
func IsBookkeepingColumn(name string) bool {
	_, ok := bookkeepingColumns[name]
	return ok
}

// Row flattens the record into a store row: bookkeeping columns plus the live
// payload. The RowID is omitted, insert paths expect the store to assign it.
func (r *Record) Row() map[string]any {
	row := make(map[string]any, len(r.fields)+4)
	for name, value := range r.fields {
		if IsBookkeepingColumn(name) {
			continue
		}
		row[name] = value
	}
	row[ColEntityID] = r.EntityID
	row[ColVersion] = r.Version
	row[ColCurrent] = r.Current
	row[ColEntityType] = r.EntityType
	return row
}

// RecordFromRow hydrates a record from a store row. The returned record is
// clean: its synced state equals its payload.
func RecordFromRow(row map[string]any) *Record {
	rec := &Record{fields: make(map[string]any, len(row))}
	for name, value := range row {
		switch name {
		case ColRowID:
			rec.RowID = asInt64(value)
		case ColEntityID:
			rec.EntityID = asInt64(value)
		case ColVersion:
			rec.Version = asInt64(value)
		case ColCurrent:
			rec.Current, _ = value.(bool)
		case ColEntityType:
			rec.EntityType, _ = value.(string)
		case ColCreatedAt:
			rec.CreatedAt = asTime(value)
		case ColUpdatedAt:
			rec.UpdatedAt = asTime(value)
		default:
			rec.fields[name] = value
		}
	}
	rec.MarkSynced()
	return rec
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

func asTime(value any) time.Time {
	if typed, ok := value.(time.Time); ok {
		return typed
	}
	return time.Time{}
}
