package domain

import (
	"reflect"
	"sort"
	"time"
)

// Record represents one physical snapshot of a versioned entity. The same
// logical entity (identified by EntityID) is stored as a chain of Records:
// exactly one of them is current, the rest are archived history.
type Record struct {
	// RowID is the store-assigned primary key of this physical row. It is
	// not stable across versions: every archived snapshot gets its own row.
	RowID int64

	// EntityID groups every snapshot of the same logical entity. It never
	// changes once assigned.
	EntityID int64

	// Version orders snapshots within an entity, starting at 1 with no gaps.
	Version int64

	// Current marks the single live snapshot of the entity.
	Current bool

	// EntityType names the logical record kind sharing this engine.
	EntityType string

	CreatedAt time.Time
	UpdatedAt time.Time

	fields map[string]any
	synced map[string]any

	versioningDisabled bool
}

// NewRecord creates an unsaved record with the given payload. The record is
// fully dirty: every field counts as changed until the first save.
func NewRecord(entityType string, fields map[string]any) *Record {
	return &Record{
		EntityType: entityType,
		fields:     copyFields(fields),
	}
}

// Set assigns a payload field on the live record.
func (r *Record) Set(name string, value any) {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.fields[name] = value
}

// Unset removes a payload field from the live record.
func (r *Record) Unset(name string) {
	delete(r.fields, name)
}

// Get returns a payload field and whether it is present.
func (r *Record) Get(name string) (any, bool) {
	value, ok := r.fields[name]
	return value, ok
}

// Fields returns a copy of the live payload.
func (r *Record) Fields() map[string]any {
	return copyFields(r.fields)
}

// SetFields replaces the whole live payload.
func (r *Record) SetFields(fields map[string]any) {
	r.fields = copyFields(fields)
}

// SyncedFields returns a copy of the payload as of the last successful save,
// or nil if the record has never been synced.
func (r *Record) SyncedFields() map[string]any {
	if r.synced == nil {
		return nil
	}
	return copyFields(r.synced)
}

// ChangedFields returns the sorted names of payload fields that differ from
// the last-synced state, including fields added or removed since then. For a
// record that has never been synced, every field is changed.
func (r *Record) ChangedFields() []string {
	changed := make([]string, 0, len(r.fields))
	for name, value := range r.fields {
		old, ok := r.synced[name]
		if !ok || !reflect.DeepEqual(old, value) {
			changed = append(changed, name)
		}
	}
	for name := range r.synced {
		if _, ok := r.fields[name]; !ok {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// Dirty reports whether the record has unsaved payload changes.
func (r *Record) Dirty() bool {
	return len(r.ChangedFields()) > 0
}

// MarkSynced records the current payload as the persisted state. The engine
// calls this after every successful save; repositories call it when hydrating
// records from the store.
func (r *Record) MarkSynced() {
	r.synced = copyFields(r.fields)
}

// Snapshot builds the archive row for a chain-extending save: the pre-change
// payload with the record's pre-bump version, marked non-current. Fields
// introduced since the last sync are absent from it, and it carries no RowID
// so the store assigns a fresh physical row on insert.
func (r *Record) Snapshot() *Record {
	old := &Record{
		EntityID:   r.EntityID,
		Version:    r.Version,
		Current:    false,
		EntityType: r.EntityType,
		CreatedAt:  r.CreatedAt,
		fields:     copyFields(r.synced),
	}
	old.MarkSynced()
	return old
}

// SetVersioningEnabled toggles chain maintenance for this record instance.
// With versioning disabled every save is an in-place update.
func (r *Record) SetVersioningEnabled(enabled bool) {
	r.versioningDisabled = !enabled
}

// VersioningEnabled reports whether saves of this record maintain the chain.
func (r *Record) VersioningEnabled() bool {
	return !r.versioningDisabled
}

// Persisted reports whether the record is backed by a physical row.
func (r *Record) Persisted() bool {
	return r.RowID != 0
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		out[name] = value
	}
	return out
}
