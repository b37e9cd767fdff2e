// Package api exposes the versioning engine over a small JSON REST surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rpattn/verstore/internal/domain"
	"github.com/rpattn/verstore/internal/engine"
	"github.com/rpattn/verstore/internal/export"
	"github.com/rpattn/verstore/internal/middleware"
	"github.com/rpattn/verstore/internal/repository"
)

// Handler serves the /records API.
type Handler struct {
	engine   *engine.Engine
	exporter *export.Service
}

// NewHandler creates the records handler.
func NewHandler(eng *engine.Engine, exporter *export.Service) *Handler {
	return &Handler{engine: eng, exporter: exporter}
}

type recordEnvelope struct {
	EntityID int64          `json:"entity_id"`
	Version  int64          `json:"version"`
	Current  bool           `json:"current"`
	Record   map[string]any `json:"record"`
}

func envelope(rec *domain.Record) recordEnvelope {
	return recordEnvelope{
		EntityID: rec.EntityID,
		Version:  rec.Version,
		Current:  rec.Current,
		Record:   domain.Project(rec),
	}
}

func envelopes(records []*domain.Record) []recordEnvelope {
	out := make([]recordEnvelope, len(records))
	for i, rec := range records {
		out[i] = envelope(rec)
	}
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/records"), "/")
	parts := []string{}
	if rest != "" {
		parts = strings.Split(rest, "/")
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.handleList(w, r)
	case len(parts) >= 1:
		entityID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			http.Error(w, "invalid entity id", http.StatusBadRequest)
			return
		}
		h.serveEntity(w, r, entityID, parts[1:])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) serveEntity(w http.ResponseWriter, r *http.Request, entityID int64, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		h.handleGet(w, r, entityID)
	case len(parts) == 0 && r.Method == http.MethodPut:
		h.handleUpdate(w, r, entityID)
	case len(parts) == 1 && parts[0] == "history" && r.Method == http.MethodGet:
		h.handleHistory(w, r, entityID)
	case len(parts) == 2 && parts[0] == "versions" && r.Method == http.MethodGet:
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			http.Error(w, "invalid version", http.StatusBadRequest)
			return
		}
		h.handleVersion(w, r, entityID, version)
	case len(parts) == 1 && parts[0] == "rollback" && r.Method == http.MethodPost:
		h.handleRollback(w, r, entityID)
	case len(parts) == 1 && parts[0] == "export" && r.Method == http.MethodGet:
		h.handleExport(w, r, entityID)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type createRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id,omitempty"`
	Fields     map[string]any `json:"fields"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.EntityType == "" {
		http.Error(w, "entity_type is required", http.StatusBadRequest)
		return
	}

	rec := domain.NewRecord(req.EntityType, req.Fields)
	rec.EntityID = req.EntityID
	if err := h.engine.Save(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope(rec))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	entityType := r.URL.Query().Get("type")
	if entityType == "" {
		http.Error(w, "type query parameter is required", http.StatusBadRequest)
		return
	}

	query := engine.ByType(entityType)
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "current":
	case "all":
		query = query.WithOldVersions()
	case "old":
		query = query.OnlyOldVersions()
	default:
		http.Error(w, fmt.Sprintf("unknown scope %q", scope), http.StatusBadRequest)
		return
	}

	records, err := h.engine.Find(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelopes(records))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, entityID int64) {
	var rec *domain.Record
	var err error
	if loader := middleware.RecordLoaderFromContext(r.Context()); loader != nil {
		rec, err = loader.LoadRecord(r.Context(), entityID)
		if err == nil && rec == nil {
			err = fmt.Errorf("entity %d: %w", entityID, engine.ErrNotFound)
		}
	} else {
		rec, err = h.engine.Current(r.Context(), entityID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(rec))
}

type updateRequest struct {
	Fields map[string]any `json:"fields"`
	Minor  bool           `json:"minor,omitempty"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, entityID int64) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	rec, err := h.engine.Current(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}

	for name, value := range req.Fields {
		if value == nil {
			rec.Unset(name)
			continue
		}
		rec.Set(name, value)
	}

	if req.Minor {
		err = h.engine.SaveMinor(r.Context(), rec)
	} else {
		err = h.engine.Save(r.Context(), rec)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(rec))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, entityID int64) {
	records, err := h.engine.History(r.Context(), entityID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(records) == 0 {
		writeError(w, fmt.Errorf("entity %d: %w", entityID, engine.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, envelopes(records))
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request, entityID, version int64) {
	rec, err := h.engine.Version(r.Context(), entityID, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(rec))
}

type rollbackRequest struct {
	ToVersion int64 `json:"to_version"`
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request, entityID int64) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.ToVersion < 1 {
		http.Error(w, "to_version must be at least 1", http.StatusBadRequest)
		return
	}

	rec, err := h.engine.Rollback(r.Context(), entityID, req.ToVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(rec))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, entityID int64) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, err := h.exporter.ExportFile(r.Context(), entityID, format)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrVetoed), errors.Is(err, repository.ErrConstraint):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
