package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rpattn/verstore/internal/engine"
	"github.com/rpattn/verstore/internal/export"
	"github.com/rpattn/verstore/internal/middleware"
	"github.com/rpattn/verstore/internal/repository"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	eng := engine.New(repository.NewMemoryStore(), nil, engine.WithMinorFields("asset", "view_count"))
	exporter := export.NewService(eng, t.TempDir())
	handler := middleware.DataLoaderMiddleware(eng)(NewHandler(eng, exporter))

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	if resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			decoded = nil
		}
	}
	return resp, decoded
}

func createAsset(t *testing.T, server *httptest.Server, fields map[string]any) int64 {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, server.URL+"/records", map[string]any{
		"entity_type": "asset",
		"fields":      fields,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	return int64(body["entity_id"].(float64))
}

func TestHandler_CreateAndGet(t *testing.T) {
	server := newTestServer(t)

	entityID := createAsset(t, server, map[string]any{"name": "pump"})
	if entityID != 1 {
		t.Fatalf("expected entity id 1, got %d", entityID)
	}

	resp, body := doJSON(t, http.MethodGet, fmt.Sprintf("%s/records/%d", server.URL, entityID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get returned %d", resp.StatusCode)
	}
	if body["version"].(float64) != 1 || body["current"] != true {
		t.Fatalf("unexpected envelope: %v", body)
	}

	record := body["record"].(map[string]any)
	if record["name"] != "pump" {
		t.Fatalf("payload missing: %v", record)
	}
	// Current versioned records project without chain bookkeeping.
	if _, ok := record["entity_id"]; ok {
		t.Fatalf("projection must hide entity_id: %v", record)
	}
	if _, ok := record["is_current"]; ok {
		t.Fatalf("projection must hide is_current: %v", record)
	}
}

func TestHandler_UpdatePaths(t *testing.T) {
	server := newTestServer(t)
	entityID := createAsset(t, server, map[string]any{"name": "pump", "view_count": 0})
	url := fmt.Sprintf("%s/records/%d", server.URL, entityID)

	// Minor field: no version bump.
	resp, body := doJSON(t, http.MethodPut, url, map[string]any{
		"fields": map[string]any{"view_count": 5},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("minor update returned %d", resp.StatusCode)
	}
	if body["version"].(float64) != 1 {
		t.Fatalf("minor update must not bump the version: %v", body)
	}

	// Major field: chain extends.
	resp, body = doJSON(t, http.MethodPut, url, map[string]any{
		"fields": map[string]any{"name": "compressor"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("major update returned %d", resp.StatusCode)
	}
	if body["version"].(float64) != 2 {
		t.Fatalf("major update must bump the version: %v", body)
	}

	// Forced minor save of a major field.
	resp, body = doJSON(t, http.MethodPut, url, map[string]any{
		"fields": map[string]any{"name": "turbine"},
		"minor":  true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("forced minor update returned %d", resp.StatusCode)
	}
	if body["version"].(float64) != 2 {
		t.Fatalf("forced minor update must not bump the version: %v", body)
	}
}

func TestHandler_HistoryAndVersions(t *testing.T) {
	server := newTestServer(t)
	entityID := createAsset(t, server, map[string]any{"name": "pump"})
	url := fmt.Sprintf("%s/records/%d", server.URL, entityID)

	doJSON(t, http.MethodPut, url, map[string]any{"fields": map[string]any{"name": "compressor"}})

	resp, err := http.Get(url + "/history")
	if err != nil {
		t.Fatalf("history request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history returned %d", resp.StatusCode)
	}
	var history []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	if history[0]["version"].(float64) != 1 || history[1]["version"].(float64) != 2 {
		t.Fatalf("history must be ordered oldest first: %v", history)
	}

	// Archived snapshots keep their bookkeeping in the projection.
	archived := history[0]["record"].(map[string]any)
	if _, ok := archived["entity_id"]; !ok {
		t.Fatalf("archived projection must include entity_id: %v", archived)
	}

	respV, body := doJSON(t, http.MethodGet, url+"/versions/1", nil)
	if respV.StatusCode != http.StatusOK {
		t.Fatalf("version lookup returned %d", respV.StatusCode)
	}
	if body["record"].(map[string]any)["name"] != "pump" {
		t.Fatalf("version 1 must hold the original payload: %v", body)
	}
}

func TestHandler_Rollback(t *testing.T) {
	server := newTestServer(t)
	entityID := createAsset(t, server, map[string]any{"name": "pump"})
	url := fmt.Sprintf("%s/records/%d", server.URL, entityID)

	doJSON(t, http.MethodPut, url, map[string]any{"fields": map[string]any{"name": "compressor"}})

	resp, body := doJSON(t, http.MethodPost, url+"/rollback", map[string]any{"to_version": 1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rollback returned %d", resp.StatusCode)
	}
	if body["version"].(float64) != 3 {
		t.Fatalf("rollback must promote a new version: %v", body)
	}
	if body["record"].(map[string]any)["name"] != "pump" {
		t.Fatalf("rollback must restore the payload: %v", body)
	}
}

func TestHandler_ListScopes(t *testing.T) {
	server := newTestServer(t)
	entityID := createAsset(t, server, map[string]any{"name": "pump"})
	url := fmt.Sprintf("%s/records/%d", server.URL, entityID)

	doJSON(t, http.MethodPut, url, map[string]any{"fields": map[string]any{"name": "compressor"}})

	counts := map[string]int{"": 1, "all": 2, "old": 1}
	for scope, want := range counts {
		listURL := server.URL + "/records?type=asset"
		if scope != "" {
			listURL += "&scope=" + scope
		}
		resp, err := http.Get(listURL)
		if err != nil {
			t.Fatalf("list request failed: %v", err)
		}
		var records []map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
			t.Fatalf("failed to decode list: %v", err)
		}
		resp.Body.Close()
		if len(records) != want {
			t.Fatalf("scope %q: expected %d records, got %d", scope, want, len(records))
		}
	}
}

func TestHandler_Errors(t *testing.T) {
	server := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, server.URL+"/records/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing entity must return 404, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/records", map[string]any{"fields": map[string]any{}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing entity_type must return 400, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/records/abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad entity id must return 400, got %d", resp.StatusCode)
	}
}

func TestHandler_ExportCSV(t *testing.T) {
	server := newTestServer(t)
	entityID := createAsset(t, server, map[string]any{"name": "pump"})

	resp, err := http.Get(fmt.Sprintf("%s/records/%d/export?format=csv", server.URL, entityID))
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export returned %d", resp.StatusCode)
	}
	if disposition := resp.Header.Get("Content-Disposition"); disposition == "" {
		t.Fatalf("export must set a download disposition")
	}
}
