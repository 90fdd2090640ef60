package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/prima-machinery/inventory/backend/internal/cache"
	"github.com/prima-machinery/inventory/backend/internal/outbox"
	"github.com/prima-machinery/inventory/backend/internal/snapshot"
	"github.com/prima-machinery/inventory/backend/internal/syncer"
)

type testAPI struct {
	handler http.Handler
	store   *snapshot.Store
	queue   *outbox.Queue
	cache   *cache.Store
}

type fixedIDProvider struct {
	id string
}

func (p fixedIDProvider) NewID() (string, error) {
	return p.id, nil
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	databasePath := filepath.Join(t.TempDir(), "api.db")

	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&snapshot.LocatedRow{},
		&snapshot.ArchivedRow{},
		&snapshot.SoldRow{},
		&snapshot.ContactRow{},
		&outbox.Entry{},
		&cache.Entry{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	store, err := snapshot.NewStore(snapshot.StoreConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: fixedIDProvider{id: "7777777777"},
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	queue, err := outbox.NewQueue(outbox.QueueConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build queue: %v", err)
	}

	cacheStore, err := cache.NewStore(cache.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build cache: %v", err)
	}

	// The engine points at unreachable bases so POST /sync exercises the
	// soft-skip path; sync behavior itself is covered in the syncer package.
	engine, err := syncer.NewEngine(syncer.EngineConfig{
		Store:  store,
		Outbox: queue,
		Client: syncer.NewClient(syncer.ClientConfig{HTTPClient: &http.Client{Timeout: 200 * time.Millisecond}}),
	})
	if err != nil {
		t.Fatalf("failed to build sync engine: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Store:  store,
		Outbox: queue,
		Syncer: engine,
		Cache:  cacheStore,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return &testAPI{handler: handler, store: store, queue: queue, cache: cacheStore}
}

func (a *testAPI) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func (a *testAPI) seedMachine(t *testing.T, doc map[string]any) {
	t.Helper()
	encoded, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to encode seed document: %v", err)
	}
	if _, err := a.store.Upsert(context.Background(), snapshot.KindLocated, []json.RawMessage{encoded}); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodGet, "/health", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["ok"] != true {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestListMachinesUsesNestedEnvelope(t *testing.T) {
	api := newTestAPI(t)
	api.seedMachine(t, map[string]any{"m_id": "1111111111", "model": "Excavator"})
	api.seedMachine(t, map[string]any{"m_id": "2222222222", "model": "Loader"})

	recorder := api.request(t, http.MethodGet, "/api/machines?location=located", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected a nested data envelope, got %+v", body)
	}
	items, ok := data["data"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 listed machines, got %+v", data["data"])
	}
	if data["total"] != float64(2) {
		t.Fatalf("expected total 2, got %v", data["total"])
	}
}

func TestListMachinesEmptyCollectionKeepsArrayShape(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodGet, "/api/machines?location=sold", nil)
	body := decodeBody(t, recorder)
	data := body["data"].(map[string]any)
	if _, ok := data["data"].([]any); !ok {
		t.Fatalf("expected an empty array, got %+v", data["data"])
	}
}

func TestListMachinesRejectsUnknownLocation(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodGet, "/api/machines?location=warehouse", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestGetMissingMachineAnswersNullData(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodGet, "/api/machines/0000000000", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if value, present := body["data"]; !present || value != nil {
		t.Fatalf("expected data null, got %+v", body)
	}
}

func TestCreateMachinePersistsAndQueuesRemoteWrite(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodPost, "/api/machines", map[string]any{"model": "Excavator"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	data := body["data"].(map[string]any)
	if data["success"] != true {
		t.Fatalf("expected success envelope, got %+v", body)
	}
	machine := data["machine"].(map[string]any)
	if machine["m_id"] != "7777777777" {
		t.Fatalf("expected the issued identity in the response, got %+v", machine)
	}

	if _, err := api.store.Get(context.Background(), snapshot.KindLocated, "7777777777"); err != nil {
		t.Fatalf("expected the machine to be persisted locally, got %v", err)
	}

	entries, err := api.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("unexpected pending error: %v", err)
	}
	if len(entries) != 1 || entries[0].Method != "POST" || entries[0].Path != "/api/machines" {
		t.Fatalf("expected one queued POST, got %+v", entries)
	}
}

func TestUpdateMachineMergesAndQueuesRemoteWrite(t *testing.T) {
	api := newTestAPI(t)
	api.seedMachine(t, map[string]any{"m_id": "1111111111", "model": "Excavator", "customField": "kept"})

	recorder := api.request(t, http.MethodPut, "/api/machines/1111111111", map[string]any{"model": "Loader"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	machine := body["data"].(map[string]any)["machine"].(map[string]any)
	if machine["model"] != "Loader" || machine["customField"] != "kept" {
		t.Fatalf("expected a merged document, got %+v", machine)
	}

	entries, err := api.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("unexpected pending error: %v", err)
	}
	if len(entries) != 1 || entries[0].Method != "PUT" || entries[0].Path != "/api/machines/1111111111" {
		t.Fatalf("expected one queued PUT, got %+v", entries)
	}
}

func TestUpdateMissingMachineAnswers404(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodPut, "/api/machines/0000000000", map[string]any{"model": "X"})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestDeleteMachineQueuesRemoteDelete(t *testing.T) {
	api := newTestAPI(t)
	api.seedMachine(t, map[string]any{"m_id": "1111111111", "model": "Excavator"})

	recorder := api.request(t, http.MethodDelete, "/api/machines/1111111111", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}

	if _, err := api.store.Get(context.Background(), snapshot.KindLocated, "1111111111"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected the machine to be gone, got %v", err)
	}

	entries, err := api.queue.Pending(context.Background())
	if err != nil {
		t.Fatalf("unexpected pending error: %v", err)
	}
	if len(entries) != 1 || entries[0].Method != "DELETE" {
		t.Fatalf("expected one queued DELETE, got %+v", entries)
	}
	if entries[0].PayloadJSON != nil {
		t.Fatalf("expected a bodiless DELETE, got %q", *entries[0].PayloadJSON)
	}
}

func TestArchiveMachineMovesAndQueues(t *testing.T) {
	api := newTestAPI(t)
	api.seedMachine(t, map[string]any{"m_id": "1111111111", "model": "Excavator"})

	recorder := api.request(t, http.MethodPost, "/api/machines/archive", map[string]any{
		"machine":     map[string]any{"m_id": "1111111111", "model": "Excavator"},
		"archiveDate": "2024-05-01T00:00:00Z",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	envelope := body["data"].(map[string]any)["machine"].(map[string]any)
	if envelope["a_id"] != "7777777777" || envelope["archiveDate"] != "2024-05-01T00:00:00Z" {
		t.Fatalf("unexpected archive envelope: %+v", envelope)
	}

	ctx := context.Background()
	if _, err := api.store.Get(ctx, snapshot.KindLocated, "1111111111"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected the located machine to be removed, got %v", err)
	}
	if _, err := api.store.Get(ctx, snapshot.KindArchived, "7777777777"); err != nil {
		t.Fatalf("expected the archived entry to exist, got %v", err)
	}

	entries, err := api.queue.Pending(ctx)
	if err != nil {
		t.Fatalf("unexpected pending error: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "/api/machines/archive" {
		t.Fatalf("expected one queued archive, got %+v", entries)
	}
}

func TestArchiveWithoutIdentityAnswers400(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodPost, "/api/machines/archive", map[string]any{"model": "Excavator"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["error"] != "machine_id_required" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestSellMachineCarriesSaleDetails(t *testing.T) {
	api := newTestAPI(t)
	api.seedMachine(t, map[string]any{"m_id": "1111111111", "model": "Excavator"})

	recorder := api.request(t, http.MethodPost, "/api/machines/sold", map[string]any{
		"machine": map[string]any{"m_id": "1111111111", "model": "Excavator"},
		"sold":    map[string]any{"dateSold": "2024-06-01T00:00:00Z", "buyer": "Acme Rentals"},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	envelope := body["data"].(map[string]any)["machine"].(map[string]any)
	if envelope["s_id"] != "7777777777" || envelope["buyer"] != "Acme Rentals" {
		t.Fatalf("unexpected sale envelope: %+v", envelope)
	}

	if _, err := api.store.Get(context.Background(), snapshot.KindSold, "7777777777"); err != nil {
		t.Fatalf("expected the sold entry to exist, got %v", err)
	}
}

func TestContactsListUsesNestedEnvelope(t *testing.T) {
	api := newTestAPI(t)
	contact, _ := json.Marshal(map[string]any{"c_id": "6666666666", "name": "Dana", "company": "Acme"})
	if _, err := api.store.Upsert(context.Background(), snapshot.KindContacts, []json.RawMessage{contact}); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	recorder := api.request(t, http.MethodGet, "/api/contact", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	data := body["data"].(map[string]any)
	if data["total"] != float64(1) {
		t.Fatalf("expected total 1, got %v", data["total"])
	}
}

func TestFiltersServeOptionsAndPopulateCache(t *testing.T) {
	api := newTestAPI(t)
	api.seedMachine(t, map[string]any{"m_id": "1111111111", "model": "Excavator", "type": "Tracked", "salesman": "Jo"})
	api.seedMachine(t, map[string]any{"m_id": "2222222222", "model": "Loader", "type": "Tracked", "salesman": "Jo"})

	recorder := api.request(t, http.MethodGet, "/api/machines/filters", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	data := body["data"].(map[string]any)
	models := data["model"].([]any)
	if len(models) != 2 {
		t.Fatalf("expected 2 model options, got %+v", models)
	}
	first := models[0].(map[string]any)
	if first["label"] != "Excavator" || first["data"] != "Excavator" {
		t.Fatalf("unexpected option shape: %+v", first)
	}
	if _, ok := data["location"].([]any); !ok {
		t.Fatalf("expected static location options, got %+v", data["location"])
	}
	if _, ok := data["pageSize"].([]any); !ok {
		t.Fatalf("expected static page size options, got %+v", data["pageSize"])
	}

	cached, err := api.cache.Get(context.Background(), "machine_filters")
	if err != nil {
		t.Fatalf("expected the filter set to be cached, got %v", err)
	}
	var cachedBody map[string]any
	if err := json.Unmarshal(cached, &cachedBody); err != nil {
		t.Fatalf("failed to decode cached filters: %v", err)
	}
}

func TestSyncEndpointReportsSoftSkip(t *testing.T) {
	api := newTestAPI(t)

	recorder := api.request(t, http.MethodPost, "/api/sync", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}

	body := decodeBody(t, recorder)
	if body["ok"] != true || body["skipped"] != true {
		t.Fatalf("expected a skipped sync response, got %+v", body)
	}
}

func TestNewHTTPHandlerValidatesDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected an error without dependencies")
	}
}
