package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prima-machinery/inventory/backend/internal/cache"
	"github.com/prima-machinery/inventory/backend/internal/outbox"
	"github.com/prima-machinery/inventory/backend/internal/snapshot"
	"github.com/prima-machinery/inventory/backend/internal/syncer"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	filtersCacheKey = "machine_filters"
)

var (
	errMissingStore  = errors.New("snapshot store dependency required")
	errMissingOutbox = errors.New("outbox queue dependency required")
	errMissingSyncer = errors.New("sync engine dependency required")
)

// Dependencies wires the local API surface to the persistence and sync tier.
type Dependencies struct {
	Store  *snapshot.Store
	Outbox *outbox.Queue
	Syncer *syncer.Engine
	Cache  *cache.Store
	Logger *zap.Logger
}

// NewHTTPHandler builds the local HTTP API consumed by the desktop UI. It
// mirrors the remote server's route contract so the client can stay pointed
// at one surface regardless of connectivity.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Outbox == nil {
		return nil, errMissingOutbox
	}
	if deps.Syncer == nil {
		return nil, errMissingSyncer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:  deps.Store,
		outbox: deps.Outbox,
		syncer: deps.Syncer,
		cache:  deps.Cache,
		logger: logger,
	}

	router.GET("/health", handler.handleHealth)

	api := router.Group("/api")
	api.GET("/machines", handler.handleListMachines)
	api.POST("/machines", handler.handleCreateMachine)
	api.GET("/machines/filters", handler.handleFilters)
	api.POST("/machines/archive", handler.handleArchiveMachine)
	api.POST("/machines/sold", handler.handleSellMachine)
	api.GET("/machines/:id", handler.handleGetMachine)
	api.PUT("/machines/:id", handler.handleUpdateMachine)
	api.DELETE("/machines/:id", handler.handleDeleteMachine)
	api.GET("/contact", handler.handleListContacts)
	api.POST("/sync", handler.handleSync)

	return router, nil
}

type httpHandler struct {
	store  *snapshot.Store
	outbox *outbox.Queue
	syncer *syncer.Engine
	cache  *cache.Store
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "database": "sqlite"})
}

func (h *httpHandler) handleListMachines(c *gin.Context) {
	kind, err := snapshot.ParseKind(c.Query("location"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_location"})
		return
	}

	page, err := h.store.List(c, kind, snapshot.Query{
		Search:    c.Query("search"),
		Model:     c.Query("model"),
		Type:      c.Query("type"),
		ContactID: c.Query("contactId"),
		SortBy:    c.Query("sortBy"),
		Page:      intQuery(c, "page", 1),
		PageSize:  intQuery(c, "pageSize", defaultPageSize),
	})
	if err != nil {
		h.logger.Error("machine list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	c.JSON(http.StatusOK, listEnvelope(page.Items, page.Total))
}

func (h *httpHandler) handleGetMachine(c *gin.Context) {
	kind, err := snapshot.ParseKind(c.Query("location"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_location"})
		return
	}

	doc, err := h.store.Get(c, kind, c.Param("id"))
	if errors.Is(err, snapshot.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"data": nil})
		return
	}
	if err != nil {
		h.logger.Error("machine lookup failed", zap.Error(err), zap.String("id", c.Param("id")))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

func (h *httpHandler) handleCreateMachine(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	doc, err := h.store.CreateMachine(c, body)
	if err != nil {
		h.logger.Error("machine create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	h.enqueueRemote(c, http.MethodPost, "/api/machines", doc)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true, "machine": doc}})
}

func (h *httpHandler) handleUpdateMachine(c *gin.Context) {
	machineID := c.Param("id")

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	doc, err := h.store.UpdateMachine(c, machineID, body)
	if errors.Is(err, snapshot.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("machine update failed", zap.Error(err), zap.String("id", machineID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	h.enqueueRemote(c, http.MethodPut, "/api/machines/"+machineID, doc)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true, "machine": doc}})
}

func (h *httpHandler) handleDeleteMachine(c *gin.Context) {
	machineID := c.Param("id")

	err := h.store.Delete(c, snapshot.KindLocated, machineID)
	if errors.Is(err, snapshot.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("machine delete failed", zap.Error(err), zap.String("id", machineID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	h.enqueueRemote(c, http.MethodDelete, "/api/machines/"+machineID, nil)
	c.Status(http.StatusNoContent)
}

// transitionPayload accepts either a bare machine document or an envelope
// wrapping it together with transition attributes, matching the remote
// server's archive/sold endpoints.
type transitionPayload struct {
	machine map[string]any
	extras  map[string]any
}

func decodeTransition(c *gin.Context, extrasKey string) (transitionPayload, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || len(body) == 0 {
		return transitionPayload{}, false
	}

	payload := transitionPayload{machine: body, extras: map[string]any{}}
	if nested, ok := body["machine"].(map[string]any); ok {
		payload.machine = nested
		for key, value := range body {
			if key == "machine" {
				continue
			}
			payload.extras[key] = value
		}
		if wrapped, ok := body[extrasKey].(map[string]any); ok {
			payload.extras = wrapped
		}
	}
	return payload, true
}

func (h *httpHandler) handleArchiveMachine(c *gin.Context) {
	payload, ok := decodeTransition(c, "")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	archiveDate, _ := payload.extras["archiveDate"].(string)
	envelope, err := h.store.Archive(c, payload.machine, archiveDate)
	if errors.Is(err, snapshot.ErrMissingMachineID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine_id_required"})
		return
	}
	if err != nil {
		h.logger.Error("machine archive failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "archive_failed"})
		return
	}

	h.enqueueRemote(c, http.MethodPost, "/api/machines/archive", map[string]any{
		"machine":     payload.machine,
		"archiveDate": envelope["archiveDate"],
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true, "machine": envelope}})
}

func (h *httpHandler) handleSellMachine(c *gin.Context) {
	payload, ok := decodeTransition(c, "sold")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	envelope, err := h.store.Sell(c, payload.machine, payload.extras)
	if errors.Is(err, snapshot.ErrMissingMachineID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "machine_id_required"})
		return
	}
	if err != nil {
		h.logger.Error("machine sale failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sell_failed"})
		return
	}

	h.enqueueRemote(c, http.MethodPost, "/api/machines/sold", map[string]any{
		"machine": payload.machine,
		"sold":    payload.extras,
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true, "machine": envelope}})
}

func (h *httpHandler) handleListContacts(c *gin.Context) {
	page, err := h.store.List(c, snapshot.KindContacts, snapshot.Query{
		Search:   c.Query("search"),
		SortBy:   c.Query("sortBy"),
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "pageSize", 10),
	})
	if err != nil {
		h.logger.Error("contact list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	c.JSON(http.StatusOK, listEnvelope(page.Items, page.Total))
}

type filterOption struct {
	Label string `json:"label"`
	Data  any    `json:"data"`
}

func valueOptions(values []string) []filterOption {
	options := make([]filterOption, 0, len(values))
	for _, value := range values {
		options = append(options, filterOption{Label: value, Data: value})
	}
	return options
}

// handleFilters serves the filter option lists for the machine list view.
// The freshly computed set is cached; when the snapshot read fails, the last
// cached set is served instead.
func (h *httpHandler) handleFilters(c *gin.Context) {
	models, errModels := h.store.DistinctValues(c, snapshot.KindLocated, "model")
	types, errTypes := h.store.DistinctValues(c, snapshot.KindLocated, "type")
	salesmen, errSalesmen := h.store.DistinctValues(c, snapshot.KindLocated, "salesman")

	if errModels != nil || errTypes != nil || errSalesmen != nil {
		if h.cache != nil {
			if cached, err := h.cache.Get(c, filtersCacheKey); err == nil {
				c.Data(http.StatusOK, "application/json", cached)
				return
			}
		}
		h.logger.Error("filter computation failed",
			zap.NamedError("models", errModels),
			zap.NamedError("types", errTypes),
			zap.NamedError("salesmen", errSalesmen))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "filters_failed"})
		return
	}

	response := gin.H{"data": gin.H{
		"model":    valueOptions(models),
		"type":     valueOptions(types),
		"salesman": valueOptions(salesmen),
		"location": []filterOption{
			{Label: "Located", Data: "located"},
			{Label: "Sold", Data: "sold"},
			{Label: "Archived", Data: "archived"},
		},
		"pageSize": []filterOption{
			{Label: "10", Data: 10},
			{Label: "20", Data: 20},
			{Label: "50", Data: 50},
			{Label: "100", Data: 100},
		},
	}}

	if h.cache != nil {
		if encoded, err := json.Marshal(response); err == nil {
			if err := h.cache.Set(c, filtersCacheKey, encoded); err != nil {
				h.logger.Warn("filter cache write failed", zap.Error(err))
			}
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleSync(c *gin.Context) {
	result, err := h.syncer.Sync(c, c.Query("base"))
	if err != nil {
		h.logger.Error("sync failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "sync_failed"})
		return
	}

	if len(result.Failed) > 0 {
		c.JSON(http.StatusOK, gin.H{
			"ok":     false,
			"error":  "collections failed: " + strings.Join(result.Failed, ", "),
			"counts": result.Counts,
		})
		return
	}

	response := gin.H{"ok": true, "counts": result.Counts}
	if result.Skipped {
		response["skipped"] = true
	}
	c.JSON(http.StatusOK, response)
}

// enqueueRemote records the mutation for later replay against the remote
// server. A storage failure here is logged but does not fail the local
// write: the document is already persisted locally.
func (h *httpHandler) enqueueRemote(c *gin.Context, method, path string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			h.logger.Error("outbox payload encode failed", zap.String("path", path), zap.Error(err))
			return
		}
		raw = encoded
	}
	if err := h.outbox.Enqueue(c, method, path, raw); err != nil {
		h.logger.Error("outbox enqueue failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
	}
}

func listEnvelope(items []json.RawMessage, total int64) gin.H {
	if items == nil {
		items = []json.RawMessage{}
	}
	return gin.H{"data": gin.H{"data": items, "total": total}}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
