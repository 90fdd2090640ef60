package syncer

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/prima-machinery/inventory/backend/internal/outbox"
	"github.com/prima-machinery/inventory/backend/internal/snapshot"
	"go.uber.org/zap"
)

var (
	errMissingStore  = errors.New("snapshot store dependency required")
	errMissingClient = errors.New("remote client dependency required")
)

// localDefaultBases are probed last, after any explicit or configured base.
var localDefaultBases = []string{
	"http://127.0.0.1:3000",
	"http://localhost:3000",
}

// EngineConfig describes the dependencies of the sync engine.
type EngineConfig struct {
	Store       *snapshot.Store
	Outbox      *outbox.Queue
	Client      *Client
	BaseURL     string
	BearerToken string
	Logger      *zap.Logger
}

// Engine performs the full one-directional refresh of the local collections
// from the remote collection API.
type Engine struct {
	store       *snapshot.Store
	outbox      *outbox.Queue
	client      *Client
	baseURL     string
	bearerToken string
	logger      *zap.Logger
}

// Counts reports per-collection document counts after a sync.
type Counts struct {
	Machines int `json:"machines"`
	Contacts int `json:"contacts"`
	Archives int `json:"archives"`
	Sold     int `json:"sold"`
}

// Result aggregates one sync attempt. Skipped means no candidate base URL
// was reachable and local data was left untouched. Failed lists collections
// whose refresh did not commit; the remaining collections were still
// attempted.
type Result struct {
	Skipped bool
	Base    string
	Flushed int
	Counts  Counts
	Failed  []string
}

// NewEngine validates dependencies and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       cfg.Store,
		outbox:      cfg.Outbox,
		client:      cfg.Client,
		baseURL:     cfg.BaseURL,
		bearerToken: cfg.BearerToken,
		logger:      logger,
	}, nil
}

// Sync probes the candidate base URLs and, against the first reachable one,
// drains the outbox and then refreshes every collection with an atomic
// clear-and-load. When no candidate answers, the attempt is a soft no-op.
// A failing collection is recorded and the others still run; running twice
// against an unchanged remote leaves the local store byte-for-byte identical.
func (e *Engine) Sync(ctx context.Context, baseOverride string) (Result, error) {
	base, ok := e.reachableBase(ctx, baseOverride)
	if !ok {
		e.logger.Warn("no reachable sync base, skipping")
		return Result{Skipped: true}, nil
	}

	result := Result{Base: base}
	e.logger.Info("sync starting", zap.String("base", base))

	if e.outbox != nil {
		flushed, err := e.outbox.Flush(ctx, base, e.bearerToken)
		if err != nil {
			e.logger.Error("outbox flush failed during sync", zap.Error(err))
		}
		result.Flushed = flushed
	}

	machineQuery := func(location string) url.Values {
		return url.Values{"location": []string{location}}
	}

	result.Counts.Machines = e.refresh(ctx, &result, base, snapshot.KindLocated, "/api/machines", machineQuery("located"))
	result.Counts.Archives = e.refresh(ctx, &result, base, snapshot.KindArchived, "/api/machines", machineQuery("archived"))
	result.Counts.Sold = e.refresh(ctx, &result, base, snapshot.KindSold, "/api/machines", machineQuery("sold"))
	result.Counts.Contacts = e.refresh(ctx, &result, base, snapshot.KindContacts, "/api/contact", nil)

	e.logger.Info("sync finished",
		zap.Int("machines", result.Counts.Machines),
		zap.Int("archives", result.Counts.Archives),
		zap.Int("sold", result.Counts.Sold),
		zap.Int("contacts", result.Counts.Contacts),
		zap.Int("flushed", result.Flushed),
		zap.Strings("failed", result.Failed))

	return result, nil
}

// refresh pulls one collection and commits it atomically, recording a
// failure instead of aborting the overall sync. Nothing is committed for a
// collection whose fetch or load fails.
func (e *Engine) refresh(ctx context.Context, result *Result, base string, kind snapshot.Kind, path string, query url.Values) int {
	items, err := e.client.FetchAll(ctx, base, path, query)
	if err != nil {
		e.logger.Warn("collection fetch failed", zap.String("collection", kind.String()), zap.Error(err))
		result.Failed = append(result.Failed, kind.String())
		return 0
	}

	count, err := e.store.Replace(ctx, kind, items)
	if err != nil {
		e.logger.Error("collection load failed", zap.String("collection", kind.String()), zap.Error(err))
		result.Failed = append(result.Failed, kind.String())
		return 0
	}
	return count
}

// reachableBase probes candidates in priority order: the explicit override,
// the configured remote base, then the local development defaults.
func (e *Engine) reachableBase(ctx context.Context, baseOverride string) (string, bool) {
	candidates := make([]string, 0, len(localDefaultBases)+2)
	if trimmed := strings.TrimSpace(baseOverride); trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	if trimmed := strings.TrimSpace(e.baseURL); trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	candidates = append(candidates, localDefaultBases...)

	for _, candidate := range candidates {
		if e.client.Probe(ctx, candidate) {
			return candidate, true
		}
	}
	return "", false
}
