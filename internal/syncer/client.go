package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultPageSize = 100

// ErrRemoteStatus indicates a non-success status from the remote collection API.
var ErrRemoteStatus = errors.New("syncer: remote returned a non-success status")

// listEnvelope is the remote collection API's paged list shape.
type listEnvelope struct {
	Data struct {
		Data  []json.RawMessage `json:"data"`
		Total int64             `json:"total"`
	} `json:"data"`
}

// ClientConfig describes the dependencies of the remote client.
type ClientConfig struct {
	HTTPClient *http.Client
	PageSize   int
	Logger     *zap.Logger
}

// Client pages through the remote collection API and probes candidate base
// URLs for reachability.
type Client struct {
	http     *http.Client
	pageSize int
	logger   *zap.Logger
}

// NewClient constructs a Client, defaulting the HTTP client to a short
// timeout so a single unreachable host cannot stall a sync attempt.
func NewClient(cfg ClientConfig) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	pageSize := cfg.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: client, pageSize: pageSize, logger: logger}
}

// Probe reports whether the candidate base URL answers a lightweight list
// call with a success status.
func (c *Client) Probe(ctx context.Context, baseURL string) bool {
	probeURL := strings.TrimRight(baseURL, "/") + "/api/machines?location=located&pageSize=1&page=1"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	response, err := c.http.Do(request)
	if err != nil {
		c.logger.Warn("sync probe failed", zap.String("base", baseURL), zap.Error(err))
		return false
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	return response.StatusCode >= 200 && response.StatusCode < 300
}

// FetchAll pages through one remote list endpoint until an empty page comes
// back, accumulating the raw documents. A transport failure, a non-success
// status or a malformed envelope aborts the fetch with an error; the caller
// decides whether to commit anything.
func (c *Client) FetchAll(ctx context.Context, baseURL, path string, query url.Values) ([]json.RawMessage, error) {
	items := make([]json.RawMessage, 0)
	for page := 1; ; page++ {
		values := url.Values{}
		for key, list := range query {
			values[key] = list
		}
		values.Set("pageSize", strconv.Itoa(c.pageSize))
		values.Set("page", strconv.Itoa(page))

		requestURL := strings.TrimRight(baseURL, "/") + path + "?" + values.Encode()
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return nil, err
		}

		response, err := c.http.Do(request)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			return nil, err
		}
		if response.StatusCode < 200 || response.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: %s %d", ErrRemoteStatus, path, response.StatusCode)
		}

		var envelope listEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("syncer: decode %s page %d: %w", path, page, err)
		}
		if len(envelope.Data.Data) == 0 {
			return items, nil
		}
		items = append(items, envelope.Data.Data...)
	}
}
