package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidRequest indicates an enqueue call without method or path.
	ErrInvalidRequest = errors.New("outbox: method and path are required")

	noOpLogger = zap.NewNop()
)

// QueueError carries a coded outbox storage failure.
type QueueError struct {
	code string
	err  error
}

func (e *QueueError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *QueueError) Unwrap() error {
	return e.err
}

func (e *QueueError) Code() string {
	return e.code
}

const (
	opQueueNew = "outbox.queue.new"
	opEnqueue  = "outbox.enqueue"
	opPending  = "outbox.pending"
	opFlush    = "outbox.flush"
)

func newQueueError(operation, reason string, cause error) error {
	return &QueueError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// QueueConfig describes the dependencies of the outbox queue.
type QueueConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Queue durably records pending remote mutations and replays them in strict
// FIFO order against a remote base URL.
type Queue struct {
	db     *gorm.DB
	clock  func() time.Time
	client *http.Client
	logger *zap.Logger
}

// NewQueue validates dependencies and constructs a Queue.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Database == nil {
		return nil, newQueueError(opQueueNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Queue{
		db:     cfg.Database,
		clock:  clock,
		client: client,
		logger: logger,
	}, nil
}

// Enqueue appends one pending remote mutation, assigning the next sequence id.
func (q *Queue) Enqueue(ctx context.Context, method, path string, payload json.RawMessage) error {
	if strings.TrimSpace(method) == "" || strings.TrimSpace(path) == "" {
		return ErrInvalidRequest
	}

	entry := Entry{
		Method:          strings.ToUpper(strings.TrimSpace(method)),
		Path:            path,
		CreatedAtMillis: q.clock().UTC().UnixMilli(),
	}
	if len(payload) > 0 {
		encoded := string(payload)
		entry.PayloadJSON = &encoded
	}

	if err := q.db.WithContext(ctx).Create(&entry).Error; err != nil {
		q.logError(opEnqueue, "insert_failed", err, zap.String("method", entry.Method), zap.String("path", entry.Path))
		return newQueueError(opEnqueue, "insert_failed", err)
	}
	return nil
}

// Pending returns the queued entries in replay order.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	if err := q.db.WithContext(ctx).Order("id ASC").Find(&entries).Error; err != nil {
		q.logError(opPending, "query_failed", err)
		return nil, newQueueError(opPending, "query_failed", err)
	}
	return entries, nil
}

// Flush drains the queue against the remote base URL, oldest entry first.
// Each entry is deleted only after the remote confirms it with a 2xx status;
// the first transport failure or non-2xx response stops the pass, leaving
// that entry and everything behind it queued. Stopping early is the expected
// still-offline outcome, so it returns the flushed count with a nil error —
// only storage faults are reported as errors.
func (q *Queue) Flush(ctx context.Context, baseURL, bearerToken string) (int, error) {
	flushed := 0
	for {
		var entry Entry
		err := q.db.WithContext(ctx).Order("id ASC").First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return flushed, nil
		}
		if err != nil {
			q.logError(opFlush, "head_query_failed", err)
			return flushed, newQueueError(opFlush, "head_query_failed", err)
		}

		if !q.deliver(ctx, baseURL, bearerToken, entry) {
			q.logger.Info("outbox flush paused",
				zap.Int64("sequence_id", entry.SequenceID),
				zap.String("method", entry.Method),
				zap.String("path", entry.Path),
				zap.Int("flushed", flushed))
			return flushed, nil
		}

		if err := q.db.WithContext(ctx).Delete(&Entry{}, entry.SequenceID).Error; err != nil {
			q.logError(opFlush, "delete_failed", err, zap.Int64("sequence_id", entry.SequenceID))
			return flushed, newQueueError(opFlush, "delete_failed", err)
		}
		flushed++
	}
}

// deliver issues one queued mutation and reports whether the remote
// confirmed it.
func (q *Queue) deliver(ctx context.Context, baseURL, bearerToken string, entry Entry) bool {
	var body io.Reader
	if entry.PayloadJSON != nil {
		body = bytes.NewReader([]byte(*entry.PayloadJSON))
	}

	request, err := http.NewRequestWithContext(ctx, entry.Method, resolveURL(baseURL, entry.Path), body)
	if err != nil {
		q.logger.Warn("outbox entry has an unusable request", zap.Int64("sequence_id", entry.SequenceID), zap.Error(err))
		return false
	}
	request.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		request.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	response, err := q.client.Do(request)
	if err != nil {
		return false
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	return response.StatusCode >= 200 && response.StatusCode < 300
}

// resolveURL passes absolute paths through unchanged and joins relative
// paths to the base URL.
func resolveURL(baseURL, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(baseURL, "/") + path
}

func (q *Queue) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	q.logger.Error("outbox queue error", attrs...)
}
