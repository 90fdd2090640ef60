package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrNotFound indicates no cached value exists under the requested key.
	ErrNotFound = errors.New("cache: key not found")
	// ErrInvalidKey indicates an empty cache key.
	ErrInvalidKey = errors.New("cache: key is required")
)

// Entry is one cached JSON value. Writes are last-write-wins; freshness is
// the caller's concern.
type Entry struct {
	Key             string `gorm:"column:key;primaryKey;size:190;not null"`
	ValueJSON       string `gorm:"column:value;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "cache"
}

// StoreConfig describes the dependencies of the cache store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Store is a simple key/value JSON cache over the embedded database.
type Store struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewStore validates dependencies and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("cache: %w", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: cfg.Database, clock: clock}, nil
}

// Set upserts one cached value.
func (s *Store) Set(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return ErrInvalidKey
	}
	entry := Entry{
		Key:             key,
		ValueJSON:       string(value),
		UpdatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "key"}}, UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("cache: set %q: %w", key, err)
	}
	return nil
}

// Get returns the cached value under the given key.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %q: %w", key, err)
	}
	return json.RawMessage(entry.ValueJSON), nil
}
