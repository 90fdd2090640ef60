package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrNotFound indicates no document exists under the requested identity.
	ErrNotFound = errors.New("snapshot: document not found")
	// ErrMissingMachineID indicates a transition payload without a machine identity.
	ErrMissingMachineID = errors.New("snapshot: machine id is required")
	// ErrInvalidDocument indicates a payload that is not a JSON object.
	ErrInvalidDocument = errors.New("snapshot: document must be a JSON object")

	noOpLogger = zap.NewNop()
)

// StoreError carries a coded storage failure.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew      = "snapshot.store.new"
	opUpsert        = "snapshot.upsert"
	opClear         = "snapshot.clear"
	opReplace       = "snapshot.replace"
	opGet           = "snapshot.get"
	opDelete        = "snapshot.delete"
	opCount         = "snapshot.count"
	opCreateMachine = "snapshot.create_machine"
	opUpdateMachine = "snapshot.update_machine"
	opArchive       = "snapshot.archive"
	opSell          = "snapshot.sell"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// StoreConfig describes the dependencies of the snapshot store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store owns the snapshot tables: field extraction, insert-or-replace
// persistence, document reads and the archive/sell transitions.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates dependencies and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewNumericIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Upsert indexes and persists the provided documents into one collection
// inside a single transaction. Documents missing their identity field, and
// documents that are not JSON objects, are skipped rather than errored; the
// returned count covers only the documents actually indexed.
func (s *Store) Upsert(ctx context.Context, kind Kind, items []json.RawMessage) (int, error) {
	if err := kind.validate(); err != nil {
		return 0, err
	}

	count := 0
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		indexed, err := s.upsertLocked(tx, kind, items)
		if err != nil {
			return err
		}
		count = indexed
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return count, nil
}

// Clear deletes every row of one collection.
func (s *Store) Clear(ctx context.Context, kind Kind) error {
	if err := kind.validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Exec("DELETE FROM " + kind.table()).Error; err != nil {
		s.logError(opClear, "delete_failed", err, zap.String("collection", kind.String()))
		return newStoreError(opClear, "delete_failed", err)
	}
	return nil
}

// Replace atomically swaps a collection's contents for the provided
// documents. Readers observe either the previous snapshot or the new one,
// never a mix, and rows absent from the new set are gone afterwards.
func (s *Store) Replace(ctx context.Context, kind Kind, items []json.RawMessage) (int, error) {
	if err := kind.validate(); err != nil {
		return 0, err
	}

	count := 0
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM " + kind.table()).Error; err != nil {
			s.logError(opReplace, "clear_failed", err, zap.String("collection", kind.String()))
			return newStoreError(opReplace, "clear_failed", err)
		}
		indexed, err := s.upsertLocked(tx, kind, items)
		if err != nil {
			return err
		}
		count = indexed
		return nil
	})
	if txErr != nil {
		return 0, txErr
	}
	return count, nil
}

// Get returns the full original document stored under the given identity.
func (s *Store) Get(ctx context.Context, kind Kind, id string) (json.RawMessage, error) {
	if err := kind.validate(); err != nil {
		return nil, err
	}

	var docs []string
	err := s.db.WithContext(ctx).
		Table(kind.table()).
		Where(kind.identityKey()+" = ?", id).
		Limit(1).
		Pluck("doc", &docs).Error
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("collection", kind.String()), zap.String("id", id))
		return nil, newStoreError(opGet, "query_failed", err)
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return json.RawMessage(docs[0]), nil
}

// Delete removes the document stored under the given identity.
func (s *Store) Delete(ctx context.Context, kind Kind, id string) error {
	if err := kind.validate(); err != nil {
		return err
	}

	affected, err := deleteByID(s.db.WithContext(ctx), kind, id)
	if err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("collection", kind.String()), zap.String("id", id))
		return newStoreError(opDelete, "delete_failed", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of documents in one collection.
func (s *Store) Count(ctx context.Context, kind Kind) (int64, error) {
	if err := kind.validate(); err != nil {
		return 0, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Table(kind.table()).Count(&total).Error; err != nil {
		s.logError(opCount, "query_failed", err, zap.String("collection", kind.String()))
		return 0, newStoreError(opCount, "query_failed", err)
	}
	return total, nil
}

// CreateMachine persists a new active inventory machine built from the
// provided fields, assigning a fresh identity and stamping creation and
// modification dates.
func (s *Store) CreateMachine(ctx context.Context, body map[string]any) (map[string]any, error) {
	if body == nil {
		return nil, ErrInvalidDocument
	}

	machineID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateMachine, "id_generation_failed", err)
		return nil, newStoreError(opCreateMachine, "id_generation_failed", err)
	}

	now := s.clock().UTC().Format(time.RFC3339)
	doc := cloneDocument(body)
	doc["m_id"] = machineID
	if stringField(doc, "createDate") == "" {
		doc["createDate"] = now
	}
	doc["lastModDate"] = now

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, newStoreError(opCreateMachine, "encode_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.upsertLocked(tx, KindLocated, []json.RawMessage{raw})
		return err
	})
	if txErr != nil {
		return nil, txErr
	}
	return doc, nil
}

// UpdateMachine merges the provided fields into the stored document,
// restamps lastModDate and re-derives the indexed columns. Unknown fields in
// the stored document survive a partial update.
func (s *Store) UpdateMachine(ctx context.Context, machineID string, patch map[string]any) (map[string]any, error) {
	var doc map[string]any

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var docs []string
		err := tx.Table(KindLocated.table()).
			Where("m_id = ?", machineID).
			Limit(1).
			Pluck("doc", &docs).Error
		if err != nil {
			s.logError(opUpdateMachine, "query_failed", err, zap.String("id", machineID))
			return newStoreError(opUpdateMachine, "query_failed", err)
		}
		if len(docs) == 0 {
			return ErrNotFound
		}

		stored, ok := decodeDocument(json.RawMessage(docs[0]))
		if !ok {
			return newStoreError(opUpdateMachine, "decode_failed", ErrInvalidDocument)
		}

		for key, value := range patch {
			if key == "m_id" {
				continue
			}
			stored[key] = value
		}
		stored["lastModDate"] = s.clock().UTC().Format(time.RFC3339)

		raw, err := json.Marshal(stored)
		if err != nil {
			return newStoreError(opUpdateMachine, "encode_failed", err)
		}
		if _, err := s.upsertLocked(tx, KindLocated, []json.RawMessage{raw}); err != nil {
			return err
		}
		doc = stored
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return doc, nil
}

// Archive moves a located machine into the archived collection under a fresh
// archive identity and removes the located row, all in one transaction. The
// located row is gone afterwards; archival is a replacement identity, not a
// status flag.
func (s *Store) Archive(ctx context.Context, machine map[string]any, archiveDate string) (map[string]any, error) {
	machineID := stringField(machine, "m_id")
	if machineID == "" {
		return nil, ErrMissingMachineID
	}

	archiveID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opArchive, "id_generation_failed", err)
		return nil, newStoreError(opArchive, "id_generation_failed", err)
	}

	if archiveDate == "" {
		archiveDate = s.clock().UTC().Format(time.RFC3339)
	}

	copied := cloneDocument(machine)
	delete(copied, "m_id")
	copied["lastModDate"] = archiveDate

	envelope := map[string]any{
		"a_id":        archiveID,
		"archiveDate": archiveDate,
		"machine":     copied,
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, newStoreError(opArchive, "encode_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.upsertLocked(tx, KindArchived, []json.RawMessage{raw}); err != nil {
			return err
		}
		if _, err := deleteByID(tx, KindLocated, machineID); err != nil {
			s.logError(opArchive, "delete_located_failed", err, zap.String("id", machineID))
			return newStoreError(opArchive, "delete_located_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return envelope, nil
}

// Sell moves a located machine into the sold collection under a fresh sale
// identity, carrying the sale details as opaque envelope fields, and removes
// the located row in the same transaction.
func (s *Store) Sell(ctx context.Context, machine map[string]any, sale map[string]any) (map[string]any, error) {
	machineID := stringField(machine, "m_id")
	if machineID == "" {
		return nil, ErrMissingMachineID
	}

	saleID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSell, "id_generation_failed", err)
		return nil, newStoreError(opSell, "id_generation_failed", err)
	}

	dateSold := stringField(sale, "dateSold")
	if dateSold == "" {
		dateSold = s.clock().UTC().Format(time.RFC3339)
	}

	copied := cloneDocument(machine)
	delete(copied, "m_id")
	copied["lastModDate"] = dateSold

	envelope := map[string]any{
		"s_id":     saleID,
		"machine":  copied,
		"dateSold": dateSold,
	}
	for key, value := range sale {
		if key == "s_id" || key == "machine" || key == "dateSold" {
			continue
		}
		envelope[key] = value
	}

	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, newStoreError(opSell, "encode_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.upsertLocked(tx, KindSold, []json.RawMessage{raw}); err != nil {
			return err
		}
		if _, err := deleteByID(tx, KindLocated, machineID); err != nil {
			s.logError(opSell, "delete_located_failed", err, zap.String("id", machineID))
			return newStoreError(opSell, "delete_located_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return envelope, nil
}

// upsertLocked performs extraction and insert-or-replace for each document
// within the caller's transaction, returning the indexed count.
func (s *Store) upsertLocked(tx *gorm.DB, kind Kind, items []json.RawMessage) (int, error) {
	count := 0
	for _, raw := range items {
		doc, ok := decodeDocument(raw)
		if !ok {
			continue
		}

		if kind == KindContacts {
			fields, ok := extractContact(doc)
			if !ok {
				continue
			}
			row := ContactRow{
				ContactID:    fields.ID,
				Name:         fields.Name,
				Company:      fields.Company,
				LastModified: fields.LastModified,
				DocJSON:      string(raw),
			}
			if err := tx.Clauses(replaceClause("c_id")).Create(&row).Error; err != nil {
				s.logError(opUpsert, "row_write_failed", err, zap.String("collection", kind.String()), zap.String("id", fields.ID))
				return 0, newStoreError(opUpsert, "row_write_failed", err)
			}
			count++
			continue
		}

		fields, ok := extractMachine(kind, doc)
		if !ok {
			continue
		}
		if err := writeMachineRow(tx, kind, fields, string(raw)); err != nil {
			s.logError(opUpsert, "row_write_failed", err, zap.String("collection", kind.String()), zap.String("id", fields.ID))
			return 0, newStoreError(opUpsert, "row_write_failed", err)
		}
		count++
	}
	return count, nil
}

func writeMachineRow(tx *gorm.DB, kind Kind, fields machineFields, docJSON string) error {
	switch kind {
	case KindLocated:
		row := LocatedRow{
			MachineID:    fields.ID,
			Serial:       fields.Serial,
			Model:        fields.Model,
			Type:         fields.Type,
			Salesman:     fields.Salesman,
			ContactID:    fields.ContactID,
			LastModified: fields.LastModified,
			DocJSON:      docJSON,
		}
		return tx.Clauses(replaceClause("m_id")).Create(&row).Error
	case KindArchived:
		row := ArchivedRow{
			ArchiveID:    fields.ID,
			Serial:       fields.Serial,
			Model:        fields.Model,
			Type:         fields.Type,
			Salesman:     fields.Salesman,
			ContactID:    fields.ContactID,
			LastModified: fields.LastModified,
			DocJSON:      docJSON,
		}
		return tx.Clauses(replaceClause("a_id")).Create(&row).Error
	case KindSold:
		row := SoldRow{
			SaleID:       fields.ID,
			Serial:       fields.Serial,
			Model:        fields.Model,
			Type:         fields.Type,
			Salesman:     fields.Salesman,
			ContactID:    fields.ContactID,
			LastModified: fields.LastModified,
			DocJSON:      docJSON,
		}
		return tx.Clauses(replaceClause("s_id")).Create(&row).Error
	default:
		return ErrUnknownKind
	}
}

func deleteByID(tx *gorm.DB, kind Kind, id string) (int64, error) {
	var result *gorm.DB
	switch kind {
	case KindLocated:
		result = tx.Where("m_id = ?", id).Delete(&LocatedRow{})
	case KindArchived:
		result = tx.Where("a_id = ?", id).Delete(&ArchivedRow{})
	case KindSold:
		result = tx.Where("s_id = ?", id).Delete(&SoldRow{})
	case KindContacts:
		result = tx.Where("c_id = ?", id).Delete(&ContactRow{})
	default:
		return 0, ErrUnknownKind
	}
	return result.RowsAffected, result.Error
}

func replaceClause(idColumn string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: idColumn}},
		UpdateAll: true,
	}
}

func cloneDocument(doc map[string]any) map[string]any {
	copied := make(map[string]any, len(doc))
	for key, value := range doc {
		copied[key] = value
	}
	return copied
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("snapshot store error", attrs...)
}
