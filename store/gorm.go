package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/miyako/questforge/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultReadTimeout = 10 * time.Second
	defaultBulkTimeout = 30 * time.Second
)

// GormStore implements Store on a gorm-backed documents table.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger

	// ReadTimeout bounds single-document operations, BulkTimeout bounds
	// queries. Adjust before first use.
	ReadTimeout time.Duration
	BulkTimeout time.Duration
}

// NewGormStore creates a document store on the given database.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:          db,
		logger:      logger,
		ReadTimeout: defaultReadTimeout,
		BulkTimeout: defaultBulkTimeout,
	}
}

func (s *GormStore) Get(ctx context.Context, collection, key string) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ReadTimeout)
	defer cancel()

	var doc model.Document
	err := s.db.WithContext(ctx).
		Where("collection = ? AND `key` = ?", collection, key).
		First(&doc).Error
	if err != nil {
		return nil, s.mapError(err, collection, key)
	}
	return s.decode(doc.Body, collection, key)
}

func (s *GormStore) GetFields(ctx context.Context, collection, key string, fields ...string) (Record, error) {
	rec, err := s.Get(ctx, collection, key)
	if err != nil {
		return nil, err
	}
	partial := make(Record, len(fields))
	for _, f := range fields {
		if raw, ok := rec[f]; ok {
			partial[f] = raw
		}
	}
	return partial, nil
}

func (s *GormStore) Save(ctx context.Context, collection, key string, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.ReadTimeout)
	defer cancel()

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", collection, key, err)
	}
	doc := &model.Document{
		Collection: collection,
		Key:        key,
		Body:       datatypes.JSON(body),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(doc).Error
	if err != nil {
		return s.mapError(err, collection, key)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, collection, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.ReadTimeout)
	defer cancel()

	err := s.db.WithContext(ctx).
		Where("collection = ? AND `key` = ?", collection, key).
		Delete(&model.Document{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return s.mapError(err, collection, key)
	}
	return nil
}

func (s *GormStore) Query(ctx context.Context, collection, field string, value interface{}) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.BulkTimeout)
	defer cancel()

	var docs []model.Document
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Where(datatypes.JSONQuery("body").Equals(value, field)).
		Find(&docs).Error
	if err != nil {
		return nil, s.mapError(err, collection, "")
	}
	return s.decodeAll(docs, collection)
}

func (s *GormStore) QueryOrdered(ctx context.Context, collection, field string, descending bool, limit int) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.BulkTimeout)
	defer cancel()

	dir := "ASC"
	if descending {
		dir = "DESC"
	}
	var docs []model.Document
	// json_extract is understood by both SQLite and MySQL.
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Order(clause.Expr{SQL: "json_extract(body, ?) " + dir, Vars: []interface{}{"$." + field}}).
		Limit(limit).
		Find(&docs).Error
	if err != nil {
		return nil, s.mapError(err, collection, "")
	}
	return s.decodeAll(docs, collection)
}

// decode unpacks a raw document body. A malformed body is logged and reported
// as ErrNotFound: a corrupt progress record must never block gameplay, so the
// caller falls back to a fresh default.
func (s *GormStore) decode(body datatypes.JSON, collection, key string) (Record, error) {
	rec := make(Record)
	if len(body) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		s.logger.Warn("malformed document, treating as absent",
			zap.String("collection", collection),
			zap.String("key", key),
			zap.Error(err))
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *GormStore) decodeAll(docs []model.Document, collection string) ([]Record, error) {
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := s.decode(doc.Body, collection, doc.Key)
		if err != nil {
			continue // malformed rows are skipped, not fatal
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *GormStore) mapError(err error, collection, key string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.logger.Warn("store timeout",
			zap.String("collection", collection),
			zap.String("key", key))
		return ErrUnavailable
	default:
		s.logger.Error("store error",
			zap.String("collection", collection),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
