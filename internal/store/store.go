// Package store is the postgres implementation of the settlement stores,
// built on gorm. One Store serves the distribution engine, governance,
// treasury, the outbox relay and the API.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound(what, id)
	}
	return err
}

func forUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

// insertOutbox writes messages inside tx. A repeated idempotency key is skipped.
func insertOutbox(tx *gorm.DB, msgs []models.OutboxMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&msgs).Error
}

func (s *Store) GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error) {
	var t models.Tokenization
	if err := s.conn(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err, "tokenization", id)
	}
	return &t, nil
}

// ListTokenizations pages all tokenizations by id.
func (s *Store) ListTokenizations(ctx context.Context, limit, offset int) ([]models.Tokenization, int64, error) {
	var total int64
	q := s.conn(ctx).Model(&models.Tokenization{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.Tokenization
	err := q.Order("id").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Store) Holdings(ctx context.Context, tokenizationID uint) ([]models.TokenHolding, error) {
	var out []models.TokenHolding
	err := s.conn(ctx).Where("tokenization_id = ?", tokenizationID).Order("holder_id").Find(&out).Error
	return out, err
}

func (s *Store) Holding(ctx context.Context, tokenizationID uint, holderID string) (*models.TokenHolding, error) {
	var h models.TokenHolding
	err := s.conn(ctx).Where("tokenization_id = ? AND holder_id = ?", tokenizationID, holderID).First(&h).Error
	if err != nil {
		return nil, notFound(err, "holding of", holderID)
	}
	return &h, nil
}
