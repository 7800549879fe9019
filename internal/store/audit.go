package store

import (
	"context"

	"estatesettle/internal/distribution"
	"estatesettle/internal/models"
)

var _ distribution.AuditLog = (*Store)(nil)

func (s *Store) Record(ctx context.Context, entry *models.SystemLog) error {
	return s.conn(ctx).Create(entry).Error
}

// LogFilter narrows a system log listing. Zero values do not filter.
type LogFilter struct {
	TokenizationID uint
	Level          string
	Module         string
	ErrorKind      string
	OrderField     string
	Descending     bool
}

var logOrderFields = map[string]bool{"id": true, "tokenization_id": true, "level": true, "created_at": true}

func (s *Store) ListSystemLogs(ctx context.Context, f LogFilter, limit, offset int) ([]models.SystemLog, int64, error) {
	q := s.conn(ctx).Model(&models.SystemLog{})
	if f.TokenizationID != 0 {
		q = q.Where("tokenization_id = ?", f.TokenizationID)
	}
	if f.Level != "" {
		q = q.Where("level = ?", f.Level)
	}
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if f.ErrorKind != "" {
		q = q.Where("error_kind = ?", f.ErrorKind)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	order := "id"
	if logOrderFields[f.OrderField] {
		order = f.OrderField
	}
	if f.Descending {
		order += " DESC"
	}
	var out []models.SystemLog
	err := q.Order(order).Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Store) GetSystemLog(ctx context.Context, id uint) (*models.SystemLog, error) {
	var l models.SystemLog
	if err := s.conn(ctx).First(&l, id).Error; err != nil {
		return nil, notFound(err, "system log", id)
	}
	return &l, nil
}
