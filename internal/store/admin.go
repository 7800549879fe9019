package store

import (
	"context"

	"github.com/shopspring/decimal"

	"estatesettle/internal/distribution"
	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

var _ distribution.AdminStore = (*Store)(nil)

func (s *Store) TokenizationByProperty(ctx context.Context, propertyID uint) (*models.Tokenization, error) {
	var t models.Tokenization
	if err := s.conn(ctx).Where("property_id = ?", propertyID).First(&t).Error; err != nil {
		return nil, notFound(err, "tokenization for property", propertyID)
	}
	return &t, nil
}

func (s *Store) UpdateFees(ctx context.Context, tokenizationID uint, platformPct, managementPct decimal.Decimal) error {
	res := s.conn(ctx).Model(&models.Tokenization{}).Where("id = ?", tokenizationID).
		Updates(map[string]interface{}{"platform_fee_pct": platformPct, "management_fee_pct": managementPct})
	if res.Error == nil && res.RowsAffected == 0 {
		return errs.NotFound("tokenization", tokenizationID)
	}
	return res.Error
}

func (s *Store) SaveSchedule(ctx context.Context, sched *models.DividendSchedule) error {
	return s.conn(ctx).Save(sched).Error
}

func (s *Store) CreateRevenueEvent(ctx context.Context, e *models.RevenueEvent) error {
	return s.conn(ctx).Create(e).Error
}

// ListRevenue pages a property's revenue events, optionally by distribution status.
func (s *Store) ListRevenue(ctx context.Context, propertyID uint, status string, limit, offset int) ([]models.RevenueEvent, int64, error) {
	q := s.conn(ctx).Model(&models.RevenueEvent{}).Where("property_id = ?", propertyID)
	switch status {
	case "":
	case models.RevenuePending:
		q = q.Scopes(pendingStatus)
	default:
		q = q.Where("distribution_status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.RevenueEvent
	err := q.Order("event_date DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}
