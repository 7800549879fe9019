package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estatesettle/internal/distribution"
	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

var _ distribution.Store = (*Store)(nil)

func (s *Store) GetSchedule(ctx context.Context, tokenizationID uint) (*models.DividendSchedule, error) {
	var sched models.DividendSchedule
	if err := s.conn(ctx).Where("tokenization_id = ?", tokenizationID).First(&sched).Error; err != nil {
		return nil, notFound(err, "schedule for tokenization", tokenizationID)
	}
	return &sched, nil
}

func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]models.DividendSchedule, error) {
	var out []models.DividendSchedule
	err := s.conn(ctx).
		Where("auto_distribute = ? AND next_distribution_date <= ?", true, now).
		Order("next_distribution_date, id").
		Find(&out).Error
	return out, err
}

func (s *Store) LastDistributionAt(ctx context.Context, tokenizationID uint) (*time.Time, error) {
	var d models.DividendDistribution
	err := s.conn(ctx).Select("id", "created_at").
		Where("tokenization_id = ?", tokenizationID).
		Order("created_at DESC").Limit(1).Find(&d).Error
	if err != nil || d.ID == 0 {
		return nil, err
	}
	return &d.CreatedAt, nil
}

func (s *Store) AcquireLock(ctx context.Context, tokenizationID uint, owner string, now, staleBefore time.Time) (bool, error) {
	res := s.conn(ctx).Exec(`INSERT INTO distribution_locks (tokenization_id, owner, locked_at) VALUES (?, ?, ?)
ON CONFLICT (tokenization_id) DO UPDATE SET owner = EXCLUDED.owner, locked_at = EXCLUDED.locked_at
WHERE distribution_locks.locked_at < ?`, tokenizationID, owner, now, staleBefore)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) ReleaseLock(ctx context.Context, tokenizationID uint, owner string) error {
	return s.conn(ctx).
		Where("tokenization_id = ? AND owner = ?", tokenizationID, owner).
		Delete(&models.DistributionLock{}).Error
}

func (s *Store) ClearStaleLocks(ctx context.Context, staleBefore time.Time) (int64, error) {
	res := s.conn(ctx).Where("locked_at < ?", staleBefore).Delete(&models.DistributionLock{})
	return res.RowsAffected, res.Error
}

func pendingStatus(db *gorm.DB) *gorm.DB {
	return db.Where("(distribution_status IS NULL OR distribution_status = ?)", models.RevenuePending)
}

func (s *Store) PendingRevenue(ctx context.Context, propertyID uint, through time.Time) ([]models.RevenueEvent, error) {
	var out []models.RevenueEvent
	err := s.conn(ctx).Scopes(pendingStatus).
		Where("property_id = ? AND event_date <= ?", propertyID, through).
		Order("event_date, id").
		Find(&out).Error
	return out, err
}

func (s *Store) ClaimRevenue(ctx context.Context, ids []uint, now time.Time) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var claimed []uint
	err := s.conn(ctx).Raw(`UPDATE revenue_events SET distribution_status = ?, processing_at = ?, updated_at = ?
WHERE id IN ? AND (distribution_status IS NULL OR distribution_status = ?)
RETURNING id`, models.RevenueProcessing, now, now, ids, models.RevenuePending).Scan(&claimed).Error
	return claimed, err
}

func (s *Store) ReleaseRevenue(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.conn(ctx).Model(&models.RevenueEvent{}).
		Where("id IN ? AND distribution_status = ?", ids, models.RevenueProcessing).
		Updates(map[string]interface{}{"distribution_status": models.RevenuePending, "processing_at": nil}).Error
}

func (s *Store) RequeueStuckRevenue(ctx context.Context, staleBefore time.Time) (int64, error) {
	res := s.conn(ctx).Model(&models.RevenueEvent{}).
		Where("distribution_status = ? AND processing_at < ?", models.RevenueProcessing, staleBefore).
		Updates(map[string]interface{}{"distribution_status": models.RevenuePending, "processing_at": nil})
	return res.RowsAffected, res.Error
}

func (s *Store) CommitDistribution(ctx context.Context, c *distribution.Commit) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		d := c.Distribution
		if err := tx.Create(d).Error; err != nil {
			return fmt.Errorf("insert distribution: %w", err)
		}
		if len(c.EventIDs) > 0 {
			res := tx.Model(&models.RevenueEvent{}).
				Where("id IN ? AND distribution_status = ?", c.EventIDs, models.RevenueProcessing).
				Updates(map[string]interface{}{
					"distribution_status": models.RevenueDistributed,
					"distribution_id":     d.ID,
					"processing_at":       nil,
				})
			if res.Error != nil {
				return fmt.Errorf("mark events distributed: %w", res.Error)
			}
			if res.RowsAffected != int64(len(c.EventIDs)) {
				return fmt.Errorf("claimed %d events but only %d still processing", len(c.EventIDs), res.RowsAffected)
			}
		}
		if err := advance(tx, c.ScheduleID, c.LastDate, c.NextDate); err != nil {
			return err
		}
		if c.Outbox != nil {
			if err := insertOutbox(tx, c.Outbox(d)); err != nil {
				return fmt.Errorf("insert outbox: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) AdvanceSchedule(ctx context.Context, scheduleID uint, last, next time.Time) error {
	return advance(s.conn(ctx), scheduleID, last, next)
}

func advance(db *gorm.DB, scheduleID uint, last, next time.Time) error {
	err := db.Model(&models.DividendSchedule{}).Where("id = ?", scheduleID).
		Updates(map[string]interface{}{"last_distribution_date": last, "next_distribution_date": next}).Error
	if err != nil {
		return fmt.Errorf("advance schedule %d: %w", scheduleID, err)
	}
	return nil
}

func withPayments(db *gorm.DB) *gorm.DB {
	return db.Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("holder_id") })
}

func (s *Store) GetDistribution(ctx context.Context, id uint) (*models.DividendDistribution, error) {
	var d models.DividendDistribution
	if err := s.conn(ctx).Scopes(withPayments).First(&d, id).Error; err != nil {
		return nil, notFound(err, "distribution", id)
	}
	return &d, nil
}

func (s *Store) ListDistributions(ctx context.Context, tokenizationID uint, limit, offset int) ([]models.DividendDistribution, int64, error) {
	q := s.conn(ctx).Model(&models.DividendDistribution{}).Where("tokenization_id = ?", tokenizationID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.DividendDistribution
	err := q.Order("period_end DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Store) OpenDistributions(ctx context.Context, before time.Time) ([]models.DividendDistribution, error) {
	var out []models.DividendDistribution
	err := s.conn(ctx).Scopes(withPayments).
		Where("payment_status IN ? AND created_at < ?", []string{models.PaymentPending, models.PaymentPartiallyFailed, models.PaymentFailed}, before).
		Order("id").
		Find(&out).Error
	return out, err
}

// ClaimPayments takes pending payments first, then failed and stale
// processing ones least recently touched, skipping rows another claim has locked.
func (s *Store) ClaimPayments(ctx context.Context, distributionID uint, owner string, now, staleBefore time.Time, limit int) ([]models.DividendPayment, error) {
	var claimed []models.DividendPayment
	err := s.conn(ctx).Raw(`UPDATE dividend_payments SET status = ?, claimed_by = ?, claimed_at = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM dividend_payments
	WHERE distribution_id = ? AND (status IN ? OR (status = ? AND claimed_at < ?))
	ORDER BY (status = ?) DESC, updated_at, id
	LIMIT ?
	FOR UPDATE SKIP LOCKED
)
RETURNING *`, models.PaymentProcessing, owner, now, now,
		distributionID, []string{models.PaymentPending, models.PaymentFailed}, models.PaymentProcessing, staleBefore,
		models.PaymentPending, limit).Scan(&claimed).Error
	return claimed, err
}

func (s *Store) FinishPayment(ctx context.Context, p *models.DividendPayment, owner string) error {
	res := s.conn(ctx).Model(&models.DividendPayment{}).
		Where("id = ? AND status = ? AND claimed_by = ?", p.ID, models.PaymentProcessing, owner).
		Updates(map[string]interface{}{
			"status":      p.Status,
			"reference":   p.Reference,
			"error":       p.Error,
			"valid_until": p.ValidUntil,
			"claimed_by":  "",
			"claimed_at":  nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.InvalidState("payment %d is no longer claimed by %s", p.ID, owner)
	}
	return nil
}

func (s *Store) EnqueuePayout(ctx context.Context, m models.OutboxMessage, now time.Time) (bool, error) {
	m.NextAttemptAt = now
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":          models.OutboxPending,
			"attempts":        0,
			"next_attempt_at": now,
			"last_error":      "",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Neq{Column: clause.Column{Table: "outbox_messages", Name: "status"}, Value: models.OutboxPending},
		}},
	}).Create(&m)
	return res.RowsAffected == 1, res.Error
}

// RefreshDistributionStatus recomputes the aggregate under the distribution's
// row lock so concurrent settlement passes apply in commit order.
func (s *Store) RefreshDistributionStatus(ctx context.Context, id uint) (*models.DividendDistribution, error) {
	var d models.DividendDistribution
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate()).First(&d, id).Error; err != nil {
			return notFound(err, "distribution", id)
		}
		if err := tx.Where("distribution_id = ?", id).Order("holder_id").Find(&d.Payments).Error; err != nil {
			return err
		}
		status, completed, failed := distribution.AggregatePaymentStatus(d.Payments)
		d.PaymentStatus, d.PaymentsCompleted, d.PaymentsFailed = status, completed, failed
		return tx.Model(&models.DividendDistribution{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"payment_status":     status,
				"payments_completed": completed,
				"payments_failed":    failed,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}
