package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
	"estatesettle/internal/treasury"
)

var _ treasury.Store = (*Store)(nil)

func (s *Store) CreateWithdrawal(ctx context.Context, w *models.TreasuryTransaction, build func(*models.TreasuryTransaction) []models.OutboxMessage) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(w).Error; err != nil {
			return fmt.Errorf("insert withdrawal: %w", err)
		}
		if build == nil {
			return nil
		}
		return insertOutbox(tx, build(w))
	})
}

func (s *Store) GetWithdrawal(ctx context.Context, id uint) (*models.TreasuryTransaction, error) {
	var w models.TreasuryTransaction
	if err := s.conn(ctx).First(&w, id).Error; err != nil {
		return nil, notFound(err, "withdrawal", id)
	}
	return &w, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.TreasuryTransaction, int64, error) {
	q := s.conn(ctx).Model(&models.TreasuryTransaction{}).Where("tokenization_id = ?", tokenizationID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.TreasuryTransaction
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Store) ListApprovals(ctx context.Context, withdrawalID uint) ([]models.TreasuryApproval, error) {
	var out []models.TreasuryApproval
	err := s.conn(ctx).Where("transaction_id = ?", withdrawalID).Order("id").Find(&out).Error
	return out, err
}

func (s *Store) AddApproval(ctx context.Context, a *models.TreasuryApproval, ready func(*models.TreasuryTransaction) []models.OutboxMessage) (*models.TreasuryTransaction, bool, error) {
	var w models.TreasuryTransaction
	added := false
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate()).First(&w, a.TransactionID).Error; err != nil {
			return notFound(err, "withdrawal", a.TransactionID)
		}
		if w.Status != models.WithdrawalPendingApproval {
			return errs.InvalidState("withdrawal %d is %s", w.ID, w.Status)
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transaction_id"}, {Name: "approver_id"}},
			DoNothing: true,
		}).Create(a)
		if res.Error != nil {
			return fmt.Errorf("insert approval: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		added = true
		if err := tx.Model(&w).Update("approvals_count", gorm.Expr("approvals_count + 1")).Error; err != nil {
			return err
		}
		w.ApprovalsCount++
		if ready == nil {
			return nil
		}
		return insertOutbox(tx, ready(&w))
	})
	if err != nil {
		return nil, false, err
	}
	return &w, added, nil
}

func (s *Store) ClaimExecution(ctx context.Context, id uint, key string, now, staleBefore time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.TreasuryTransaction{}).
		Where("id = ? AND status = ?", id, models.WithdrawalPendingApproval).
		Where("approvals_count >= (metadata->>'required_approvals')::int").
		Where("(executing_since IS NULL OR executing_since < ?)", staleBefore).
		Where("(execution_key IS NULL OR execution_key = '' OR execution_key = ?)", key).
		Updates(map[string]interface{}{"execution_key": key, "executing_since": now})
	return res.RowsAffected == 1, res.Error
}

func (s *Store) ReleaseExecution(ctx context.Context, id uint, rotate bool, validUntil uint64) error {
	updates := map[string]interface{}{"executing_since": nil, "execution_valid_until": validUntil}
	if rotate {
		updates["execution_key"] = ""
		updates["execution_valid_until"] = 0
	}
	return s.conn(ctx).Model(&models.TreasuryTransaction{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) SaveAttempt(ctx context.Context, a *models.ExecutionAttempt) error {
	if a.ID == 0 {
		return s.conn(ctx).Create(a).Error
	}
	return s.conn(ctx).Save(a).Error
}

func (s *Store) ListAttempts(ctx context.Context, withdrawalID uint) ([]models.ExecutionAttempt, error) {
	var out []models.ExecutionAttempt
	err := s.conn(ctx).Where("transaction_id = ?", withdrawalID).Order("id").Find(&out).Error
	return out, err
}

func (s *Store) CompleteWithdrawal(ctx context.Context, w *models.TreasuryTransaction, out []models.OutboxMessage) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TreasuryTransaction{}).
			Where("id = ? AND status = ?", w.ID, models.WithdrawalPendingApproval).
			Updates(map[string]interface{}{
				"status":              models.WithdrawalCompleted,
				"execution_reference": w.ExecutionReference,
				"executed_at":         w.ExecutedAt,
				"executing_since":     nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// already completed by a concurrent executor
			return nil
		}
		if w.ProposalID != nil {
			err := tx.Model(&models.GovernanceProposal{}).
				Where("id = ? AND status = ?", *w.ProposalID, models.ProposalApprovedPendingExecution).
				Updates(map[string]interface{}{"status": models.ProposalExecuted, "execution_ref": w.ExecutionReference}).Error
			if err != nil {
				return fmt.Errorf("mark proposal %d executed: %w", *w.ProposalID, err)
			}
		}
		return insertOutbox(tx, out)
	})
}

func (s *Store) CancelWithdrawal(ctx context.Context, id uint, actor string, out []models.OutboxMessage) (bool, error) {
	cancelled := false
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TreasuryTransaction{}).
			Where("id = ? AND status = ?", id, models.WithdrawalPendingApproval).
			Where("executing_since IS NULL AND (execution_key IS NULL OR execution_key = '')").
			Updates(map[string]interface{}{"status": models.WithdrawalCancelled, "cancelled_by": actor})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		cancelled = true
		return insertOutbox(tx, out)
	})
	return cancelled, err
}
