package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estatesettle/internal/models"
	"estatesettle/internal/relay"
)

var (
	_ relay.Store             = (*Store)(nil)
	_ relay.ReceiptStore      = (*Store)(nil)
	_ relay.NotificationStore = (*Store)(nil)
)

// ClaimDue locks due rows with SKIP LOCKED and pushes their next attempt out
// by lease, so a crashed relay's messages come back after the lease.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxMessage, error) {
	var msgs []models.OutboxMessage
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", models.OutboxPending, now).
			Order("next_attempt_at, id").
			Limit(limit).
			Find(&msgs).Error
		if err != nil || len(msgs) == 0 {
			return err
		}
		ids := make([]uint, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		return tx.Model(&models.OutboxMessage{}).Where("id IN ?", ids).
			Update("next_attempt_at", now.Add(lease)).Error
	})
	return msgs, err
}

func (s *Store) MarkSent(ctx context.Context, id uint, at time.Time) error {
	return s.conn(ctx).Model(&models.OutboxMessage{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.OutboxSent, "sent_at": at, "last_error": ""}).Error
}

func (s *Store) MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error {
	return s.conn(ctx).Model(&models.OutboxMessage{}).Where("id = ?", id).
		Updates(map[string]interface{}{"attempts": attempts, "next_attempt_at": next, "last_error": lastErr}).Error
}

func (s *Store) MarkDead(ctx context.Context, id uint, attempts int, lastErr string) error {
	return s.conn(ctx).Model(&models.OutboxMessage{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.OutboxDead, "attempts": attempts, "last_error": lastErr}).Error
}

// RequeueDead puts a dead message back in the queue with a fresh attempt budget.
func (s *Store) RequeueDead(ctx context.Context, id uint, now time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.OutboxMessage{}).Where("id = ? AND status = ?", id, models.OutboxDead).
		Updates(map[string]interface{}{"status": models.OutboxPending, "attempts": 0, "next_attempt_at": now})
	return res.RowsAffected == 1, res.Error
}

// ListOutbox pages outbox rows, optionally by status.
func (s *Store) ListOutbox(ctx context.Context, status string, limit, offset int) ([]models.OutboxMessage, int64, error) {
	q := s.conn(ctx).Model(&models.OutboxMessage{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.OutboxMessage
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Store) ReceiptByKey(ctx context.Context, key string) (*models.NotarizationReceipt, error) {
	var r models.NotarizationReceipt
	if err := s.conn(ctx).Where("outbox_key = ?", key).First(&r).Error; err != nil {
		return nil, notFound(err, "receipt", key)
	}
	return &r, nil
}

func (s *Store) SaveReceipt(ctx context.Context, r *models.NotarizationReceipt) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_key"}},
		DoNothing: true,
	}).Create(r).Error
}

// Receipts lists the notarization receipts of one subject.
func (s *Store) Receipts(ctx context.Context, subjectType string, subjectID uint) ([]models.NotarizationReceipt, error) {
	var out []models.NotarizationReceipt
	err := s.conn(ctx).Where("subject_type = ? AND subject_id = ?", subjectType, subjectID).Order("id").Find(&out).Error
	return out, err
}

func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(n)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]models.Notification, int64, error) {
	q := s.conn(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.Notification
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// MarkNotificationRead reports false when the notification is not the user's.
func (s *Store) MarkNotificationRead(ctx context.Context, userID string, id uint) (bool, error) {
	res := s.conn(ctx).Model(&models.Notification{}).Where("id = ? AND user_id = ?", id, userID).Update("read", true)
	return res.RowsAffected == 1, res.Error
}
