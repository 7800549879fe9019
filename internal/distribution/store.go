package distribution

import (
	"context"
	"time"

	"estatesettle/internal/models"
)

// Store is the persistence the distribution pipeline needs. The gorm
// implementation lives in internal/store.
type Store interface {
	GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error)
	GetSchedule(ctx context.Context, tokenizationID uint) (*models.DividendSchedule, error)
	DueSchedules(ctx context.Context, now time.Time) ([]models.DividendSchedule, error)
	LastDistributionAt(ctx context.Context, tokenizationID uint) (*time.Time, error)

	// AcquireLock inserts the lock row without blocking. A row older than
	// staleBefore is reclaimed. It reports false when another owner holds it.
	AcquireLock(ctx context.Context, tokenizationID uint, owner string, now, staleBefore time.Time) (bool, error)
	ReleaseLock(ctx context.Context, tokenizationID uint, owner string) error
	ClearStaleLocks(ctx context.Context, staleBefore time.Time) (int64, error)

	// PendingRevenue returns pending events for the property dated at or before through.
	PendingRevenue(ctx context.Context, propertyID uint, through time.Time) ([]models.RevenueEvent, error)
	// ClaimRevenue moves pending events to processing and returns the ids it moved.
	ClaimRevenue(ctx context.Context, ids []uint, now time.Time) ([]uint, error)
	ReleaseRevenue(ctx context.Context, ids []uint) error
	RequeueStuckRevenue(ctx context.Context, staleBefore time.Time) (int64, error)

	Holdings(ctx context.Context, tokenizationID uint) ([]models.TokenHolding, error)

	// CommitDistribution writes the distribution, its payments, the event
	// status change, the schedule advance and the outbox rows in one transaction.
	CommitDistribution(ctx context.Context, c *Commit) error
	AdvanceSchedule(ctx context.Context, scheduleID uint, last, next time.Time) error

	GetDistribution(ctx context.Context, id uint) (*models.DividendDistribution, error)
	ListDistributions(ctx context.Context, tokenizationID uint, limit, offset int) ([]models.DividendDistribution, int64, error)
	// OpenDistributions returns distributions not yet completed that were created before cutoff, with payments.
	OpenDistributions(ctx context.Context, before time.Time) ([]models.DividendDistribution, error)

	// ClaimPayments moves up to limit of the distribution's pending or failed
	// payments, and processing ones claimed before staleBefore, to processing
	// under owner and returns them. A payment is claimed by one owner at a time.
	ClaimPayments(ctx context.Context, distributionID uint, owner string, now, staleBefore time.Time, limit int) ([]models.DividendPayment, error)
	// FinishPayment writes the outcome of a claimed payment and drops the
	// claim. It fails when owner no longer holds the claim.
	FinishPayment(ctx context.Context, p *models.DividendPayment, owner string) error
	// RefreshDistributionStatus recomputes and stores the distribution's
	// aggregate payment status from its payments and returns it with them.
	RefreshDistributionStatus(ctx context.Context, id uint) (*models.DividendDistribution, error)
	// EnqueuePayout inserts the payout message, or puts an existing sent or
	// dead one with the same key back in the queue. It reports whether a row
	// was queued.
	EnqueuePayout(ctx context.Context, m models.OutboxMessage, now time.Time) (bool, error)
}

// Commit is everything a successful run persists atomically.
type Commit struct {
	Distribution *models.DividendDistribution
	EventIDs     []uint
	ScheduleID   uint
	LastDate     time.Time
	NextDate     time.Time
	// Outbox builds the side effects once the distribution has an id.
	Outbox func(d *models.DividendDistribution) []models.OutboxMessage
}

// AuditLog records operator-facing entries in system_logs.
type AuditLog interface {
	Record(ctx context.Context, entry *models.SystemLog) error
}

// Alerter pages operators.
type Alerter interface {
	Alert(ctx context.Context, title string, fields map[string]string) error
}
