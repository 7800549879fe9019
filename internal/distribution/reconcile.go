package distribution

import (
	"context"
	"fmt"

	"estatesettle/internal/models"
	"estatesettle/internal/outbox"
)

// Drift describes a distribution whose stored status disagreed with its payments.
type Drift struct {
	DistributionID  uint   `json:"distribution_id"`
	StoredStatus    string `json:"stored_status"`
	ComputedStatus  string `json:"computed_status"`
	PendingPayments int    `json:"pending_payments"`
	FailedPayments  int    `json:"failed_payments"`
}

// ReconcileReport is what one reconciliation sweep healed or found.
type ReconcileReport struct {
	StaleLocksCleared int64   `json:"stale_locks_cleared"`
	EventsRequeued    int64   `json:"events_requeued"`
	Repaired          []Drift `json:"repaired"`
	Stuck             []Drift `json:"stuck"`
	Failed            []Drift `json:"failed"`
	PayoutsRequeued   int     `json:"payouts_requeued"`
}

// Reconcile clears stale locks, returns events stuck in processing to pending
// and repairs distributions whose aggregate status drifted from their payments.
// Distributions past the processing timeout with payments still pending or
// failed are reported, alerted on and get their payout message queued again.
func (e *Engine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	now := e.now()
	report := &ReconcileReport{}

	cleared, err := e.store.ClearStaleLocks(ctx, now.Add(-e.cfg.LockTimeout))
	if err != nil {
		return nil, fmt.Errorf("clear stale locks: %w", err)
	}
	report.StaleLocksCleared = cleared

	requeued, err := e.store.RequeueStuckRevenue(ctx, now.Add(-e.cfg.ProcessingTimeout))
	if err != nil {
		return nil, fmt.Errorf("requeue stuck revenue: %w", err)
	}
	report.EventsRequeued = requeued

	open, err := e.store.OpenDistributions(ctx, now.Add(-e.cfg.ProcessingTimeout))
	if err != nil {
		return nil, fmt.Errorf("load open distributions: %w", err)
	}
	for _, d := range open {
		status, completed, failed := AggregatePaymentStatus(d.Payments)
		drift := Drift{
			DistributionID:  d.ID,
			StoredStatus:    d.PaymentStatus,
			ComputedStatus:  status,
			PendingPayments: len(d.Payments) - completed - failed,
			FailedPayments:  failed,
		}
		if status != d.PaymentStatus || completed != d.PaymentsCompleted || failed != d.PaymentsFailed {
			if _, err := e.store.RefreshDistributionStatus(ctx, d.ID); err != nil {
				return report, fmt.Errorf("repair distribution %d: %w", d.ID, err)
			}
			report.Repaired = append(report.Repaired, drift)
			e.record(ctx, d.TokenizationID, models.LevelWarn, "distribution status repaired", nil, map[string]interface{}{
				"distribution_id": d.ID, "stored": d.PaymentStatus, "computed": status,
			})
		}
		if drift.PendingPayments > 0 {
			report.Stuck = append(report.Stuck, drift)
		}
		if drift.FailedPayments > 0 {
			report.Failed = append(report.Failed, drift)
		}
		if drift.PendingPayments == 0 && drift.FailedPayments == 0 {
			continue
		}
		queued, err := e.store.EnqueuePayout(ctx, outbox.Payout(d.ID), now)
		if err != nil {
			return report, fmt.Errorf("requeue payout of distribution %d: %w", d.ID, err)
		}
		if queued {
			report.PayoutsRequeued++
		}
	}

	e.alert(ctx, "Distributions with payments pending past timeout", report.Stuck, func(d Drift) string {
		return fmt.Sprintf("%d payments pending", d.PendingPayments)
	})
	e.alert(ctx, "Distributions with failed payments", report.Failed, func(d Drift) string {
		return fmt.Sprintf("%d payments failed", d.FailedPayments)
	})

	if report.StaleLocksCleared > 0 || report.EventsRequeued > 0 || len(report.Repaired) > 0 || report.PayoutsRequeued > 0 {
		e.log.Infof("> reconcile: locks=%d events=%d repaired=%d stuck=%d failed=%d payouts=%d",
			report.StaleLocksCleared, report.EventsRequeued, len(report.Repaired), len(report.Stuck), len(report.Failed), report.PayoutsRequeued)
	}
	return report, nil
}

func (e *Engine) alert(ctx context.Context, title string, drifts []Drift, describe func(Drift) string) {
	if len(drifts) == 0 || e.alerts == nil {
		return
	}
	fields := map[string]string{"distributions": fmt.Sprint(len(drifts))}
	for _, d := range drifts {
		fields[fmt.Sprintf("distribution %d", d.DistributionID)] = describe(d)
	}
	if err := e.alerts.Alert(ctx, title, fields); err != nil {
		e.log.WithError(err).Warn("> send reconciliation alert")
	}
}
