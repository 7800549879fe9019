package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
	"estatesettle/internal/outbox"
)

// Run outcomes reported per schedule.
const (
	OutcomeDistributed = "distributed"
	OutcomeNoRevenue   = "no_revenue"
	OutcomeNotDue      = "not_due"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
)

// Config bounds the pipeline's timing behaviour.
type Config struct {
	LockTimeout       time.Duration
	ProcessingTimeout time.Duration
	ManualCooldown    time.Duration
	RunTimeout        time.Duration
	// PayoutBatch caps the payments one settlement pass claims.
	PayoutBatch       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LockTimeout:       10 * time.Minute,
		ProcessingTimeout: 30 * time.Minute,
		ManualCooldown:    5 * time.Minute,
		RunTimeout:        2 * time.Minute,
		PayoutBatch:       5,
	}
}

// RunResult is the outcome of one schedule in a trigger.
type RunResult struct {
	TokenizationID uint   `json:"tokenization_id"`
	Outcome        string `json:"outcome"`
	DistributionID uint   `json:"distribution_id,omitempty"`
	Error          string `json:"error,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Guidance       string `json:"guidance,omitempty"`
}

// TriggerResult summarises a manual or scheduled trigger.
type TriggerResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Results   []RunResult `json:"results"`
}

func (r *TriggerResult) add(res RunResult) {
	r.Processed++
	switch res.Outcome {
	case OutcomeDistributed, OutcomeNoRevenue:
		r.Succeeded++
	case OutcomeSkipped, OutcomeNotDue:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Engine runs the revenue → fee → pro-rata → persist pipeline per tokenization.
type Engine struct {
	store    Store
	cfg      Config
	cooldown CooldownGuard
	audit    AuditLog
	alerts   Alerter
	payer    Payer
	now      func() time.Time
	log      *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func WithCooldownGuard(g CooldownGuard) Option { return func(e *Engine) { e.cooldown = g } }

func WithAuditLog(a AuditLog) Option { return func(e *Engine) { e.audit = a } }

func WithAlerter(a Alerter) Option { return func(e *Engine) { e.alerts = a } }

func WithPayer(p Payer) Option { return func(e *Engine) { e.payer = p } }

func WithLogger(l *logrus.Entry) Option { return func(e *Engine) { e.log = l } }

func NewEngine(store Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		log:   logrus.WithField("module", "distribution"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TriggerDistribution runs one tokenization now, ahead of its schedule if
// needed. The manual cooldown applies. The run's error is returned as well as
// recorded in the result.
func (e *Engine) TriggerDistribution(ctx context.Context, tokenizationID uint) (*TriggerResult, error) {
	sched, err := e.store.GetSchedule(ctx, tokenizationID)
	if err != nil {
		return nil, err
	}
	res, runErr := e.run(ctx, sched, true)
	result := &TriggerResult{}
	result.add(res)
	return result, runErr
}

// TriggerDueDistributions runs every auto-distributing schedule whose next date
// has passed. Per-schedule failures are reported in the result and the audit
// log, never returned.
func (e *Engine) TriggerDueDistributions(ctx context.Context) (*TriggerResult, error) {
	due, err := e.store.DueSchedules(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("load due schedules: %w", err)
	}
	result := &TriggerResult{Results: make([]RunResult, 0, len(due))}
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		res, runErr := e.run(ctx, &due[i], false)
		if runErr != nil && res.Outcome == OutcomeFailed {
			e.record(ctx, due[i].TokenizationID, models.LevelError, "scheduled distribution failed", runErr, nil)
		}
		result.add(res)
	}
	e.log.Infof("> due distributions: processed=%d succeeded=%d failed=%d skipped=%d",
		result.Processed, result.Succeeded, result.Failed, result.Skipped)
	return result, nil
}

func (e *Engine) run(ctx context.Context, sched *models.DividendSchedule, manual bool) (RunResult, error) {
	res := RunResult{TokenizationID: sched.TokenizationID}
	fail := func(outcome string, err error) (RunResult, error) {
		res.Outcome = outcome
		res.Error = err.Error()
		res.ErrorKind = string(errs.KindOf(err))
		res.Guidance = errs.GuidanceOf(err)
		return res, err
	}

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	now := e.now()
	if manual {
		if err := e.checkCooldown(ctx, sched.TokenizationID, now); err != nil {
			return fail(OutcomeSkipped, err)
		}
	}

	owner := uuid.NewString()
	ok, err := e.store.AcquireLock(ctx, sched.TokenizationID, owner, now, now.Add(-e.cfg.LockTimeout))
	if err != nil {
		return fail(OutcomeFailed, fmt.Errorf("acquire lock: %w", err))
	}
	if !ok {
		return fail(OutcomeSkipped, errs.LockContention(sched.TokenizationID))
	}
	defer func() {
		// the run context may already be done
		if err := e.store.ReleaseLock(context.Background(), sched.TokenizationID, owner); err != nil {
			e.log.WithError(err).Errorf("> release lock for tokenization %d", sched.TokenizationID)
		}
	}()

	id, outcome, err := e.distribute(ctx, sched.TokenizationID, manual)
	if err != nil {
		return fail(OutcomeFailed, err)
	}
	res.Outcome = outcome
	res.DistributionID = id
	return res, nil
}

// distribute runs under the lock. It re-reads the schedule so a run that lost
// a race to a completed one sees the advanced cursor.
func (e *Engine) distribute(ctx context.Context, tokenizationID uint, manual bool) (uint, string, error) {
	now := e.now()
	sched, err := e.store.GetSchedule(ctx, tokenizationID)
	if err != nil {
		return 0, "", err
	}
	if !manual && sched.NextDistributionDate.After(now) {
		return 0, OutcomeNotDue, nil
	}
	tok, err := e.store.GetTokenization(ctx, tokenizationID)
	if err != nil {
		return 0, "", err
	}

	periodStart := tok.MintedAt
	if sched.LastDistributionDate != nil {
		periodStart = *sched.LastDistributionDate
	}
	periodEnd := sched.NextDistributionDate
	if periodEnd.After(now) {
		periodEnd = now
	}
	nextDate, err := AddPeriod(periodEnd, sched.Frequency)
	if err != nil {
		return 0, "", err
	}

	events, err := e.store.PendingRevenue(ctx, tok.PropertyID, periodEnd)
	if err != nil {
		return 0, "", fmt.Errorf("load pending revenue: %w", err)
	}
	if len(events) == 0 {
		if sched.NextDistributionDate.After(now) {
			// early manual run with nothing to pay keeps the cadence
			return 0, OutcomeNoRevenue, nil
		}
		if err := e.store.AdvanceSchedule(ctx, sched.ID, periodEnd, nextDate); err != nil {
			return 0, "", fmt.Errorf("advance schedule: %w", err)
		}
		e.log.Infof("> tokenization %d: no revenue for %s, next run %s", tokenizationID,
			PeriodLabel(periodStart, sched.Frequency), nextDate.Format(time.RFC3339))
		return 0, OutcomeNoRevenue, nil
	}

	ids := make([]uint, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	claimed, err := e.store.ClaimRevenue(ctx, ids, now)
	if err != nil {
		return 0, "", fmt.Errorf("claim revenue: %w", err)
	}
	if len(claimed) == 0 {
		return 0, OutcomeNotDue, nil
	}
	release := func() {
		if err := e.store.ReleaseRevenue(context.Background(), claimed); err != nil {
			e.log.WithError(err).Errorf("> release %d revenue events for tokenization %d", len(claimed), tokenizationID)
		}
	}

	gross := decimal.Zero
	isClaimed := make(map[uint]bool, len(claimed))
	for _, id := range claimed {
		isClaimed[id] = true
	}
	for _, ev := range events {
		if isClaimed[ev.ID] {
			gross = gross.Add(ev.GrossAmount)
		}
	}

	holdings, err := e.store.Holdings(ctx, tokenizationID)
	if err != nil {
		release()
		return 0, "", fmt.Errorf("load holdings: %w", err)
	}
	platformPct, managementPct := tok.FeePcts()
	fees, err := CalculateFees(gross, platformPct, managementPct, tok.Decimals())
	if err != nil {
		release()
		return 0, "", err
	}
	comp, err := ComputePayments(tokenizationID, fees.Net, holdings, tok.Decimals())
	if err != nil {
		release()
		if errors.Is(err, errs.ErrNoHolders) {
			e.handleNoHolders(ctx, sched, periodEnd, nextDate, gross, err)
		}
		return 0, "", err
	}
	if err := ctx.Err(); err != nil {
		release()
		return 0, "", fmt.Errorf("distribution for tokenization %d aborted: %w", tokenizationID, err)
	}

	dist := buildDistribution(tok, sched, periodStart, periodEnd, fees, comp)
	commit := &Commit{
		Distribution: dist,
		EventIDs:     claimed,
		ScheduleID:   sched.ID,
		LastDate:     periodEnd,
		NextDate:     nextDate,
		Outbox:       func(d *models.DividendDistribution) []models.OutboxMessage { return distributionOutbox(tok, d) },
	}
	if err := e.store.CommitDistribution(ctx, commit); err != nil {
		release()
		return 0, "", fmt.Errorf("commit distribution: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"tokenization_id": tokenizationID,
		"distribution_id": dist.ID,
		"gross":           fees.Gross.String(),
		"net":             fees.Net.String(),
		"recipients":      dist.RecipientCount,
	}).Info("> distribution committed")
	return dist.ID, OutcomeDistributed, nil
}

// handleNoHolders keeps the revenue pending for a later run but still moves
// the cursor so the scheduler does not spin on the same period.
func (e *Engine) handleNoHolders(ctx context.Context, sched *models.DividendSchedule, last, next time.Time, gross decimal.Decimal, cause error) {
	if err := e.store.AdvanceSchedule(ctx, sched.ID, last, next); err != nil {
		e.log.WithError(err).Errorf("> advance schedule %d after no-holders abort", sched.ID)
	}
	meta := map[string]interface{}{"gross": gross.String(), "next_distribution_date": next.Format(time.RFC3339)}
	e.record(ctx, sched.TokenizationID, models.LevelWarn, "distribution aborted: no token holders", cause, meta)
	if e.alerts != nil {
		fields := map[string]string{
			"tokenization": fmt.Sprint(sched.TokenizationID),
			"gross":        gross.String(),
			"guidance":     errs.GuidanceOf(cause),
		}
		if err := e.alerts.Alert(ctx, "Distribution aborted: no token holders", fields); err != nil {
			e.log.WithError(err).Warn("> send no-holders alert")
		}
	}
}

func (e *Engine) record(ctx context.Context, tokenizationID uint, level, msg string, cause error, meta map[string]interface{}) {
	if e.audit == nil {
		return
	}
	entry := &models.SystemLog{
		TokenizationID: tokenizationID,
		Level:          level,
		Message:        msg,
		Module:         "distribution",
		Meta:           models.JSONMap{},
	}
	if cause != nil {
		entry.ErrorKind = string(errs.KindOf(cause))
		entry.Meta["error"] = cause.Error()
		if g := errs.GuidanceOf(cause); g != "" {
			entry.Meta["guidance"] = g
		}
	}
	for k, v := range meta {
		entry.Meta[k] = v
	}
	if err := e.audit.Record(context.Background(), entry); err != nil {
		e.log.WithError(err).Error("> write system log")
	}
}

func buildDistribution(tok *models.Tokenization, sched *models.DividendSchedule, start, end time.Time, fees FeeBreakdown, comp *Computation) *models.DividendDistribution {
	payments := make([]models.DividendPayment, len(comp.Allocations))
	for i, a := range comp.Allocations {
		payments[i] = models.DividendPayment{
			HolderID:      a.HolderID,
			WalletAddress: a.WalletAddress,
			TokensHeld:    a.Tokens,
			Amount:        a.Amount,
			Status:        models.PaymentPending,
		}
	}
	return &models.DividendDistribution{
		TokenizationID:   tok.ID,
		ScheduleID:       sched.ID,
		PeriodLabel:      PeriodLabel(start, sched.Frequency),
		PeriodStart:      start,
		PeriodEnd:        end,
		GrossAmount:      fees.Gross,
		PlatformFeePct:   fees.PlatformFeePct,
		ManagementFeePct: fees.ManagementFeePct,
		PlatformFee:      fees.PlatformFee,
		ManagementFee:    fees.ManagementFee,
		NetAmount:        fees.Net,
		PerTokenAmount:   comp.PerToken,
		ResidualAmount:   comp.Residual,
		TotalTokens:      comp.TotalTokens,
		RecipientCount:   len(payments),
		PaymentStatus:    models.PaymentPending,
		Payments:         payments,
	}
}

func distributionOutbox(tok *models.Tokenization, d *models.DividendDistribution) []models.OutboxMessage {
	msgs := make([]models.OutboxMessage, 0, len(d.Payments)+2)
	msgs = append(msgs, outbox.Notarize(outbox.SubjectDistribution, d.ID, tok.LedgerTopicID, "distributed", map[string]interface{}{
		"tokenization_id": tok.ID,
		"period":          d.PeriodLabel,
		"gross":           d.GrossAmount.String(),
		"net":             d.NetAmount.String(),
		"recipients":      d.RecipientCount,
	}))
	for _, p := range d.Payments {
		body := fmt.Sprintf("You receive %s from %s for %s.", p.Amount.String(), tok.Name, d.PeriodLabel)
		msgs = append(msgs, outbox.Notify(p.HolderID, "dividend", "Dividend distributed", body, outbox.SubjectDistribution, d.ID))
	}
	msgs = append(msgs, outbox.Payout(d.ID))
	return msgs
}
