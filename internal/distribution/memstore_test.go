package distribution

import (
	"context"
	"sort"
	"sync"
	"time"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory Store with the same claim and lock semantics as
// the postgres implementation.
type memStore struct {
	mu            sync.Mutex
	clock         *fakeClock
	nextID        uint
	tokenizations map[uint]models.Tokenization
	schedules     map[uint]models.DividendSchedule
	locks         map[uint]models.DistributionLock
	events        map[uint]models.RevenueEvent
	holdings      []models.TokenHolding
	distributions []models.DividendDistribution
	outbox        []models.OutboxMessage
	commitErr     error
}

func newMemStore(clock *fakeClock) *memStore {
	return &memStore{
		clock:         clock,
		nextID:        100,
		tokenizations: map[uint]models.Tokenization{},
		schedules:     map[uint]models.DividendSchedule{},
		locks:         map[uint]models.DistributionLock{},
		events:        map[uint]models.RevenueEvent{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) addEvent(propertyID uint, amount string, date time.Time) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.events[id] = models.RevenueEvent{ID: id, PropertyID: propertyID, EventType: models.RevenueTypeRent, GrossAmount: dec(amount), EventDate: date}
	return id
}

func (m *memStore) event(id uint) models.RevenueEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id]
}

func (m *memStore) schedule(tokenizationID uint) models.DividendSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedules[tokenizationID]
}

func (m *memStore) distributionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.distributions)
}

func (m *memStore) GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokenizations[id]
	if !ok {
		return nil, errs.NotFound("tokenization", id)
	}
	return &t, nil
}

func (m *memStore) GetSchedule(ctx context.Context, tokenizationID uint) (*models.DividendSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[tokenizationID]
	if !ok {
		return nil, errs.NotFound("schedule for tokenization", tokenizationID)
	}
	return &s, nil
}

func (m *memStore) DueSchedules(ctx context.Context, now time.Time) ([]models.DividendSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DividendSchedule
	for _, s := range m.schedules {
		if s.AutoDistribute && !s.NextDistributionDate.After(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) LastDistributionAt(ctx context.Context, tokenizationID uint) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last *time.Time
	for _, d := range m.distributions {
		if d.TokenizationID == tokenizationID && (last == nil || d.CreatedAt.After(*last)) {
			at := d.CreatedAt
			last = &at
		}
	}
	return last, nil
}

func (m *memStore) AcquireLock(ctx context.Context, tokenizationID uint, owner string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[tokenizationID]; ok && !l.LockedAt.Before(staleBefore) {
		return false, nil
	}
	m.locks[tokenizationID] = models.DistributionLock{TokenizationID: tokenizationID, Owner: owner, LockedAt: now}
	return true, nil
}

func (m *memStore) ReleaseLock(ctx context.Context, tokenizationID uint, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[tokenizationID]; ok && l.Owner == owner {
		delete(m.locks, tokenizationID)
	}
	return nil
}

func (m *memStore) ClearStaleLocks(ctx context.Context, staleBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, l := range m.locks {
		if l.LockedAt.Before(staleBefore) {
			delete(m.locks, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) PendingRevenue(ctx context.Context, propertyID uint, through time.Time) ([]models.RevenueEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RevenueEvent
	for _, e := range m.events {
		if e.PropertyID == propertyID && e.Status() == models.RevenuePending && !e.EventDate.After(through) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ClaimRevenue(ctx context.Context, ids []uint, now time.Time) ([]uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var claimed []uint
	for _, id := range ids {
		e, ok := m.events[id]
		if !ok || e.Status() != models.RevenuePending {
			continue
		}
		status, at := models.RevenueProcessing, now
		e.DistributionStatus, e.ProcessingAt = &status, &at
		m.events[id] = e
		claimed = append(claimed, id)
	}
	return claimed, nil
}

func (m *memStore) ReleaseRevenue(ctx context.Context, ids []uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e := m.events[id]
		if e.Status() == models.RevenueProcessing {
			status := models.RevenuePending
			e.DistributionStatus, e.ProcessingAt = &status, nil
			m.events[id] = e
		}
	}
	return nil
}

func (m *memStore) RequeueStuckRevenue(ctx context.Context, staleBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.events {
		if e.Status() == models.RevenueProcessing && e.ProcessingAt != nil && e.ProcessingAt.Before(staleBefore) {
			status := models.RevenuePending
			e.DistributionStatus, e.ProcessingAt = &status, nil
			m.events[id] = e
			n++
		}
	}
	return n, nil
}

func (m *memStore) Holdings(ctx context.Context, tokenizationID uint) ([]models.TokenHolding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TokenHolding
	for _, h := range m.holdings {
		if h.TokenizationID == tokenizationID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) CommitDistribution(ctx context.Context, c *Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	d := c.Distribution
	d.ID = m.id()
	d.CreatedAt = m.clock.Now()
	for i := range d.Payments {
		d.Payments[i].ID = m.id()
		d.Payments[i].DistributionID = d.ID
	}
	for _, id := range c.EventIDs {
		e := m.events[id]
		status, did := models.RevenueDistributed, d.ID
		e.DistributionStatus, e.DistributionID = &status, &did
		m.events[id] = e
	}
	m.advance(c.ScheduleID, c.LastDate, c.NextDate)
	if c.Outbox != nil {
		m.outbox = append(m.outbox, c.Outbox(d)...)
	}
	cp := *d
	cp.Payments = append([]models.DividendPayment(nil), d.Payments...)
	m.distributions = append(m.distributions, cp)
	return nil
}

func (m *memStore) AdvanceSchedule(ctx context.Context, scheduleID uint, last, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advance(scheduleID, last, next)
	return nil
}

func (m *memStore) advance(scheduleID uint, last, next time.Time) {
	for tid, s := range m.schedules {
		if s.ID == scheduleID {
			s.LastDistributionDate = &last
			s.NextDistributionDate = next
			m.schedules[tid] = s
		}
	}
}

func (m *memStore) GetDistribution(ctx context.Context, id uint) (*models.DividendDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.distributions {
		if d.ID == id {
			cp := d
			cp.Payments = append([]models.DividendPayment(nil), d.Payments...)
			return &cp, nil
		}
	}
	return nil, errs.NotFound("distribution", id)
}

func (m *memStore) ListDistributions(ctx context.Context, tokenizationID uint, limit, offset int) ([]models.DividendDistribution, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DividendDistribution
	for _, d := range m.distributions {
		if d.TokenizationID == tokenizationID {
			out = append(out, d)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memStore) OpenDistributions(ctx context.Context, before time.Time) ([]models.DividendDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DividendDistribution
	for _, d := range m.distributions {
		open := d.PaymentStatus == models.PaymentPending || d.PaymentStatus == models.PaymentPartiallyFailed || d.PaymentStatus == models.PaymentFailed
		if open && d.CreatedAt.Before(before) {
			cp := d
			cp.Payments = append([]models.DividendPayment(nil), d.Payments...)
			out = append(out, cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePayment(ctx context.Context, p *models.DividendPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.distributions {
		for j := range m.distributions[i].Payments {
			if m.distributions[i].Payments[j].ID == p.ID {
				m.distributions[i].Payments[j] = *p
				return nil
			}
		}
	}
	return errs.NotFound("payment", p.ID)
}

func (m *memStore) payments(distributionID uint) []models.DividendPayment {
	for _, d := range m.distributions {
		if d.ID == distributionID {
			return d.Payments
		}
	}
	return nil
}

func (m *memStore) ClaimPayments(ctx context.Context, distributionID uint, owner string, now, staleBefore time.Time, limit int) ([]models.DividendPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payments := m.payments(distributionID)
	var idx []int
	for i, p := range payments {
		stale := p.Status == models.PaymentProcessing && p.ClaimedAt != nil && p.ClaimedAt.Before(staleBefore)
		if p.Status == models.PaymentPending || p.Status == models.PaymentFailed || stale {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := payments[idx[a]], payments[idx[b]]
		if (pa.Status == models.PaymentPending) != (pb.Status == models.PaymentPending) {
			return pa.Status == models.PaymentPending
		}
		if !pa.UpdatedAt.Equal(pb.UpdatedAt) {
			return pa.UpdatedAt.Before(pb.UpdatedAt)
		}
		return pa.ID < pb.ID
	})
	if len(idx) > limit {
		idx = idx[:limit]
	}
	claimed := make([]models.DividendPayment, 0, len(idx))
	for _, i := range idx {
		at := now
		payments[i].Status, payments[i].ClaimedBy, payments[i].ClaimedAt, payments[i].UpdatedAt = models.PaymentProcessing, owner, &at, now
		claimed = append(claimed, payments[i])
	}
	return claimed, nil
}

func (m *memStore) FinishPayment(ctx context.Context, p *models.DividendPayment, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payments := m.payments(p.DistributionID)
	for i := range payments {
		if payments[i].ID != p.ID {
			continue
		}
		if payments[i].Status != models.PaymentProcessing || payments[i].ClaimedBy != owner {
			return errs.InvalidState("payment %d is no longer claimed by %s", p.ID, owner)
		}
		payments[i].Status, payments[i].Reference, payments[i].Error, payments[i].ValidUntil = p.Status, p.Reference, p.Error, p.ValidUntil
		payments[i].ClaimedBy, payments[i].ClaimedAt, payments[i].UpdatedAt = "", nil, m.clock.Now()
		return nil
	}
	return errs.NotFound("payment", p.ID)
}

func (m *memStore) EnqueuePayout(ctx context.Context, msg models.OutboxMessage, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].IdempotencyKey != msg.IdempotencyKey {
			continue
		}
		if m.outbox[i].Status == "" || m.outbox[i].Status == models.OutboxPending {
			return false, nil
		}
		m.outbox[i].Status, m.outbox[i].Attempts, m.outbox[i].NextAttemptAt, m.outbox[i].LastError = models.OutboxPending, 0, now, ""
		return true, nil
	}
	msg.Status, msg.NextAttemptAt = models.OutboxPending, now
	m.outbox = append(m.outbox, msg)
	return true, nil
}

func (m *memStore) outboxMessage(key string) (models.OutboxMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.outbox {
		if msg.IdempotencyKey == key {
			return msg, true
		}
	}
	return models.OutboxMessage{}, false
}

func (m *memStore) RefreshDistributionStatus(ctx context.Context, id uint) (*models.DividendDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.distributions {
		d := &m.distributions[i]
		if d.ID == id {
			d.PaymentStatus, d.PaymentsCompleted, d.PaymentsFailed = AggregatePaymentStatus(d.Payments)
			cp := *d
			cp.Payments = append([]models.DividendPayment(nil), d.Payments...)
			return &cp, nil
		}
	}
	return nil, errs.NotFound("distribution", id)
}

// setDistributionStatus overwrites the stored aggregate, as drift would.
func (m *memStore) setDistributionStatus(id uint, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.distributions {
		if m.distributions[i].ID == id {
			m.distributions[i].PaymentStatus = status
		}
	}
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []models.SystemLog
}

func (a *recordingAudit) Record(ctx context.Context, entry *models.SystemLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
	return nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Alert(ctx context.Context, title string, fields map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
	return nil
}
