// Package relay delivers outbox messages: notarizations, notifications and
// payouts, with retry and backoff, in-process or through the worker queue.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"estatesettle/internal/models"
)

// Store is the persistence the relay needs. ClaimDue must lease the rows it
// returns so that concurrent relays do not pick the same message.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxMessage, error)
	MarkSent(ctx context.Context, id uint, at time.Time) error
	MarkRetry(ctx context.Context, id uint, attempts int, next time.Time, lastErr string) error
	MarkDead(ctx context.Context, id uint, attempts int, lastErr string) error
}

// Handler delivers one message. Handlers must be idempotent on the message key.
type Handler interface {
	Handle(ctx context.Context, m models.OutboxMessage) error
}

type HandlerFunc func(ctx context.Context, m models.OutboxMessage) error

func (f HandlerFunc) Handle(ctx context.Context, m models.OutboxMessage) error { return f(ctx, m) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type requeueError struct{ err error }

func (e *requeueError) Error() string { return e.err.Error() }
func (e *requeueError) Unwrap() error { return e.err }

// Requeue reports that the delivery made progress but has more to do. The
// message is due again at once and the attempt is not counted.
func Requeue(err error) error {
	if err == nil {
		return nil
	}
	return &requeueError{err: err}
}

// IsRequeue reports whether err was marked with Requeue.
func IsRequeue(err error) bool {
	var r *requeueError
	return errors.As(err, &r)
}

// Backoff doubles the delay per attempt from Initial up to Max.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 10 * time.Second, Max: 30 * time.Minute, MaxAttempts: 12}
}

// Delay returns the wait after the given number of failed attempts (1-based).
func (b Backoff) Delay(attempts int) time.Duration {
	delay := b.Initial
	for i := 1; i < attempts && delay < b.Max; i++ {
		delay *= 2
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}

// DrainReport counts what one drain pass did.
type DrainReport struct {
	Claimed  int
	Sent     int
	Requeued int
	Retried  int
	Dead     int
}

// Relay drains due outbox messages into a Handler with retry and backoff.
type Relay struct {
	store      Store
	handler    Handler
	backoff    Backoff
	batch      int
	lease      time.Duration
	perMessage time.Duration
	perKind    map[string]time.Duration
	now        func() time.Time
	log        *logrus.Entry
}

type Option func(*Relay)

func WithBackoff(b Backoff) Option { return func(r *Relay) { r.backoff = b } }
func WithBatchSize(n int) Option { return func(r *Relay) { r.batch = n } }
func WithClock(now func() time.Time) Option { return func(r *Relay) { r.now = now } }

// WithMessageTimeout bounds a single delivery.
func WithMessageTimeout(d time.Duration) Option { return func(r *Relay) { r.perMessage = d } }

// WithKindTimeout bounds a single delivery of kind, overriding the message timeout.
func WithKindTimeout(kind string, d time.Duration) Option {
	return func(r *Relay) { r.perKind[kind] = d }
}

func New(store Store, handler Handler, opts ...Option) *Relay {
	r := &Relay{
		store:      store,
		handler:    handler,
		backoff:    DefaultBackoff(),
		batch:      50,
		lease:      5 * time.Minute,
		perMessage: time.Minute,
		perKind:    map[string]time.Duration{},
		now:        time.Now,
		log:        logrus.WithField("module", "outbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Drain delivers one batch of due messages. A failing message never blocks
// the others; it is rescheduled or, once out of attempts, marked dead.
func (r *Relay) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	msgs, err := r.store.ClaimDue(ctx, r.now(), r.lease, r.batch)
	if err != nil {
		return report, fmt.Errorf("claim outbox messages: %w", err)
	}
	report.Claimed = len(msgs)

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		mctx, cancel := context.WithTimeout(ctx, r.timeout(m.Kind))
		herr := r.handler.Handle(mctx, m)
		cancel()

		if herr == nil {
			if err := r.store.MarkSent(ctx, m.ID, r.now()); err != nil {
				return report, fmt.Errorf("mark message %d sent: %w", m.ID, err)
			}
			report.Sent++
			continue
		}

		if IsRequeue(herr) {
			r.log.WithField("key", m.IdempotencyKey).Debugf("> outbox message requeued: %v", herr)
			if err := r.store.MarkRetry(ctx, m.ID, m.Attempts, r.now(), herr.Error()); err != nil {
				return report, fmt.Errorf("requeue message %d: %w", m.ID, err)
			}
			report.Requeued++
			continue
		}

		attempts := m.Attempts + 1
		entry := r.log.WithFields(logrus.Fields{"id": m.ID, "kind": m.Kind, "key": m.IdempotencyKey, "attempts": attempts})
		if IsPermanent(herr) || attempts >= r.backoff.MaxAttempts {
			entry.WithError(herr).Error("> outbox message dead")
			if err := r.store.MarkDead(ctx, m.ID, attempts, herr.Error()); err != nil {
				return report, fmt.Errorf("mark message %d dead: %w", m.ID, err)
			}
			report.Dead++
			continue
		}
		next := r.now().Add(r.backoff.Delay(attempts))
		entry.WithError(herr).Warnf("> outbox delivery failed, retry at %s", next.Format(time.RFC3339))
		if err := r.store.MarkRetry(ctx, m.ID, attempts, next, herr.Error()); err != nil {
			return report, fmt.Errorf("mark message %d for retry: %w", m.ID, err)
		}
		report.Retried++
	}
	if report.Claimed > 0 {
		r.log.Infof("> outbox drained: %d claimed, %d sent, %d requeued, %d retried, %d dead",
			report.Claimed, report.Sent, report.Requeued, report.Retried, report.Dead)
	}
	return report, nil
}

func (r *Relay) timeout(kind string) time.Duration {
	if d, ok := r.perKind[kind]; ok {
		return d
	}
	return r.perMessage
}
