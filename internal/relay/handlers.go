package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"estatesettle/internal/distribution"
	"estatesettle/internal/errs"
	"estatesettle/internal/ledger"
	"estatesettle/internal/models"
	"estatesettle/internal/outbox"
)

// Router dispatches a message to the handler registered for its kind.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: map[string]Handler{}}
}

// Register binds kind to h, replacing any previous handler.
func (r *Router) Register(kind string, h Handler) *Router {
	r.handlers[kind] = h
	return r
}

func (r *Router) Handle(ctx context.Context, m models.OutboxMessage) error {
	h, ok := r.handlers[m.Kind]
	if !ok {
		return Permanent(fmt.Errorf("no handler for outbox kind %q", m.Kind))
	}
	return h.Handle(ctx, m)
}

// HandleDelivery decodes a queued message body and routes it.
func (r *Router) HandleDelivery(ctx context.Context, body []byte) error {
	var m models.OutboxMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return Permanent(fmt.Errorf("decode outbox message: %w", err))
	}
	return r.Handle(ctx, m)
}

// ReceiptStore persists notarization receipts keyed by outbox key.
type ReceiptStore interface {
	ReceiptByKey(ctx context.Context, key string) (*models.NotarizationReceipt, error)
	SaveReceipt(ctx context.Context, r *models.NotarizationReceipt) error
}

// NotarizeHandler submits the event to the ledger once per outbox key.
type NotarizeHandler struct {
	notary   ledger.Notarizer
	receipts ReceiptStore
	log      *logrus.Entry
}

func NewNotarizeHandler(notary ledger.Notarizer, receipts ReceiptStore) *NotarizeHandler {
	return &NotarizeHandler{notary: notary, receipts: receipts, log: logrus.WithField("module", "notary")}
}

func (h *NotarizeHandler) Handle(ctx context.Context, m models.OutboxMessage) error {
	existing, err := h.receipts.ReceiptByKey(ctx, m.IdempotencyKey)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if existing != nil {
		return nil
	}

	req := outbox.DecodeNotarize(m)
	if req.TopicID == "" {
		return Permanent(fmt.Errorf("notarize %s: no topic", m.IdempotencyKey))
	}
	message, err := json.Marshal(map[string]interface{}{
		"key":          m.IdempotencyKey,
		"subject_type": req.SubjectType,
		"subject_id":   req.SubjectID,
		"event":        req.Event,
		"body":         req.Body,
	})
	if err != nil {
		return Permanent(err)
	}
	receipt, err := h.notary.Notarize(ctx, req.TopicID, message)
	if err != nil {
		return errs.LedgerSubmission(err)
	}
	h.log.Infof("> notarized %s as %s", m.IdempotencyKey, receipt.TransactionID)
	return h.receipts.SaveReceipt(ctx, &models.NotarizationReceipt{
		SubjectType:    req.SubjectType,
		SubjectID:      req.SubjectID,
		TopicID:        req.TopicID,
		TransactionID:  receipt.TransactionID,
		SequenceNumber: receipt.SequenceNumber,
		OutboxKey:      m.IdempotencyKey,
	})
}

// NotificationStore inserts notifications, ignoring a repeated DedupKey.
// It reports whether the row was new.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) (bool, error)
}

// Broadcaster pushes a stored notification to connected clients.
type Broadcaster interface {
	Broadcast(n models.Notification)
}

// NotifyHandler stores a user notification and pushes it live.
type NotifyHandler struct {
	store NotificationStore
	push  Broadcaster
}

func NewNotifyHandler(store NotificationStore, push Broadcaster) *NotifyHandler {
	return &NotifyHandler{store: store, push: push}
}

func (h *NotifyHandler) Handle(ctx context.Context, m models.OutboxMessage) error {
	n := outbox.DecodeNotify(m)
	if n.UserID == "" {
		return Permanent(fmt.Errorf("notify %s: no user", m.IdempotencyKey))
	}
	added, err := h.store.InsertNotification(ctx, &n)
	if err != nil {
		return err
	}
	if added && h.push != nil {
		h.push.Broadcast(n)
	}
	return nil
}

// Settler pays out a committed distribution.
type Settler interface {
	SettlePayments(ctx context.Context, distributionID uint) (*models.DividendDistribution, error)
}

// PayoutHandler settles the distribution named by the message one batch per
// delivery. While payments are left unclaimed the message is requeued; failed
// payments and transfers awaiting confirmation are retried with backoff.
type PayoutHandler struct {
	settler Settler
}

func NewPayoutHandler(s Settler) *PayoutHandler {
	return &PayoutHandler{settler: s}
}

func (h *PayoutHandler) Handle(ctx context.Context, m models.OutboxMessage) error {
	d, err := h.settler.SettlePayments(ctx, m.SubjectID)
	if errors.Is(err, errs.ErrNotFound) {
		return Permanent(err)
	}
	var pf *errs.PartialFailure
	if d != nil && (err == nil || errors.As(err, &pf)) {
		if open, _ := distribution.Unsettled(d); open > 0 {
			return Requeue(fmt.Errorf("distribution %d: %d payments left", d.ID, open))
		}
	}
	if err != nil {
		return err
	}
	if _, held := distribution.Unsettled(d); held > 0 {
		return fmt.Errorf("distribution %d: %d payments awaiting confirmation", d.ID, held)
	}
	return nil
}

// Publisher sends a JSON-encoded message to a queue.
type Publisher interface {
	Publish(queueName string, message interface{}) error
}

// QueueHandler hands messages to the worker queue instead of delivering them
// in-process. The worker runs a Router on the other end.
type QueueHandler struct {
	pub   Publisher
	queue string
}

func NewQueueHandler(pub Publisher, queue string) *QueueHandler {
	return &QueueHandler{pub: pub, queue: queue}
}

func (h *QueueHandler) Handle(ctx context.Context, m models.OutboxMessage) error {
	return h.pub.Publish(h.queue, m)
}
