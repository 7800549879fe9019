// Package ledger holds the external ledger collaborators: the notarization
// gateway and the treasury transfer executor, with Solana implementations.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"estatesettle/internal/errs"
)

// Receipt identifies a notarized message on the ledger.
type Receipt struct {
	TransactionID  string
	SequenceNumber uint64
}

// Notarizer submits a tamper-evident record of an event.
type Notarizer interface {
	Notarize(ctx context.Context, topicID string, message []byte) (Receipt, error)
}

// Transfer states reported by Executor.Status.
const (
	TransferConfirmed = "confirmed"
	TransferFailed    = "failed"
	TransferNotFound  = "not_found"
)

// TransferRequest moves Amount from one treasury account to a destination.
// The executor must not move funds twice for the same IdempotencyKey.
type TransferRequest struct {
	From           string
	To             string
	Amount         decimal.Decimal
	Memo           string
	IdempotencyKey string
}

// TransferStatus is what the executor knows about a previous key.
type TransferStatus struct {
	State     string
	Reference string
	Error     string
}

// Executor performs treasury transfers. Transfer returns an
// *errs.ExecutionError with Unknown set when the outcome could not be observed,
// and ValidUntil set when the transaction was broadcast and may still land.
//
// Status only sees settled transfers. A caller holding a ValidUntil must not
// resubmit the key until Expired reports true for it and Status, asked after
// that, still finds nothing.
type Executor interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	Status(ctx context.Context, idempotencyKey string) (TransferStatus, error)
	Expired(ctx context.Context, validUntil uint64) (bool, error)
}

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("ledger signer not configured")

// Unconfigured stands in when no signing key is set. Transfers fail
// definitively and nothing is ever found, so withdrawals stay pending.
type Unconfigured struct{}

func (Unconfigured) Notarize(context.Context, string, []byte) (Receipt, error) {
	return Receipt{}, ErrNotConfigured
}

func (Unconfigured) Transfer(context.Context, TransferRequest) (string, error) {
	return "", errs.Execution(ErrNotConfigured, false)
}

func (Unconfigured) Status(context.Context, string) (TransferStatus, error) {
	return TransferStatus{State: TransferNotFound}, nil
}

func (Unconfigured) Expired(context.Context, uint64) (bool, error) {
	return true, nil
}
