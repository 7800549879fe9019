package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"estatesettle/internal/errs"
)

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

const (
	memoPrefix      = "estatesettle"
	confirmAttempts = 20
	confirmInterval = 1500 * time.Millisecond
	statusScanLimit = 200
)

// MaxTransferWait bounds one Transfer: the send plus every confirmation check.
const MaxTransferWait = confirmAttempts*confirmInterval + 15*time.Second

// MemoNotarizer writes messages to the Solana memo program. The transaction
// signature is the receipt and its slot the sequence number.
type MemoNotarizer struct {
	client *rpc.Client
	signer solana.PrivateKey
}

func NewMemoNotarizer(client *rpc.Client, signer solana.PrivateKey) *MemoNotarizer {
	return &MemoNotarizer{client: client, signer: signer}
}

func (n *MemoNotarizer) Notarize(ctx context.Context, topicID string, message []byte) (Receipt, error) {
	payer := n.signer.PublicKey()
	memo := memoInstruction(payer, NotaryMemo(topicID, message))
	sig, _, err := sendSigned(ctx, n.client, n.signer, memo)
	if err != nil {
		return Receipt{}, errs.LedgerSubmission(err)
	}
	slot, err := waitConfirmed(ctx, n.client, sig)
	if err != nil {
		return Receipt{}, errs.LedgerSubmission(err)
	}
	return Receipt{TransactionID: sig.String(), SequenceNumber: slot}, nil
}

// NotaryMemo is the memo text of a notarized message.
func NotaryMemo(topicID string, message []byte) string {
	if topicID == "" {
		topicID = "default"
	}
	return fmt.Sprintf("%s:%s:%s", memoPrefix, topicID, message)
}

// SPLExecutor moves SPL tokens (a stablecoin mint) out of the treasury
// wallet. Each transfer carries the idempotency key in a memo so Status can
// find it again after a lost response.
type SPLExecutor struct {
	client   *rpc.Client
	owner    solana.PrivateKey
	mint     solana.PublicKey
	decimals int32
}

func NewSPLExecutor(client *rpc.Client, owner solana.PrivateKey, mint solana.PublicKey, decimals int32) *SPLExecutor {
	return &SPLExecutor{client: client, owner: owner, mint: mint, decimals: decimals}
}

func (x *SPLExecutor) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	amount, err := ToBaseUnits(req.Amount, x.decimals)
	if err != nil {
		return "", errs.Execution(err, false)
	}
	ownerPub := x.owner.PublicKey()
	if req.From != "" && req.From != ownerPub.String() {
		return "", errs.Execution(fmt.Errorf("treasury account %s is not controlled by this executor", req.From), false)
	}
	dest, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return "", errs.Execution(fmt.Errorf("invalid destination %q: %w", req.To, err), false)
	}
	sourceATA, _, err := solana.FindAssociatedTokenAddress(ownerPub, x.mint)
	if err != nil {
		return "", errs.Execution(err, false)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(dest, x.mint)
	if err != nil {
		return "", errs.Execution(err, false)
	}

	transfer := token.NewTransferInstruction(amount, sourceATA, destATA, ownerPub, nil).Build()
	memo := memoInstruction(ownerPub, TransferMemo(req.IdempotencyKey, req.Memo))
	sig, validUntil, err := sendSigned(ctx, x.client, x.owner, transfer, memo)
	if err != nil {
		if validUntil == 0 || isRejected(err) {
			return "", errs.Execution(err, false)
		}
		return "", errs.ExecutionInFlight(err, validUntil)
	}
	if _, err := waitConfirmed(ctx, x.client, sig); err != nil {
		var failed *txFailedError
		if errors.As(err, &failed) {
			return "", errs.Execution(err, false)
		}
		return "", errs.ExecutionInFlight(fmt.Errorf("transaction %s: %w", sig, err), validUntil)
	}
	log.Infof("> treasury transfer %s: %s to %s (%s)", req.IdempotencyKey, req.Amount.String(), req.To, sig)
	return sig.String(), nil
}

// Status scans the treasury wallet's recent signatures for the key's memo.
func (x *SPLExecutor) Status(ctx context.Context, idempotencyKey string) (TransferStatus, error) {
	limit := statusScanLimit
	sigs, err := x.client.GetSignaturesForAddressWithOpts(ctx, x.owner.PublicKey(), &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return TransferStatus{}, fmt.Errorf("scan treasury signatures: %w", err)
	}
	needle := TransferMemo(idempotencyKey, "")
	for _, s := range sigs {
		if s.Memo == nil || !strings.Contains(*s.Memo, needle) {
			continue
		}
		if s.Err != nil {
			return TransferStatus{State: TransferFailed, Reference: s.Signature.String(), Error: fmt.Sprint(s.Err)}, nil
		}
		return TransferStatus{State: TransferConfirmed, Reference: s.Signature.String()}, nil
	}
	return TransferStatus{State: TransferNotFound}, nil
}

// Expired reports whether the finalized block height has passed validUntil, after
// which a transaction built on that blockhash can no longer be processed.
func (x *SPLExecutor) Expired(ctx context.Context, validUntil uint64) (bool, error) {
	height, err := x.client.GetBlockHeight(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return false, fmt.Errorf("get block height: %w", err)
	}
	return height > validUntil, nil
}

// TransferMemo is the memo text that tags a transfer with its key.
func TransferMemo(key, memo string) string {
	out := fmt.Sprintf("%s:key=%s;", memoPrefix, key)
	if memo != "" {
		out += memo
	}
	return out
}

// ToBaseUnits converts a token amount to the mint's integer base units.
func ToBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("amount must be positive, got %s", amount)
	}
	units := amount.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	if units.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}
	return units.BigInt().Uint64(), nil
}

func memoInstruction(signer solana.PublicKey, text string) solana.Instruction {
	return solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(signer, false, true)},
		[]byte(text),
	)
}

// sendSigned broadcasts the instructions and returns the signature with the
// last block height at which the transaction can land. The height is 0 when
// nothing was broadcast.
func sendSigned(ctx context.Context, client *rpc.Client, signer solana.PrivateKey, ixs ...solana.Instruction) (solana.Signature, uint64, error) {
	payer := signer.PublicKey()
	bh, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("get latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(ixs, bh.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &signer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, 0, fmt.Errorf("sign transaction: %w", err)
	}
	sig, err := client.SendTransaction(ctx, tx)
	return sig, bh.Value.LastValidBlockHeight, err
}

type txFailedError struct {
	sig solana.Signature
	err interface{}
}

func (e *txFailedError) Error() string {
	return fmt.Sprintf("transaction %s failed: %v", e.sig, e.err)
}

// waitConfirmed polls the signature until it is confirmed and returns its slot.
func waitConfirmed(ctx context.Context, client *rpc.Client, sig solana.Signature) (uint64, error) {
	for i := 0; i < confirmAttempts; i++ {
		res, err := client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if st.Err != nil {
				return 0, &txFailedError{sig: sig, err: st.Err}
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return st.Slot, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(confirmInterval):
		}
	}
	return 0, fmt.Errorf("transaction %s not confirmed after %d checks", sig, confirmAttempts)
}

// isRejected reports whether the RPC node refused the transaction outright,
// which means it was never broadcast.
func isRejected(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr)
}
