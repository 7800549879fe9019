package errs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind identifies a class of settlement failure.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindInvalidState     Kind = "invalid_state"
	KindNotEligible      Kind = "not_eligible"
	KindNoHolders        Kind = "no_holders"
	KindLockContention   Kind = "lock_contention"
	KindCooldown         Kind = "cooldown"
	KindVotingNotActive  Kind = "voting_not_active"
	KindDuplicateVote    Kind = "duplicate_vote"
	KindLedgerSubmission Kind = "ledger_submission"
	KindExecution        Kind = "execution"
	KindPartialFailure   Kind = "partial_failure"
)

// Error is the typed error returned by the settlement services. Handlers map
// Kind to an HTTP status and show Guidance to operators.
type Error struct {
	Kind     Kind
	Message  string
	Guidance string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so errors.Is(err, errs.ErrLockContention) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation       = &Error{Kind: KindValidation}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrNotEligible      = &Error{Kind: KindNotEligible}
	ErrNoHolders        = &Error{Kind: KindNoHolders}
	ErrLockContention   = &Error{Kind: KindLockContention}
	ErrCooldown         = &Error{Kind: KindCooldown}
	ErrVotingNotActive  = &Error{Kind: KindVotingNotActive}
	ErrDuplicateVote    = &Error{Kind: KindDuplicateVote}
	ErrLedgerSubmission = &Error{Kind: KindLedgerSubmission}
	ErrExecution        = &Error{Kind: KindExecution}
	ErrPartialFailure   = &Error{Kind: KindPartialFailure}
)

func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Guidance: "fix the request and try again"}
}

func NotFound(what string, id interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %v not found", what, id)}
}

func InvalidState(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func NotEligible(format string, args ...interface{}) error {
	return &Error{Kind: KindNotEligible, Message: fmt.Sprintf(format, args...)}
}

func NoHolders(tokenizationID uint) error {
	return &Error{
		Kind:     KindNoHolders,
		Message:  fmt.Sprintf("tokenization %d has no token holders", tokenizationID),
		Guidance: "no investors yet; revenue is kept pending until holders exist",
	}
}

func LockContention(tokenizationID uint) error {
	return &Error{
		Kind:     KindLockContention,
		Message:  fmt.Sprintf("distribution for tokenization %d already in progress", tokenizationID),
		Guidance: "distribution in progress; it will be retried on the next scheduler tick",
	}
}

func Cooldown(tokenizationID uint, remaining string) error {
	return &Error{
		Kind:     KindCooldown,
		Message:  fmt.Sprintf("tokenization %d was distributed recently", tokenizationID),
		Guidance: "wait " + remaining + " before triggering again",
	}
}

func VotingNotActive(proposalID uint, reason string) error {
	return &Error{
		Kind:    KindVotingNotActive,
		Message: fmt.Sprintf("voting on proposal %d is not active: %s", proposalID, reason),
	}
}

func DuplicateVote(proposalID uint, voter string) error {
	return &Error{
		Kind:    KindDuplicateVote,
		Message: fmt.Sprintf("%s already voted on proposal %d", voter, proposalID),
	}
}

func LedgerSubmission(err error) error {
	return &Error{Kind: KindLedgerSubmission, Message: "ledger submission failed", Err: err}
}

// Execution wraps a treasury transfer failure. Unknown marks a failure whose
// outcome could not be confirmed either way (timeouts, dropped connections).
func Execution(err error, unknown bool) error {
	return &ExecutionError{Err: err, Unknown: unknown}
}

// ExecutionInFlight wraps a transfer that was broadcast but not observed.
// It may still land while the ledger's block height is at most validUntil.
func ExecutionInFlight(err error, validUntil uint64) error {
	return &ExecutionError{Err: err, Unknown: true, ValidUntil: validUntil}
}

// ExecutionError carries whether the transfer may still have happened.
// ValidUntil, when set, is the last block height at which it can land.
type ExecutionError struct {
	Err        error
	Unknown    bool
	ValidUntil uint64
}

func (e *ExecutionError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("treasury transfer outcome unknown: %v", e.Err)
	}
	return fmt.Sprintf("treasury transfer failed: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindExecution
}

// InFlightUntil returns the block height until which an unobserved transfer
// behind err may still land, or 0.
func InFlightUntil(err error) uint64 {
	var ee *ExecutionError
	if errors.As(err, &ee) && ee.Unknown {
		return ee.ValidUntil
	}
	return 0
}

// PartialFailure reports per-holder payments that failed inside an otherwise
// committed distribution.
type PartialFailure struct {
	DistributionID uint
	Failed         map[string]error
}

func (p *PartialFailure) Error() string {
	holders := make([]string, 0, len(p.Failed))
	for h := range p.Failed {
		holders = append(holders, h)
	}
	sort.Strings(holders)
	return fmt.Sprintf("distribution %d: %d payments failed (%s)", p.DistributionID, len(p.Failed), strings.Join(holders, ", "))
}

func (p *PartialFailure) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == KindPartialFailure
}

// KindOf returns the Kind of err, or "" for untyped errors.
func KindOf(err error) Kind {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return KindPartialFailure
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return KindExecution
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// GuidanceOf returns the operator guidance attached to err, if any.
func GuidanceOf(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return "withdrawal stays pending; retry execution"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Guidance
	}
	return ""
}

// HTTPStatus maps an error to the status code the API returns for it.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindNotEligible:
		return http.StatusForbidden
	case KindInvalidState, KindVotingNotActive, KindDuplicateVote, KindLockContention:
		return http.StatusConflict
	case KindCooldown:
		return http.StatusTooManyRequests
	case KindNoHolders:
		return http.StatusUnprocessableEntity
	case KindExecution, KindLedgerSubmission:
		return http.StatusBadGateway
	case KindPartialFailure:
		return http.StatusMultiStatus
	}
	return http.StatusInternalServerError
}
