package governance

import (
	"github.com/shopspring/decimal"

	"estatesettle/internal/models"
)

// Tally is the vote weight on a proposal at resolution.
type Tally struct {
	For         decimal.Decimal
	Against     decimal.Decimal
	Abstain     decimal.Decimal
	Outstanding decimal.Decimal
	Quorum      decimal.Decimal
	Threshold   decimal.Decimal
}

// TallyOf reads the counters stored on a proposal.
func TallyOf(p models.GovernanceProposal, outstanding decimal.Decimal) Tally {
	return Tally{
		For:         p.VotesFor,
		Against:     p.VotesAgainst,
		Abstain:     p.VotesAbstain,
		Outstanding: outstanding,
		Quorum:      p.QuorumRequired,
		Threshold:   p.ApprovalThreshold,
	}
}

// Total is every vote cast, abstentions included.
func (t Tally) Total() decimal.Decimal {
	return t.For.Add(t.Against).Add(t.Abstain)
}

// QuorumReached reports total/outstanding >= quorum, compared without division.
func (t Tally) QuorumReached() bool {
	return t.Total().GreaterThanOrEqual(t.Outstanding.Mul(t.Quorum))
}

// ThresholdReached reports for/total >= threshold over votes cast.
func (t Tally) ThresholdReached() bool {
	total := t.Total()
	if total.IsZero() {
		return false
	}
	return t.For.GreaterThanOrEqual(total.Mul(t.Threshold))
}

// Outcome is the terminal status of a proposal with this tally. budget > 0
// marks a proposal that still needs a treasury execution step.
func (t Tally) Outcome(budget decimal.Decimal) string {
	switch {
	case t.Total().IsZero():
		return models.ProposalExpired
	case !t.QuorumReached() || !t.ThresholdReached():
		return models.ProposalRejected
	case budget.IsPositive():
		return models.ProposalApprovedPendingExecution
	}
	return models.ProposalPassed
}
