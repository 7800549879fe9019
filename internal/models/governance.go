package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Proposal statuses.
const (
	ProposalDraft                    = "draft"
	ProposalActive                   = "active"
	ProposalPassed                   = "passed"
	ProposalApprovedPendingExecution = "approved_pending_execution"
	ProposalExecuted                 = "executed"
	ProposalRejected                 = "rejected"
	ProposalExpired                  = "expired"
)

// Vote choices.
const (
	VoteFor     = "for"
	VoteAgainst = "against"
	VoteAbstain = "abstain"
)

// GovernanceProposal is a holder vote on a property decision. Tallies only
// ever grow; status transitions are the only other mutation.
type GovernanceProposal struct {
	ID                uint            `gorm:"primarykey" json:"id"`
	TokenizationID    uint            `gorm:"not null;index" json:"tokenization_id"`
	ProposerID        string          `gorm:"size:64;not null" json:"proposer_id"`
	Title             string          `gorm:"size:200;not null" json:"title"`
	Description       string          `gorm:"type:text" json:"description"`
	ProposalType      string          `gorm:"size:32;not null" json:"proposal_type"`
	Budget            decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"budget"`
	VotingStart       time.Time       `gorm:"not null" json:"voting_start"`
	VotingEnd         time.Time       `gorm:"not null;index" json:"voting_end"`
	Status            string          `gorm:"size:32;not null;index" json:"status"`
	VotesFor          decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"votes_for"`
	VotesAgainst      decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"votes_against"`
	VotesAbstain      decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"votes_abstain"`
	TotalVotesCast    decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"total_votes_cast"`
	QuorumRequired    decimal.Decimal `gorm:"type:numeric(5,4);not null" json:"quorum_required"`
	ApprovalThreshold decimal.Decimal `gorm:"type:numeric(5,4);not null" json:"approval_threshold"`
	OutstandingSupply decimal.Decimal `gorm:"type:numeric(30,8);not null;default:0" json:"outstanding_supply"`
	LedgerTopicID     string          `gorm:"size:64" json:"ledger_topic_id"`
	ResolvedAt        *time.Time      `json:"resolved_at"`
	ExecutionRef      string          `gorm:"size:128" json:"execution_ref"`
	CreatedAt         time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (GovernanceProposal) TableName() string {
	return "governance_proposals"
}

// IsOpen reports whether the proposal still accepts votes at t.
func (p GovernanceProposal) IsOpen(t time.Time) bool {
	return p.Status == ProposalActive && !t.Before(p.VotingStart) && !t.After(p.VotingEnd)
}

// Vote is one holder's ballot. One per (proposal, voter).
type Vote struct {
	ID          uint            `gorm:"primarykey" json:"id"`
	ProposalID  uint            `gorm:"not null;uniqueIndex:idx_vote_voter" json:"proposal_id"`
	VoterID     string          `gorm:"size:64;not null;uniqueIndex:idx_vote_voter" json:"voter_id"`
	Choice      string          `gorm:"size:10;not null" json:"choice"`
	VotingPower decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"voting_power"`
	CastAt      time.Time       `gorm:"not null" json:"cast_at"`
}

func (Vote) TableName() string {
	return "governance_votes"
}
