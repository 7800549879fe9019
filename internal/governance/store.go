package governance

import (
	"context"
	"time"

	"estatesettle/internal/models"
)

// Store is the persistence governance needs.
type Store interface {
	GetTokenization(ctx context.Context, id uint) (*models.Tokenization, error)
	Holdings(ctx context.Context, tokenizationID uint) ([]models.TokenHolding, error)
	// Holding returns a not-found error when the holder has never held tokens.
	Holding(ctx context.Context, tokenizationID uint, holderID string) (*models.TokenHolding, error)

	// CreateProposal inserts p and the outbox rows built from it once it has an id.
	CreateProposal(ctx context.Context, p *models.GovernanceProposal, build func(*models.GovernanceProposal) []models.OutboxMessage) error
	GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error)
	ListProposals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.GovernanceProposal, int64, error)
	// DueProposals returns active proposals whose voting window ended before now.
	DueProposals(ctx context.Context, now time.Time) ([]models.GovernanceProposal, error)

	// CastVote inserts the vote and adds its power to the tallies in one
	// transaction. It fails with a duplicate-vote error when the voter already
	// voted and with a voting-not-active error when the proposal closed meanwhile.
	CastVote(ctx context.Context, v *models.Vote, out []models.OutboxMessage) (*models.GovernanceProposal, error)
	ListVotes(ctx context.Context, proposalID uint) ([]models.Vote, error)

	// ResolveProposal moves an active proposal to p.Status. It reports false
	// when the proposal was no longer active.
	ResolveProposal(ctx context.Context, p *models.GovernanceProposal, out []models.OutboxMessage) (bool, error)
}
