package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"estatesettle/internal/errs"
	"estatesettle/internal/governance"
	"estatesettle/internal/models"
)

var _ governance.Store = (*Store)(nil)

func (s *Store) CreateProposal(ctx context.Context, p *models.GovernanceProposal, build func(*models.GovernanceProposal) []models.OutboxMessage) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("insert proposal: %w", err)
		}
		if build == nil {
			return nil
		}
		return insertOutbox(tx, build(p))
	})
}

func (s *Store) GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error) {
	var p models.GovernanceProposal
	if err := s.conn(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "proposal", id)
	}
	return &p, nil
}

func (s *Store) ListProposals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.GovernanceProposal, int64, error) {
	q := s.conn(ctx).Model(&models.GovernanceProposal{}).Where("tokenization_id = ?", tokenizationID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.GovernanceProposal
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func (s *Store) DueProposals(ctx context.Context, now time.Time) ([]models.GovernanceProposal, error) {
	var out []models.GovernanceProposal
	err := s.conn(ctx).Where("status = ? AND voting_end < ?", models.ProposalActive, now).Order("voting_end, id").Find(&out).Error
	return out, err
}

var tallyColumn = map[string]string{
	models.VoteFor:     "votes_for",
	models.VoteAgainst: "votes_against",
	models.VoteAbstain: "votes_abstain",
}

func (s *Store) CastVote(ctx context.Context, v *models.Vote, out []models.OutboxMessage) (*models.GovernanceProposal, error) {
	col, ok := tallyColumn[v.Choice]
	if !ok {
		return nil, errs.Validation("unknown vote choice %q", v.Choice)
	}
	var p models.GovernanceProposal
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate()).First(&p, v.ProposalID).Error; err != nil {
			return notFound(err, "proposal", v.ProposalID)
		}
		if !p.IsOpen(v.CastAt) {
			return errs.VotingNotActive(p.ID, "voting window closed")
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proposal_id"}, {Name: "voter_id"}},
			DoNothing: true,
		}).Create(v)
		if res.Error != nil {
			return fmt.Errorf("insert vote: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.DuplicateVote(v.ProposalID, v.VoterID)
		}
		err := tx.Model(&models.GovernanceProposal{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			col:                gorm.Expr(col+" + ?", v.VotingPower),
			"total_votes_cast": gorm.Expr("total_votes_cast + ?", v.VotingPower),
		}).Error
		if err != nil {
			return fmt.Errorf("update tallies: %w", err)
		}
		if err := insertOutbox(tx, out); err != nil {
			return err
		}
		return tx.First(&p, p.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListVotes(ctx context.Context, proposalID uint) ([]models.Vote, error) {
	var out []models.Vote
	err := s.conn(ctx).Where("proposal_id = ?", proposalID).Order("cast_at, id").Find(&out).Error
	return out, err
}

func (s *Store) ResolveProposal(ctx context.Context, p *models.GovernanceProposal, out []models.OutboxMessage) (bool, error) {
	resolved := false
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GovernanceProposal{}).
			Where("id = ? AND status = ?", p.ID, models.ProposalActive).
			Updates(map[string]interface{}{
				"status":             p.Status,
				"outstanding_supply": p.OutstandingSupply,
				"total_votes_cast":   p.TotalVotesCast,
				"resolved_at":        p.ResolvedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		resolved = true
		return insertOutbox(tx, out)
	})
	return resolved, err
}
