package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"estatesettle/internal/errs"
	"estatesettle/internal/models"
	"estatesettle/internal/outbox"
)

var (
	DefaultQuorum       = decimal.RequireFromString("0.5")
	DefaultThreshold    = decimal.RequireFromString("0.5")
	DefaultVotingPeriod = 7 * 24 * time.Hour
	MaxVotingPeriod     = 90 * 24 * time.Hour
)

// ProposalInput is what a holder submits to open a proposal.
type ProposalInput struct {
	TokenizationID uint                `json:"tokenization_id" binding:"required"`
	Title          string              `json:"title" binding:"required"`
	Description    string              `json:"description"`
	ProposalType   string              `json:"proposal_type" binding:"required"`
	Budget         decimal.Decimal     `json:"budget"`
	Quorum         decimal.NullDecimal `json:"quorum"`
	Threshold      decimal.NullDecimal `json:"threshold"`
	VotingDays     int                 `json:"voting_days"`
}

// Service runs the proposal state machine: draft → active → passed /
// approved_pending_execution / rejected / expired.
type Service struct {
	store Store
	now   func() time.Time
	log   *logrus.Entry
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now, log: logrus.WithField("module", "governance")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProposal opens a proposal for voting immediately. Only current holders may propose.
func (s *Service) CreateProposal(ctx context.Context, actor string, in ProposalInput) (*models.GovernanceProposal, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	tok, err := s.store.GetTokenization(ctx, in.TokenizationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.votingPower(ctx, tok.ID, actor); err != nil {
		return nil, err
	}
	holdings, err := s.store.Holdings(ctx, tok.ID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}

	period := DefaultVotingPeriod
	if in.VotingDays > 0 {
		period = time.Duration(in.VotingDays) * 24 * time.Hour
	}
	now := s.now()
	p := &models.GovernanceProposal{
		TokenizationID:    tok.ID,
		ProposerID:        actor,
		Title:             in.Title,
		Description:       in.Description,
		ProposalType:      in.ProposalType,
		Budget:            in.Budget,
		VotingStart:       now,
		VotingEnd:         now.Add(period),
		Status:            models.ProposalActive,
		QuorumRequired:    DefaultQuorum,
		ApprovalThreshold: DefaultThreshold,
		LedgerTopicID:     tok.LedgerTopicID,
	}
	if in.Quorum.Valid {
		p.QuorumRequired = in.Quorum.Decimal
	}
	if in.Threshold.Valid {
		p.ApprovalThreshold = in.Threshold.Decimal
	}

	build := func(p *models.GovernanceProposal) []models.OutboxMessage { return CreatedOutbox(p, holdings) }
	if err := s.store.CreateProposal(ctx, p, build); err != nil {
		return nil, err
	}
	s.log.Infof("> proposal %d opened on tokenization %d by %s until %s", p.ID, tok.ID, actor, p.VotingEnd.Format(time.RFC3339))
	return p, nil
}

// CreatedOutbox lists the side effects of opening p: notarization plus one
// notification per holder.
func CreatedOutbox(p *models.GovernanceProposal, holders []models.TokenHolding) []models.OutboxMessage {
	out := []models.OutboxMessage{outbox.Notarize(outbox.SubjectProposal, p.ID, p.LedgerTopicID, "created", map[string]interface{}{
		"tokenization_id": p.TokenizationID,
		"proposer":        p.ProposerID,
		"title":           p.Title,
		"type":            p.ProposalType,
		"budget":          p.Budget.String(),
		"voting_end":      p.VotingEnd.Format(time.RFC3339),
	})}
	for _, h := range holders {
		if !h.Balance.IsPositive() {
			continue
		}
		out = append(out, outbox.Notify(h.HolderID, "proposal_created", "New proposal: "+p.Title,
			fmt.Sprintf("Voting is open until %s.", p.VotingEnd.Format("2006-01-02 15:04 MST")), outbox.SubjectProposal, p.ID))
	}
	return out
}

// CastVote records actor's ballot with their current balance as voting power.
func (s *Service) CastVote(ctx context.Context, actor string, proposalID uint, choice string) (*models.Vote, *models.GovernanceProposal, error) {
	choice = strings.ToLower(strings.TrimSpace(choice))
	switch choice {
	case models.VoteFor, models.VoteAgainst, models.VoteAbstain:
	default:
		return nil, nil, errs.Validation("choice must be for, against or abstain, got %q", choice)
	}

	p, err := s.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	if !p.IsOpen(now) {
		return nil, nil, errs.VotingNotActive(p.ID, closedReason(p, now))
	}
	power, err := s.votingPower(ctx, p.TokenizationID, actor)
	if err != nil {
		return nil, nil, err
	}

	v := &models.Vote{ProposalID: p.ID, VoterID: actor, Choice: choice, VotingPower: power, CastAt: now}
	out := []models.OutboxMessage{outbox.Notarize(outbox.SubjectProposal, p.ID, p.LedgerTopicID, "vote:"+actor, map[string]interface{}{
		"voter":  actor,
		"choice": choice,
		"power":  power.String(),
	})}
	updated, err := s.store.CastVote(ctx, v, out)
	if err != nil {
		return nil, nil, err
	}
	s.log.Infof("> proposal %d: %s voted %s with %s", p.ID, actor, choice, power.String())
	return v, updated, nil
}

// GetProposal returns the proposal, resolving it first when its window has closed.
func (s *Service) GetProposal(ctx context.Context, id uint) (*models.GovernanceProposal, error) {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == models.ProposalActive && s.now().After(p.VotingEnd) {
		return s.resolve(ctx, p)
	}
	return p, nil
}

// Resolve closes a proposal whose voting window has ended. Resolving an
// already resolved proposal returns it unchanged.
func (s *Service) Resolve(ctx context.Context, id uint) (*models.GovernanceProposal, error) {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != models.ProposalActive {
		return p, nil
	}
	if !s.now().After(p.VotingEnd) {
		return nil, errs.InvalidState("proposal %d is open for voting until %s", p.ID, p.VotingEnd.Format(time.RFC3339))
	}
	return s.resolve(ctx, p)
}

// ResolveDue resolves every active proposal past its window. It returns the
// number resolved; individual failures are logged and retried next sweep.
func (s *Service) ResolveDue(ctx context.Context) (int, error) {
	due, err := s.store.DueProposals(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("load due proposals: %w", err)
	}
	resolved := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.resolve(ctx, &due[i]); err != nil {
			s.log.WithError(err).Errorf("> resolve proposal %d", due[i].ID)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (s *Service) resolve(ctx context.Context, p *models.GovernanceProposal) (*models.GovernanceProposal, error) {
	holdings, err := s.store.Holdings(ctx, p.TokenizationID)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	outstanding := decimal.Zero
	for _, h := range holdings {
		if h.Balance.IsPositive() {
			outstanding = outstanding.Add(h.Balance)
		}
	}

	now := s.now()
	tally := TallyOf(*p, outstanding)
	resolved := *p
	resolved.Status = tally.Outcome(p.Budget)
	resolved.OutstandingSupply = outstanding
	resolved.TotalVotesCast = tally.Total()
	resolved.ResolvedAt = &now

	ok, err := s.store.ResolveProposal(ctx, &resolved, ResolvedOutbox(&resolved, holdings))
	if err != nil {
		return nil, fmt.Errorf("resolve proposal %d: %w", p.ID, err)
	}
	if !ok {
		return s.store.GetProposal(ctx, p.ID)
	}
	s.log.WithFields(logrus.Fields{
		"proposal_id": p.ID,
		"status":      resolved.Status,
		"for":         tally.For.String(),
		"against":     tally.Against.String(),
		"abstain":     tally.Abstain.String(),
		"outstanding": outstanding.String(),
	}).Info("> proposal resolved")
	return &resolved, nil
}

// ResolvedOutbox lists the side effects of resolving p.
func ResolvedOutbox(p *models.GovernanceProposal, holders []models.TokenHolding) []models.OutboxMessage {
	out := []models.OutboxMessage{outbox.Notarize(outbox.SubjectProposal, p.ID, p.LedgerTopicID, "resolved", map[string]interface{}{
		"status":      p.Status,
		"for":         p.VotesFor.String(),
		"against":     p.VotesAgainst.String(),
		"abstain":     p.VotesAbstain.String(),
		"outstanding": p.OutstandingSupply.String(),
	})}
	body := fmt.Sprintf("Proposal %q closed as %s.", p.Title, strings.ReplaceAll(p.Status, "_", " "))
	for _, h := range holders {
		if !h.Balance.IsPositive() {
			continue
		}
		out = append(out, outbox.Notify(h.HolderID, "proposal_resolved", "Proposal "+p.Status, body, outbox.SubjectProposal, p.ID))
	}
	return out
}

// ListProposals pages a tokenization's proposals, optionally by status.
func (s *Service) ListProposals(ctx context.Context, tokenizationID uint, status string, limit, offset int) ([]models.GovernanceProposal, int64, error) {
	return s.store.ListProposals(ctx, tokenizationID, status, limit, offset)
}

// ListVotes returns the ballots cast on a proposal.
func (s *Service) ListVotes(ctx context.Context, proposalID uint) ([]models.Vote, error) {
	if _, err := s.store.GetProposal(ctx, proposalID); err != nil {
		return nil, err
	}
	return s.store.ListVotes(ctx, proposalID)
}

func (s *Service) votingPower(ctx context.Context, tokenizationID uint, actor string) (decimal.Decimal, error) {
	h, err := s.store.Holding(ctx, tokenizationID, actor)
	if errors.Is(err, errs.ErrNotFound) {
		return decimal.Zero, errs.NotEligible("%s holds no tokens of tokenization %d", actor, tokenizationID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !h.Balance.IsPositive() {
		return decimal.Zero, errs.NotEligible("%s holds no tokens of tokenization %d", actor, tokenizationID)
	}
	return h.Balance, nil
}

func closedReason(p *models.GovernanceProposal, now time.Time) string {
	switch {
	case p.Status != models.ProposalActive:
		return "proposal is " + p.Status
	case now.Before(p.VotingStart):
		return "voting has not started"
	}
	return "voting ended at " + p.VotingEnd.Format(time.RFC3339)
}

func validateInput(in *ProposalInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.ProposalType = strings.TrimSpace(in.ProposalType)
	switch {
	case in.Title == "" || len(in.Title) > 200:
		return errs.Validation("title must be 1-200 characters")
	case in.ProposalType == "" || len(in.ProposalType) > 32:
		return errs.Validation("proposal_type must be 1-32 characters")
	case in.Budget.IsNegative():
		return errs.Validation("budget must not be negative")
	case in.VotingDays < 0 || time.Duration(in.VotingDays)*24*time.Hour > MaxVotingPeriod:
		return errs.Validation("voting_days must be between 1 and %d", int(MaxVotingPeriod.Hours()/24))
	}
	for name, f := range map[string]decimal.NullDecimal{"quorum": in.Quorum, "threshold": in.Threshold} {
		if f.Valid && (!f.Decimal.IsPositive() || f.Decimal.GreaterThan(decimal.NewFromInt(1))) {
			return errs.Validation("%s must be in (0, 1], got %s", name, f.Decimal)
		}
	}
	return nil
}
