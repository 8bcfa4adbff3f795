package leads

import (
	"context"
	"fmt"
	"strings"
)

// Service wraps lead business rules.
type Service struct {
	repo Repository
}

// NewService constructs a new Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Create stores a new lead in the intake state.
func (s *Service) Create(ctx context.Context, orgID int64, in CreateInput) (*Lead, error) {
	lead := &Lead{
		OrgID:  orgID,
		Name:   strings.TrimSpace(in.Name),
		Email:  strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:  strings.TrimSpace(in.Phone),
		Source: strings.TrimSpace(in.Source),
		Status: StatusNew,
		Notes:  in.Notes,
	}
	if err := s.repo.Create(ctx, lead); err != nil {
		return nil, fmt.Errorf("leads: create: %w", err)
	}
	return lead, nil
}

// Update applies the non-nil fields of in to an existing lead.
func (s *Service) Update(ctx context.Context, orgID, id int64, in UpdateInput) (*Lead, error) {
	lead, err := s.repo.FindByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		lead.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		lead.Email = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Phone != nil {
		lead.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Status != nil {
		lead.Status = *in.Status
	}
	if in.Notes != nil {
		lead.Notes = *in.Notes
	}
	if err := s.repo.Update(ctx, lead); err != nil {
		return nil, fmt.Errorf("leads: update %d: %w", id, err)
	}
	return lead, nil
}

// Get returns one lead scoped to the organisation.
func (s *Service) Get(ctx context.Context, orgID, id int64) (*Lead, error) {
	return s.repo.FindByID(ctx, orgID, id)
}

// List returns leads for the organisation.
func (s *Service) List(ctx context.Context, orgID int64, filter ListFilter) ([]Lead, error) {
	return s.repo.List(ctx, orgID, filter)
}

// Score recomputes and persists the lead quality score.
func (s *Service) Score(ctx context.Context, orgID, id int64) (*Lead, error) {
	lead, err := s.repo.FindByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	lead.Score = ScoreLead(lead)
	if err := s.repo.Update(ctx, lead); err != nil {
		return nil, fmt.Errorf("leads: score %d: %w", id, err)
	}
	return lead, nil
}

// Import inserts a batch of leads, skipping rows without a name.
func (s *Service) Import(ctx context.Context, orgID int64, rows []CreateInput) (int64, error) {
	batch := make([]Lead, 0, len(rows))
	for _, in := range rows {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			continue
		}
		batch = append(batch, Lead{
			OrgID:  orgID,
			Name:   name,
			Email:  strings.ToLower(strings.TrimSpace(in.Email)),
			Phone:  strings.TrimSpace(in.Phone),
			Source: strings.TrimSpace(in.Source),
			Status: StatusNew,
			Notes:  in.Notes,
		})
	}
	n, err := s.repo.BulkInsert(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("leads: import: %w", err)
	}
	return n, nil
}

// sourceWeights favours inbound channels over cold outreach.
var sourceWeights = map[string]int{
	"referral": 25,
	"website":  20,
	"organic":  15,
	"event":    10,
	"paid":     10,
	"cold":     0,
}

// ScoreLead computes a 0-100 quality score from contactability and channel.
func ScoreLead(lead *Lead) int {
	score := 20
	if lead.Email != "" {
		score += 20
		if !strings.HasSuffix(lead.Email, "@gmail.com") && !strings.HasSuffix(lead.Email, "@yahoo.com") {
			// Business domains convert better than free mail.
			score += 10
		}
	}
	if lead.Phone != "" {
		score += 15
	}
	score += sourceWeights[strings.ToLower(lead.Source)]
	if len(lead.Notes) > 80 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
