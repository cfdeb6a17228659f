package services

import (
	"context"
	"strings"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ContactRequest is a contact form submission
type ContactRequest struct {
	Name    string
	Email   string
	Subject string
	Message string
}

// ContactService stores contact form submissions
type ContactService struct {
	accounts repositories.AccountRepository
	clock    clock.Clock
}

// NewContactService creates a new contact service
func NewContactService(accounts repositories.AccountRepository, clk clock.Clock) *ContactService {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &ContactService{accounts: accounts, clock: clk}
}

// Submit stores the form
func (s *ContactService) Submit(ctx context.Context, req ContactRequest) (*models.ContactSubmission, error) {
	submission := &models.ContactSubmission{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Email:       strings.TrimSpace(req.Email),
		Subject:     strings.TrimSpace(req.Subject),
		Message:     strings.TrimSpace(req.Message),
		SubmittedAt: s.clock.Now(),
	}
	if submission.Name == "" || submission.Email == "" || submission.Message == "" {
		return nil, Validation("Missing required fields")
	}

	if err := s.accounts.CreateContactSubmission(ctx, submission); err != nil {
		return nil, errors.Wrap(err, "failed to store contact submission")
	}

	log.Info().Str("submission_id", submission.ID).Msg("Contact form submitted")
	return submission, nil
}
