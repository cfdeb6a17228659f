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

// AccessDecision is the outcome of an access list check
type AccessDecision int

const (
	AccessAllowed AccessDecision = iota
	AccessBlacklisted
	AccessNotWhitelisted
)

// NormalizeParticipant is the canonical form of a wallet or email identifier
func NormalizeParticipant(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// AccessFilter checks participants against the blacklist and whitelist
type AccessFilter struct {
	lists repositories.AccessListRepository
	clock clock.Clock
}

// NewAccessFilter creates a new access filter
func NewAccessFilter(lists repositories.AccessListRepository, clk clock.Clock) *AccessFilter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &AccessFilter{lists: lists, clock: clk}
}

// CheckAccess applies the blacklist first, then the whitelist when at least
// one whitelist exists.
func (f *AccessFilter) CheckAccess(ctx context.Context, participant string) (AccessDecision, error) {
	participant = NormalizeParticipant(participant)

	blacklisted, err := f.lists.IsListed(ctx, models.Blacklist, participant)
	if err != nil {
		return AccessAllowed, errors.Wrap(err, "failed to check blacklist")
	}
	if blacklisted {
		return AccessBlacklisted, nil
	}

	enforced, err := f.lists.HasAccessList(ctx, models.Whitelist)
	if err != nil {
		return AccessAllowed, errors.Wrap(err, "failed to check for whitelists")
	}
	if !enforced {
		return AccessAllowed, nil
	}

	whitelisted, err := f.lists.IsListed(ctx, models.Whitelist, participant)
	if err != nil {
		return AccessAllowed, errors.Wrap(err, "failed to check whitelist")
	}
	if !whitelisted {
		return AccessNotWhitelisted, nil
	}
	return AccessAllowed, nil
}

// IsAuthorized reports whether participant passes both lists
func (f *AccessFilter) IsAuthorized(ctx context.Context, participant string) (bool, error) {
	decision, err := f.CheckAccess(ctx, participant)
	return decision == AccessAllowed, err
}

// AddList stores a new whitelist or blacklist batch. Identifiers are
// normalized and blank entries dropped.
func (f *AccessFilter) AddList(ctx context.Context, kind models.AccessListKind, wallets []string) (*models.AccessList, error) {
	normalized := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if w = NormalizeParticipant(w); w != "" {
			normalized = append(normalized, w)
		}
	}

	list := &models.AccessList{
		ID:        uuid.NewString(),
		Kind:      kind,
		Wallets:   normalized,
		CreatedAt: f.clock.Now(),
	}
	if err := f.lists.AddAccessList(ctx, list); err != nil {
		return nil, errors.Wrapf(err, "failed to store %s", kind)
	}

	log.Info().Str("list_id", list.ID).Str("kind", string(kind)).Int("wallets", len(normalized)).Msg("Access list stored")
	return list, nil
}

// purchaseAccessError maps a decision to the purchase endpoint's messages
func purchaseAccessError(d AccessDecision) error {
	switch d {
	case AccessBlacklisted:
		return Forbidden("Wallet blacklisted")
	case AccessNotWhitelisted:
		return Forbidden("Wallet not whitelisted")
	}
	return nil
}

// partyAccessError maps a decision to the resale and transfer messages
func partyAccessError(d AccessDecision) error {
	switch d {
	case AccessBlacklisted:
		return Forbidden("Blacklisted wallet")
	case AccessNotWhitelisted:
		return Forbidden("Not whitelisted")
	}
	return nil
}
