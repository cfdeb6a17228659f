package services

import (
	"context"
	"math"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/repositories"

	"github.com/pkg/errors"
)

// RuleUpdate carries the admin-editable rule fields; nil fields take defaults
type RuleUpdate struct {
	AllowResale              *bool    `json:"allowResale"`
	AllowTransfer            *bool    `json:"allowTransfer"`
	MaxResalePriceMultiplier *float64 `json:"maxResalePriceMultiplier" binding:"omitempty,gt=0"`
	MaxTicketsPerWallet      *int     `json:"maxTicketsPerWallet" binding:"omitempty,gte=0"`
	SingleUse                *bool    `json:"singleUse"`
	MinAge                   *int     `json:"minAge" binding:"omitempty,gte=0"`
	RefundUntil              *string  `json:"refundUntil"`
}

// RuleEvaluator loads per-event rule sets and decides whether an operation may proceed
type RuleEvaluator struct {
	rules repositories.RuleRepository
	clock clock.Clock
}

// NewRuleEvaluator creates a new rule evaluator
func NewRuleEvaluator(rules repositories.RuleRepository, clk clock.Clock) *RuleEvaluator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &RuleEvaluator{rules: rules, clock: clk}
}

// GetRules returns the event's rule set, or the permissive defaults when none is stored
func (r *RuleEvaluator) GetRules(ctx context.Context, eventID string) (models.ResaleRule, error) {
	rule, err := r.rules.GetRule(ctx, eventID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.DefaultResaleRule(eventID), nil
	}
	if err != nil {
		return models.ResaleRule{}, errors.Wrapf(err, "failed to load rules for event %s", eventID)
	}
	return *rule, nil
}

// SetRules replaces the event's rule set
func (r *RuleEvaluator) SetRules(ctx context.Context, eventID string, update RuleUpdate) (*models.ResaleRule, error) {
	rule := models.DefaultResaleRule(eventID)
	if update.AllowResale != nil {
		rule.AllowResale = *update.AllowResale
	}
	if update.AllowTransfer != nil {
		rule.AllowTransfer = *update.AllowTransfer
	}
	if update.MaxResalePriceMultiplier != nil {
		rule.MaxResalePriceMultiplier = *update.MaxResalePriceMultiplier
	}
	if update.SingleUse != nil {
		rule.SingleUse = *update.SingleUse
	}
	rule.MaxTicketsPerWallet = update.MaxTicketsPerWallet
	rule.MinAge = update.MinAge
	rule.RefundUntil = update.RefundUntil
	rule.UpdatedAt = r.clock.Now()

	if err := r.rules.SaveRule(ctx, &rule); err != nil {
		return nil, errors.Wrapf(err, "failed to save rules for event %s", eventID)
	}
	return &rule, nil
}

// SaveRule stores a complete rule set as is
func (r *RuleEvaluator) SaveRule(ctx context.Context, rule *models.ResaleRule) error {
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = r.clock.Now()
	}
	return r.rules.SaveRule(ctx, rule)
}

// EffectiveCap is the per-participant limit for the event; zero means unlimited
func EffectiveCap(rule models.ResaleRule) int {
	if rule.SingleUse {
		return 1
	}
	if rule.MaxTicketsPerWallet != nil && *rule.MaxTicketsPerWallet > 0 {
		return *rule.MaxTicketsPerWallet
	}
	return 0
}

// CheckPurchaseCap rejects a purchase that would take the participant past the cap.
// A single-use event never sells more than one pass per request.
func (r *RuleEvaluator) CheckPurchaseCap(rule models.ResaleRule, prior, requested int) error {
	if rule.SingleUse && requested > 1 {
		return Validation("Only one pass allowed per user")
	}
	limit := EffectiveCap(rule)
	if limit > 0 && prior+requested > limit {
		return Validation("Limit exceeded: max %d per user", limit)
	}
	return nil
}

// MaxResalePrice is the highest price a ticket with basePrice may be resold for
func MaxResalePrice(rule models.ResaleRule, basePrice float64) float64 {
	multiplier := rule.MaxResalePriceMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	return roundCents(basePrice * multiplier)
}

// CheckResalePrice rejects resales that are disabled or priced above the ceiling
func (r *RuleEvaluator) CheckResalePrice(rule models.ResaleRule, basePrice, askedPrice float64) error {
	if !rule.AllowResale {
		return Validation("Resale disabled")
	}
	if roundCents(askedPrice) > MaxResalePrice(rule, basePrice) {
		return Validation("Price exceeds allowed maximum")
	}
	return nil
}

// CheckTransfer rejects transfers on events that disallow them
func (r *RuleEvaluator) CheckTransfer(rule models.ResaleRule) error {
	if !rule.AllowTransfer {
		return Validation("Transfer disabled")
	}
	return nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
