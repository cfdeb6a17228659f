package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"example.com/blocktix/internal/clock"
	"example.com/blocktix/internal/messaging"
	"example.com/blocktix/internal/metrics"
	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/notify"
	"example.com/blocktix/internal/repositories"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	orderIDAttempts = 3
	publishTimeout  = 5 * time.Second
)

// PurchaseRequest buys Quantity tickets for Wallet
type PurchaseRequest struct {
	EventID      string
	Wallet       string
	Quantity     int
	Price        *float64
	CategoryName string
}

// PurchaseResult identifies a committed purchase
type PurchaseResult struct {
	OrderID     string
	TotalAmount float64
	Entry       *models.LedgerEntry
}

// ResellRequest records a secondary sale between two participants
type ResellRequest struct {
	EventID      string
	Seller       string
	Buyer        string
	Price        *float64
	CategoryName string
}

// TransferRequest records a free change of ownership
type TransferRequest struct {
	EventID string
	From    string
	To      string
}

// LedgerService owns purchases, resales and transfers and the ledger they append to
type LedgerService struct {
	events    repositories.EventRepository
	ledger    repositories.LedgerRepository
	access    *AccessFilter
	rules     *RuleEvaluator
	notifier  notify.Notifier
	publisher messaging.LedgerPublisher
	metrics   *metrics.Metrics
	clock     clock.Clock
}

// NewLedgerService creates a new ledger service. A nil publisher disables
// fan-out and a nil notifier disables receipts.
func NewLedgerService(
	events repositories.EventRepository,
	ledger repositories.LedgerRepository,
	access *AccessFilter,
	rules *RuleEvaluator,
	notifier notify.Notifier,
	publisher messaging.LedgerPublisher,
	m *metrics.Metrics,
	clk clock.Clock,
) *LedgerService {
	if notifier == nil {
		notifier = notify.Disabled{}
	}
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &LedgerService{
		events:    events,
		ledger:    ledger,
		access:    access,
		rules:     rules,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		clock:     clk,
	}
}

// Purchase sells new inventory. Availability is decremented and the ledger
// entry appended atomically by the store, so concurrent buyers can never
// oversell a category.
func (s *LedgerService) Purchase(ctx context.Context, req PurchaseRequest) (result *PurchaseResult, err error) {
	defer newrelic.FromContext(ctx).StartSegment("LedgerService/Purchase").End()
	start := s.clock.Now()
	defer func() {
		s.metrics.RecordTimer(metrics.OpPurchase, s.clock.Now().Sub(start).Milliseconds())
		s.metrics.RecordOutcome(metrics.OpPurchase, err)
	}()

	req.EventID = strings.TrimSpace(req.EventID)
	req.Wallet = NormalizeParticipant(req.Wallet)
	req.CategoryName = strings.TrimSpace(req.CategoryName)
	if req.EventID == "" || req.Wallet == "" || req.Quantity < 1 {
		return nil, Validation("Missing required fields")
	}

	decision, err := s.access.CheckAccess(ctx, req.Wallet)
	if err != nil {
		return nil, err
	}
	if err := purchaseAccessError(decision); err != nil {
		return nil, err
	}

	ev, err := s.loadEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if !ev.IsLive() {
		return nil, Validation("Event not live")
	}

	unitPrice, categoryName, err := resolvePurchaseTier(ev, req)
	if err != nil {
		return nil, err
	}

	rule, err := s.rules.GetRules(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if EffectiveCap(rule) > 0 {
		prior, err := s.ledger.SumPurchasedQuantity(ctx, ev.ID, req.Wallet)
		if err != nil {
			return nil, errors.Wrap(err, "failed to sum prior purchases")
		}
		if err := s.rules.CheckPurchaseCap(rule, prior, req.Quantity); err != nil {
			return nil, err
		}
	}

	total := roundCents(unitPrice * float64(req.Quantity))
	entry := &models.LedgerEntry{
		Type:     models.LedgerPurchase,
		EventID:  ev.ID,
		To:       req.Wallet,
		Amount:   &total,
		Quantity: req.Quantity,
	}
	switch {
	case categoryName != "":
		entry.CategoryName = &categoryName
	case req.CategoryName != "":
		// flat events record the label as given; it does not select inventory
		label := req.CategoryName
		entry.CategoryName = &label
	}

	if err := s.commitPurchase(ctx, ev, categoryName, entry); err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(metrics.PurchasesCompleted)
	s.metrics.IncrementCounterBy(metrics.TicketsSold, int64(req.Quantity))
	log.Info().
		Str("order_id", *entry.OrderID).
		Str("event_id", ev.ID).
		Str("category", categoryName).
		Int("quantity", req.Quantity).
		Float64("amount", total).
		Msg("Purchase committed")

	s.sendReceipt(ctx, ev, entry)
	s.publish(ctx, entry)

	return &PurchaseResult{OrderID: *entry.OrderID, TotalAmount: total, Entry: entry}, nil
}

// resolvePurchaseTier picks the unit price and, for categorized events, the
// canonical category name, checking the availability seen at read time.
func resolvePurchaseTier(ev *models.Event, req PurchaseRequest) (float64, string, error) {
	if !ev.HasCategories() {
		if ev.AvailableTickets < req.Quantity {
			return 0, "", Validation("Not enough tickets available")
		}
		if req.Price != nil {
			return *req.Price, "", nil
		}
		return ev.Price, "", nil
	}

	if req.CategoryName == "" {
		return 0, "", Validation("categoryName required")
	}
	cat := ev.FindCategory(req.CategoryName)
	if cat == nil {
		return 0, "", Validation("Category not found")
	}
	if cat.Available < req.Quantity {
		return 0, "", Validation("Not enough category tickets available")
	}
	if req.Price != nil {
		return *req.Price, cat.Name, nil
	}
	return cat.Price, cat.Name, nil
}

func (s *LedgerService) commitPurchase(ctx context.Context, ev *models.Event, categoryName string, entry *models.LedgerEntry) error {
	for attempt := 1; ; attempt++ {
		orderID := s.newOrderID()
		entry.ID = uuid.NewString()
		entry.OrderID = &orderID
		entry.Timestamp = s.clock.Now()

		err := s.ledger.CommitPurchase(ctx, repositories.PurchaseCommit{
			EventID:      ev.ID,
			CategoryName: categoryName,
			Quantity:     entry.Quantity,
			Entry:        entry,
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repositories.ErrDuplicateKey) && attempt < orderIDAttempts:
			log.Warn().Str("order_id", orderID).Msg("Order id collision, retrying")
		case errors.Is(err, repositories.ErrInsufficientInventory):
			if categoryName != "" {
				return Validation("Not enough category tickets available")
			}
			return Validation("Not enough tickets available")
		case errors.Is(err, repositories.ErrNotFound):
			return NotFound("Event not found")
		default:
			return errors.Wrap(err, "failed to commit purchase")
		}
	}
}

func (s *LedgerService) newOrderID() string {
	return fmt.Sprintf("ORD-%d-%s", s.clock.Now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

func (s *LedgerService) sendReceipt(ctx context.Context, ev *models.Event, entry *models.LedgerEntry) {
	if !s.notifier.Configured() {
		log.Warn().Str("order_id", *entry.OrderID).Msg("SMTP not configured: skipping ticket email")
		return
	}

	receipt := notify.TicketReceipt{
		Title:       ev.Title,
		Date:        ev.Date,
		Location:    ev.Location,
		Quantity:    entry.Quantity,
		OrderID:     *entry.OrderID,
		TotalAmount: *entry.Amount,
	}
	if entry.CategoryName != nil {
		receipt.CategoryName = *entry.CategoryName
	}

	if err := s.notifier.SendTicketReceipt(ctx, entry.To, receipt); err != nil {
		s.metrics.IncrementCounter(metrics.ReceiptEmailsFailed)
		log.Warn().Err(err).Str("order_id", *entry.OrderID).Msg("Ticket email failed")
	}
}

func (s *LedgerService) publish(ctx context.Context, entry *models.LedgerEntry) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.publisher.PublishLedgerEntry(ctx, entry); err != nil {
		s.metrics.IncrementCounter(metrics.LedgerPublishFailed)
		log.Warn().Err(err).Str("entry_id", entry.ID).Msg("Failed to publish ledger entry")
	}
}

// Resell records a resale of an already sold ticket. Availability is not touched.
func (s *LedgerService) Resell(ctx context.Context, req ResellRequest) (entry *models.LedgerEntry, err error) {
	defer newrelic.FromContext(ctx).StartSegment("LedgerService/Resell").End()
	defer func() { s.metrics.RecordOutcome(metrics.OpResell, err) }()

	req.EventID = strings.TrimSpace(req.EventID)
	req.Seller = NormalizeParticipant(req.Seller)
	req.Buyer = NormalizeParticipant(req.Buyer)
	req.CategoryName = strings.TrimSpace(req.CategoryName)
	if req.EventID == "" || req.Seller == "" || req.Buyer == "" || req.Price == nil {
		return nil, Validation("Missing fields")
	}

	if err := s.checkParties(ctx, req.Seller, req.Buyer); err != nil {
		return nil, err
	}

	ev, err := s.loadEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	rule, err := s.rules.GetRules(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if !rule.AllowResale {
		return nil, Validation("Resale disabled")
	}

	basePrice := ev.Price
	categoryName := req.CategoryName
	if categoryName != "" && ev.HasCategories() {
		cat := ev.FindCategory(categoryName)
		if cat == nil {
			return nil, Validation("Category not found")
		}
		basePrice = cat.Price
		categoryName = cat.Name
	}

	if err := s.rules.CheckResalePrice(rule, basePrice, *req.Price); err != nil {
		return nil, err
	}

	price := *req.Price
	seller := req.Seller
	entry = &models.LedgerEntry{
		ID:        uuid.NewString(),
		Type:      models.LedgerResell,
		EventID:   ev.ID,
		From:      &seller,
		To:        req.Buyer,
		Amount:    &price,
		Timestamp: s.clock.Now(),
	}
	if categoryName != "" {
		entry.CategoryName = &categoryName
	}

	if err := s.ledger.AppendLedger(ctx, entry); err != nil {
		return nil, errors.Wrap(err, "failed to record resale")
	}

	s.metrics.IncrementCounter(metrics.ResalesRecorded)
	log.Info().Str("entry_id", entry.ID).Str("event_id", ev.ID).Float64("price", price).Msg("Resale recorded")
	s.publish(ctx, entry)
	return entry, nil
}

// Transfer records a change of ownership without payment
func (s *LedgerService) Transfer(ctx context.Context, req TransferRequest) (entry *models.LedgerEntry, err error) {
	defer newrelic.FromContext(ctx).StartSegment("LedgerService/Transfer").End()
	defer func() { s.metrics.RecordOutcome(metrics.OpTransfer, err) }()

	req.EventID = strings.TrimSpace(req.EventID)
	req.From = NormalizeParticipant(req.From)
	req.To = NormalizeParticipant(req.To)
	if req.EventID == "" || req.From == "" || req.To == "" {
		return nil, Validation("Missing fields")
	}

	if err := s.checkParties(ctx, req.From, req.To); err != nil {
		return nil, err
	}

	rule, err := s.rules.GetRules(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if err := s.rules.CheckTransfer(rule); err != nil {
		return nil, err
	}

	from := req.From
	entry = &models.LedgerEntry{
		ID:        uuid.NewString(),
		Type:      models.LedgerTransfer,
		EventID:   req.EventID,
		From:      &from,
		To:        req.To,
		Timestamp: s.clock.Now(),
	}
	if err := s.ledger.AppendLedger(ctx, entry); err != nil {
		return nil, errors.Wrap(err, "failed to record transfer")
	}

	s.metrics.IncrementCounter(metrics.TransfersRecorded)
	log.Info().Str("entry_id", entry.ID).Str("event_id", req.EventID).Msg("Transfer recorded")
	s.publish(ctx, entry)
	return entry, nil
}

// checkParties rejects the operation when either side is blacklisted, then
// when either side fails an enforced whitelist.
func (s *LedgerService) checkParties(ctx context.Context, a, b string) error {
	first, err := s.access.CheckAccess(ctx, a)
	if err != nil {
		return err
	}
	second, err := s.access.CheckAccess(ctx, b)
	if err != nil {
		return err
	}
	if first == AccessBlacklisted || second == AccessBlacklisted {
		return partyAccessError(AccessBlacklisted)
	}
	if first != AccessAllowed {
		return partyAccessError(first)
	}
	return partyAccessError(second)
}

// OrdersByParticipant lists a participant's purchases, newest first
func (s *LedgerService) OrdersByParticipant(ctx context.Context, email string) ([]models.LedgerEntry, error) {
	email = NormalizeParticipant(email)
	if email == "" {
		return nil, Validation("email query param required")
	}
	entries, err := s.ledger.ListPurchasesByParticipant(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list orders")
	}
	return entries, nil
}

// OrderByID returns the purchase entry with orderID
func (s *LedgerService) OrderByID(ctx context.Context, orderID string) (*models.LedgerEntry, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, NotFound("Order not found")
	}
	entry, err := s.ledger.GetLedgerByOrderID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, NotFound("Order not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load order")
	}
	return entry, nil
}

func (s *LedgerService) loadEvent(ctx context.Context, id string) (*models.Event, error) {
	ev, err := s.events.GetEvent(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, NotFound("Event not found")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load event %s", id)
	}
	return ev, nil
}
