package rfq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"marketplace/models"

	"github.com/shopspring/decimal"
)

type Storage interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
	CreateRFQ(ctx context.Context, r *models.RFQ) error
	GetRFQ(ctx context.Context, id int) (*models.RFQ, error)
	UpdateRFQStatus(ctx context.Context, r *models.RFQ) error
	CreateOffer(ctx context.Context, o *models.Offer) error
	GetOffer(ctx context.Context, id int) (*models.Offer, error)
	SetOfferStatus(ctx context.Context, offerID int, status string) error
	AcceptOffer(ctx context.Context, r *models.RFQ, offerID int, o *models.Order, entries []*models.LedgerEntry) error
	CompleteRFQWithOrder(ctx context.Context, r *models.RFQ, o *models.Order, entries []*models.LedgerEntry) error
	ListExpiredRFQs(ctx context.Context, now time.Time) ([]models.RFQ, error)
}

// OrderPlacer validates and prices the order spawned by a finished
// negotiation. The storage then persists it atomically with the RFQ hop, so
// a failed placement never strands a half-accepted RFQ.
type OrderPlacer interface {
	Build(ctx context.Context, o *models.Order) ([]*models.LedgerEntry, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int, eventType, priority string, payload map[string]any)
}

type Engine struct {
	store    Storage
	orders   OrderPlacer
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Storage, orders OrderPlacer, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		orders:   orders,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create stores a new RFQ in Draft. The deadline must already be in the
// future here; it is immutable afterwards.
func (e *Engine) Create(ctx context.Context, r *models.RFQ) error {
	if !r.Deadline.After(e.now()) {
		return models.Errf(models.CodeDeadlinePassed, "rfq deadline must be in the future")
	}
	if r.ProformaRequired && r.DepositPercent <= 0 {
		return models.Errf(models.CodeValidation, "proforma flow requires a deposit percent")
	}
	if _, err := e.store.GetUser(ctx, r.BuyerID); err != nil {
		return err
	}
	r.Status = models.RFQDraft
	return e.store.CreateRFQ(ctx, r)
}

func (e *Engine) Get(ctx context.Context, rfqID int) (*models.RFQ, error) {
	return e.store.GetRFQ(ctx, rfqID)
}

func (e *Engine) Publish(ctx context.Context, rfqID, actorID int) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if actorID != r.BuyerID {
		return nil, models.ErrForbidden
	}
	if !r.Deadline.After(e.now()) {
		return nil, models.ErrDeadlinePassed
	}
	return e.advance(ctx, r, models.RFQPublished, "rfq.published")
}

// SubmitOffer records a seller offer while the RFQ is open and before its
// deadline; the first offer moves the RFQ to OffersReceived.
func (e *Engine) SubmitOffer(ctx context.Context, rfqID, sellerID int, offer *models.Offer) (*models.Offer, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if models.RFQTerminal(r.Status) {
		return nil, models.ErrAlreadyFinal
	}
	if !models.RFQOpenForOffers(r.Status) {
		return nil, models.Errf(models.CodeInvalidTransition, "rfq %d is not accepting offers", rfqID)
	}
	if !r.Deadline.After(e.now()) {
		return nil, models.ErrDeadlinePassed
	}
	seller, err := e.store.GetUser(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if seller.Role != "seller" || !seller.Active {
		return nil, models.Errf(models.CodeForbidden, "user %d is not an active seller", sellerID)
	}
	if offer.Price.LessThanOrEqual(decimal.Zero) {
		return nil, models.Errf(models.CodeValidation, "offer price must be positive")
	}

	offer.RFQID = rfqID
	offer.SellerID = sellerID
	offer.Status = models.OfferActive
	if err := e.store.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	if r.Status == models.RFQPublished {
		r.Status = models.RFQOffersReceived
		if err := e.store.UpdateRFQStatus(ctx, r); err != nil && !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}
		// A concurrent first offer losing this CAS is fine: the RFQ is
		// already in OffersReceived.
	}

	e.notifier.Notify(ctx, r.BuyerID, "rfq.offer_submitted", models.PriorityNormal, map[string]any{
		"rfqId":   rfqID,
		"offerId": offer.ID,
		"price":   offer.Price.String(),
	})
	return offer, nil
}

// WithdrawOffer frees the seller's one-active-offer slot on the RFQ.
func (e *Engine) WithdrawOffer(ctx context.Context, rfqID, offerID, sellerID int) error {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return err
	}
	if models.RFQTerminal(r.Status) {
		return models.ErrAlreadyFinal
	}
	if !models.RFQOpenForOffers(r.Status) {
		return models.Errf(models.CodeInvalidTransition, "rfq %d is no longer accepting offer changes", rfqID)
	}
	offer, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.RFQID != rfqID {
		return models.ErrNotFound
	}
	if offer.SellerID != sellerID {
		return models.ErrForbidden
	}
	if offer.Status != models.OfferActive {
		return models.ErrAlreadyFinal
	}
	return e.store.SetOfferStatus(ctx, offerID, models.OfferWithdrawn)
}

// AcceptOffer is the buyer's explicit choice; there is no automatic
// lowest-price selection. All other active offers are demoted in the same
// transaction, and concurrent acceptances resolve to exactly one winner via
// the version CAS.
func (e *Engine) AcceptOffer(ctx context.Context, rfqID, offerID, actorID int) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if actorID != r.BuyerID {
		return nil, models.ErrForbidden
	}
	if models.RFQTerminal(r.Status) {
		return nil, models.ErrAlreadyFinal
	}
	if !models.CanRFQTransition(r.Status, models.RFQAccepted) {
		return nil, models.Errf(models.CodeInvalidTransition, "cannot accept offers on rfq in status %s", r.Status)
	}
	if !r.Deadline.After(e.now()) {
		return nil, models.ErrDeadlinePassed
	}
	offer, err := e.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.RFQID != rfqID {
		return nil, models.ErrNotFound
	}
	if offer.Status != models.OfferActive {
		return nil, models.Errf(models.CodeInvalidTransition, "offer %d is not active", offerID)
	}

	// Acceptance and its follow-up hop commit as one storage unit: Accepted
	// is passed through without a separate write, so a failure leaves the RFQ
	// exactly as it was.
	if r.ProformaRequired {
		// The flow pauses here for the seller-issued proforma.
		r.Status = models.RFQProformaSent
		if err := e.store.AcceptOffer(ctx, r, offerID, nil, nil); err != nil {
			return nil, err
		}
		e.logger.Info("rfq accepted", "rfq_id", rfqID, "offer_id", offerID, "price", offer.Price.String())
		e.notifier.Notify(ctx, offer.SellerID, "rfq.offer_accepted", models.PriorityNormal, map[string]any{
			"rfqId": rfqID, "offerId": offerID,
		})
		e.notifier.Notify(ctx, r.BuyerID, "rfq.proforma_pending", models.PriorityNormal, map[string]any{
			"rfqId":  r.ID,
			"status": r.Status,
		})
		return r, nil
	}

	o := buildOrder(r, offer)
	entries, err := e.orders.Build(ctx, o)
	if err != nil {
		return nil, err
	}
	r.Status = models.RFQCompleted
	if err := e.store.AcceptOffer(ctx, r, offerID, o, entries); err != nil {
		return nil, err
	}
	e.logger.Info("rfq accepted", "rfq_id", rfqID, "offer_id", offerID, "price", offer.Price.String(), "order_id", o.ID)
	e.notifier.Notify(ctx, offer.SellerID, "rfq.offer_accepted", models.PriorityNormal, map[string]any{
		"rfqId": rfqID, "offerId": offerID,
	})
	e.announceOrder(ctx, o)
	e.notifier.Notify(ctx, r.BuyerID, "rfq.completed", models.PriorityNormal, map[string]any{
		"rfqId":  r.ID,
		"status": r.Status,
	})
	return r, nil
}

// IssueProforma is the winning seller's move from ProformaSent to
// DepositPending.
func (e *Engine) IssueProforma(ctx context.Context, rfqID, actorID int) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	offer, err := e.acceptedOffer(ctx, r)
	if err != nil {
		return nil, err
	}
	if actorID != offer.SellerID {
		return nil, models.ErrForbidden
	}
	return e.advance(ctx, r, models.RFQDepositPending, "rfq.proforma_issued")
}

// RecordDeposit requires the exact deposit amount: agreed price times the
// deposit percent, no tolerance.
func (e *Engine) RecordDeposit(ctx context.Context, rfqID, actorID int, amount decimal.Decimal) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if actorID != r.BuyerID {
		return nil, models.ErrForbidden
	}
	if r.Status != models.RFQDepositPending {
		if models.RFQTerminal(r.Status) {
			return nil, models.ErrAlreadyFinal
		}
		return nil, models.Errf(models.CodeInvalidTransition, "rfq %d is not awaiting a deposit", rfqID)
	}
	offer, err := e.acceptedOffer(ctx, r)
	if err != nil {
		return nil, err
	}
	expected := offer.Price.Mul(decimal.NewFromInt(int64(r.DepositPercent))).Div(decimal.NewFromInt(100)).Round(2)
	if !amount.Equal(expected) {
		return nil, models.Errf(models.CodeAmountMismatch,
			"deposit must be exactly %s, got %s", expected, amount)
	}
	updated, err := e.advance(ctx, r, models.RFQInProduction, "rfq.deposit_recorded")
	if err != nil {
		return nil, err
	}
	e.notifier.Notify(ctx, offer.SellerID, "rfq.deposit_recorded", models.PriorityNormal, map[string]any{
		"rfqId": rfqID, "amount": amount.String(),
	})
	return updated, nil
}

// CompleteProduction ends the custom-product branch and hands off to the
// order engine.
func (e *Engine) CompleteProduction(ctx context.Context, rfqID, actorID int) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	offer, err := e.acceptedOffer(ctx, r)
	if err != nil {
		return nil, err
	}
	if actorID != offer.SellerID {
		return nil, models.ErrForbidden
	}
	if r.Status != models.RFQInProduction {
		if models.RFQTerminal(r.Status) {
			return nil, models.ErrAlreadyFinal
		}
		return nil, models.Errf(models.CodeInvalidTransition, "rfq %d is not in production", rfqID)
	}
	return e.spawnOrder(ctx, r, offer)
}

// Cancel is buyer-initiated only; an RFQ that silently runs out is Expired,
// never Cancelled.
func (e *Engine) Cancel(ctx context.Context, rfqID, actorID int) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if actorID != r.BuyerID {
		return nil, models.ErrForbidden
	}
	if models.RFQTerminal(r.Status) {
		return nil, models.ErrAlreadyFinal
	}
	if !models.CanRFQTransition(r.Status, models.RFQCancelled) {
		return nil, models.Errf(models.CodeInvalidTransition, "cannot cancel rfq in status %s", r.Status)
	}
	return e.advance(ctx, r, models.RFQCancelled, "rfq.cancelled")
}

// Expire is idempotent: re-expiring an expired RFQ is a no-op. Only RFQs
// still open for offers can expire; terminal ones report AlreadyFinal, the
// rest (Draft, anything past acceptance) report an invalid transition.
func (e *Engine) Expire(ctx context.Context, rfqID int) (*models.RFQ, error) {
	r, err := e.store.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if r.Status == models.RFQExpired {
		return r, nil
	}
	if models.RFQTerminal(r.Status) {
		return nil, models.ErrAlreadyFinal
	}
	if !models.RFQOpenForOffers(r.Status) {
		return nil, models.Errf(models.CodeInvalidTransition, "rfq %d cannot expire from status %s", rfqID, r.Status)
	}
	if r.Deadline.After(e.now()) {
		return nil, models.Errf(models.CodeInvalidTransition, "rfq %d deadline has not passed yet", rfqID)
	}
	return e.advance(ctx, r, models.RFQExpired, "rfq.expired")
}

// SweepExpired expires every overdue RFQ still open for offers.
func (e *Engine) SweepExpired(ctx context.Context) error {
	overdue, err := e.store.ListExpiredRFQs(ctx, e.now())
	if err != nil {
		return err
	}
	for i := range overdue {
		if _, err := e.Expire(ctx, overdue[i].ID); err != nil {
			switch models.CodeOf(err) {
			case models.CodeAlreadyFinal, models.CodeConflict, models.CodeInvalidTransition:
				continue
			}
			e.logger.Error("rfq expiry failed", "rfq_id", overdue[i].ID, "error", err)
		}
	}
	return nil
}

// spawnOrder finishes the production branch. The order is built first and
// committed together with the InProduction -> Completed hop, so a failure on
// either side keeps the RFQ retryable in InProduction.
func (e *Engine) spawnOrder(ctx context.Context, r *models.RFQ, offer *models.Offer) (*models.RFQ, error) {
	o := buildOrder(r, offer)
	entries, err := e.orders.Build(ctx, o)
	if err != nil {
		return nil, err
	}
	if !models.CanRFQTransition(r.Status, models.RFQCompleted) {
		return nil, models.Errf(models.CodeInvalidTransition, "cannot go from %s to %s", r.Status, models.RFQCompleted)
	}
	r.Status = models.RFQCompleted
	if err := e.store.CompleteRFQWithOrder(ctx, r, o, entries); err != nil {
		return nil, err
	}
	e.logger.Info("rfq spawned order", "rfq_id", r.ID, "order_id", o.ID)
	e.announceOrder(ctx, o)
	e.notifier.Notify(ctx, r.BuyerID, "rfq.completed", models.PriorityNormal, map[string]any{
		"rfqId":  r.ID,
		"status": r.Status,
	})
	return r, nil
}

func buildOrder(r *models.RFQ, offer *models.Offer) *models.Order {
	return &models.Order{
		BuyerID:  r.BuyerID,
		SellerID: offer.SellerID,
		Category: "standard",
		Items: []models.OrderItem{
			{ProductID: 0, Quantity: 1, UnitPrice: offer.Price},
		},
	}
}

func (e *Engine) announceOrder(ctx context.Context, o *models.Order) {
	payload := map[string]any{
		"orderId": o.ID,
		"status":  o.Status,
		"total":   o.Total.String(),
	}
	e.notifier.Notify(ctx, o.BuyerID, "order.placed", models.PriorityNormal, payload)
	e.notifier.Notify(ctx, o.SellerID, "order.placed", models.PriorityNormal, payload)
}

func (e *Engine) acceptedOffer(ctx context.Context, r *models.RFQ) (*models.Offer, error) {
	if r.AcceptedOfferID == nil {
		return nil, models.Errf(models.CodeInvalidTransition, "rfq %d has no accepted offer", r.ID)
	}
	return e.store.GetOffer(ctx, *r.AcceptedOfferID)
}

func (e *Engine) advance(ctx context.Context, r *models.RFQ, to, event string) (*models.RFQ, error) {
	if !models.CanRFQTransition(r.Status, to) {
		return nil, models.Errf(models.CodeInvalidTransition, "cannot go from %s to %s", r.Status, to)
	}
	r.Status = to
	if err := e.store.UpdateRFQStatus(ctx, r); err != nil {
		return nil, err
	}
	e.notifier.Notify(ctx, r.BuyerID, event, models.PriorityNormal, map[string]any{
		"rfqId":  r.ID,
		"status": r.Status,
	})
	return r, nil
}
