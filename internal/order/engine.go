package order

import (
	"context"
	"log/slog"
	"time"

	"marketplace/internal/ledger"
	"marketplace/models"
)

// Storage is the slice of db.Storage the engine needs; tests provide mocks.
type Storage interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetOrder(ctx context.Context, id int) (*models.Order, error)
	CreateOrderWithEntries(ctx context.Context, o *models.Order, entries []*models.LedgerEntry) error
	UpdateOrderStatus(ctx context.Context, o *models.Order) error
	FinalizeOrder(ctx context.Context, o *models.Order, entryStatus string) error
	ActiveDisputeExists(ctx context.Context, orderID int) (bool, error)
	ListAutoCloseCandidates(ctx context.Context, deliveredBefore time.Time) ([]models.Order, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int, eventType, priority string, payload map[string]any)
}

// Engine owns the fulfillment state machine. Every transition is applied
// under the order's version CAS, so concurrent actors get exactly one winner.
type Engine struct {
	store         Storage
	notifier      Notifier
	rates         ledger.Rates
	disputeWindow time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewEngine(store Storage, notifier Notifier, rates ledger.Rates, disputeWindow time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:         store,
		notifier:      notifier,
		rates:         rates,
		disputeWindow: disputeWindow,
		logger:        logger,
		now:           time.Now,
	}
}

// DisputeWindow is the delay after delivery during which a dispute may still
// be opened; auto-close runs once it elapses.
func (e *Engine) DisputeWindow() time.Duration { return e.disputeWindow }

// Build validates the order, fixes its total and computes the pending
// Sale (net of commission) and Commission postings without persisting
// anything. Callers that must create the order inside a larger transaction
// use it to assemble the unit first.
func (e *Engine) Build(ctx context.Context, o *models.Order) ([]*models.LedgerEntry, error) {
	if len(o.Items) == 0 {
		return nil, models.Errf(models.CodeValidation, "order must have at least one line item")
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return nil, models.Errf(models.CodeValidation, "item quantity must be positive")
		}
		if it.UnitPrice.IsNegative() {
			return nil, models.Errf(models.CodeValidation, "item unit price must not be negative")
		}
	}
	itemsTotal := o.ItemsTotal()
	if o.Total.IsZero() {
		o.Total = itemsTotal
	} else if !o.Total.Equal(itemsTotal) {
		return nil, models.Errf(models.CodeAmountMismatch,
			"order total %s does not match line items %s", o.Total, itemsTotal)
	}

	seller, err := e.store.GetUser(ctx, o.SellerID)
	if err != nil {
		return nil, err
	}
	if seller.Role != "seller" || !seller.Active {
		return nil, models.Errf(models.CodeForbidden, "seller %d is not an active seller", o.SellerID)
	}
	if _, err := e.store.GetUser(ctx, o.BuyerID); err != nil {
		return nil, err
	}

	commission := e.rates.Commission(o.Total, o.Category)
	o.Status = models.OrderPlaced
	return []*models.LedgerEntry{
		{
			SellerID: o.SellerID,
			Kind:     models.EntrySale,
			Amount:   o.Total.Sub(commission),
			Status:   models.EntryPending,
		},
		{
			SellerID: o.SellerID,
			Kind:     models.EntryCommission,
			Amount:   commission,
			Status:   models.EntryPending,
		},
	}, nil
}

// Place validates the order, creates it in Placed and posts the pending
// Sale and Commission entries in the same transaction.
func (e *Engine) Place(ctx context.Context, o *models.Order) error {
	entries, err := e.Build(ctx, o)
	if err != nil {
		return err
	}
	if err := e.store.CreateOrderWithEntries(ctx, o, entries); err != nil {
		return err
	}

	e.logger.Info("order placed", "order_id", o.ID, "buyer_id", o.BuyerID, "seller_id", o.SellerID, "total", o.Total.String())
	e.emit(ctx, o, "order.placed", models.PriorityNormal)
	return nil
}

func (e *Engine) Get(ctx context.Context, orderID int) (*models.Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

func (e *Engine) Confirm(ctx context.Context, orderID, actorID int) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID != o.SellerID {
		return nil, models.ErrForbidden
	}
	return e.advance(ctx, o, models.OrderConfirmed, "order.confirmed", nil)
}

func (e *Engine) Prepare(ctx context.Context, orderID, actorID int) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID != o.SellerID {
		return nil, models.ErrForbidden
	}
	return e.advance(ctx, o, models.OrderPreparing, "order.preparing", nil)
}

func (e *Engine) Ship(ctx context.Context, orderID, actorID int, trackingRef string) (*models.Order, error) {
	if trackingRef == "" {
		return nil, models.Errf(models.CodeValidation, "trackingRef is required")
	}
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID != o.SellerID {
		return nil, models.ErrForbidden
	}
	return e.advance(ctx, o, models.OrderShipped, "order.shipped", func(o *models.Order) {
		now := e.now()
		o.ShippedAt = &now
		o.TrackingRef = &trackingRef
	})
}

// MarkDelivered accepts the buyer's confirmation, or a courier confirmation
// arriving with actorID 0. DeliveredAt opens the dispute eligibility window.
func (e *Engine) MarkDelivered(ctx context.Context, orderID, actorID int) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID != 0 && actorID != o.BuyerID {
		return nil, models.ErrForbidden
	}
	return e.advance(ctx, o, models.OrderDelivered, "order.delivered", func(o *models.Order) {
		now := e.now()
		o.DeliveredAt = &now
	})
}

// Close settles the Sale/Commission postings and makes the funds available.
// Closing an already closed order is a no-op so that the deadline sweep and a
// user-initiated close can race safely.
func (e *Engine) Close(ctx context.Context, orderID int) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == models.OrderClosed {
		return o, nil
	}
	if !models.CanOrderTransition(o.Status, models.OrderClosed) {
		if models.OrderTerminal(o.Status) {
			return nil, models.ErrAlreadyFinal
		}
		return nil, models.Errf(models.CodeInvalidTransition, "cannot close order in status %s", o.Status)
	}
	active, err := e.store.ActiveDisputeExists(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, models.Errf(models.CodeConflict, "order %d has an active dispute", o.ID)
	}
	o.Status = models.OrderClosed
	if err := e.store.FinalizeOrder(ctx, o, models.EntryCompleted); err != nil {
		return nil, err
	}
	e.logger.Info("order closed", "order_id", o.ID)
	e.emit(ctx, o, "order.closed", models.PriorityInfo)
	return o, nil
}

// Cancel is only reachable before shipment; it reverses the pending postings.
func (e *Engine) Cancel(ctx context.Context, orderID, actorID int, reason string) (*models.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if actorID != o.BuyerID && actorID != o.SellerID {
		return nil, models.ErrForbidden
	}
	if models.OrderTerminal(o.Status) {
		return nil, models.ErrAlreadyFinal
	}
	if !models.CanOrderTransition(o.Status, models.OrderCancelled) {
		return nil, models.Errf(models.CodeInvalidTransition,
			"cannot cancel order in status %s, use the dispute path", o.Status)
	}
	o.Status = models.OrderCancelled
	if err := e.store.FinalizeOrder(ctx, o, models.EntryFailed); err != nil {
		return nil, err
	}
	e.logger.Info("order cancelled", "order_id", o.ID, "actor_id", actorID, "reason", reason)
	e.emit(ctx, o, "order.cancelled", models.PriorityNormal)
	return o, nil
}

// SweepAutoClose closes delivered orders whose dispute window elapsed with no
// open dispute. Races with user actions lose the CAS and are skipped.
func (e *Engine) SweepAutoClose(ctx context.Context) error {
	cutoff := e.now().Add(-e.disputeWindow)
	candidates, err := e.store.ListAutoCloseCandidates(ctx, cutoff)
	if err != nil {
		return err
	}
	for i := range candidates {
		o := candidates[i]
		if _, err := e.Close(ctx, o.ID); err != nil {
			switch models.CodeOf(err) {
			case models.CodeConflict, models.CodeAlreadyFinal, models.CodeInvalidTransition:
				continue
			}
			e.logger.Error("auto-close failed", "order_id", o.ID, "error", err)
		}
	}
	return nil
}

func (e *Engine) advance(ctx context.Context, o *models.Order, to, event string, stamp func(*models.Order)) (*models.Order, error) {
	if models.OrderTerminal(o.Status) {
		return nil, models.ErrAlreadyFinal
	}
	if !models.CanOrderTransition(o.Status, to) {
		return nil, models.Errf(models.CodeInvalidTransition, "cannot go from %s to %s", o.Status, to)
	}
	o.Status = to
	if stamp != nil {
		stamp(o)
	}
	if err := e.store.UpdateOrderStatus(ctx, o); err != nil {
		return nil, err
	}
	e.emit(ctx, o, event, models.PriorityNormal)
	return o, nil
}

func (e *Engine) emit(ctx context.Context, o *models.Order, event, priority string) {
	payload := map[string]any{
		"orderId": o.ID,
		"status":  o.Status,
		"total":   o.Total.String(),
	}
	if o.TrackingRef != nil {
		payload["trackingRef"] = *o.TrackingRef
	}
	e.notifier.Notify(ctx, o.BuyerID, event, priority, payload)
	e.notifier.Notify(ctx, o.SellerID, event, priority, payload)
}
