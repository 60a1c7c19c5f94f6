package dispute

import (
	"context"
	"log/slog"
	"time"

	"marketplace/models"

	"github.com/shopspring/decimal"
)

type Storage interface {
	GetUser(ctx context.Context, id int) (*models.User, error)
	GetOrder(ctx context.Context, id int) (*models.Order, error)
	GetDispute(ctx context.Context, id int) (*models.Dispute, error)
	CreateDisputeWithHold(ctx context.Context, d *models.Dispute, hold *models.LedgerEntry) error
	UpdateDisputeStatus(ctx context.Context, d *models.Dispute) error
	ResolveDispute(ctx context.Context, d *models.Dispute, refund, release *models.LedgerEntry) error
	WithdrawDispute(ctx context.Context, d *models.Dispute) error
	GetLedgerEntry(ctx context.Context, id int64) (*models.LedgerEntry, error)
	ListResponseTimeouts(ctx context.Context, now time.Time) ([]models.Dispute, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int, eventType, priority string, payload map[string]any)
}

// Policy holds the knobs the business has not confirmed yet; defaults follow
// the platform rules (72h response window, two contest rounds, timeout
// favors the opener).
type Policy struct {
	ResponseWindow      time.Duration
	MaxContestRounds    int
	TimeoutFavorsOpener bool
}

func DefaultPolicy() Policy {
	return Policy{
		ResponseWindow:      72 * time.Hour,
		MaxContestRounds:    2,
		TimeoutFavorsOpener: true,
	}
}

type Engine struct {
	store    Storage
	notifier Notifier
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(store Storage, notifier Notifier, policy Policy, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// Open requires a delivered order and places a Hold for the full order
// amount against the seller; the counterparty gets the response window to
// answer.
func (e *Engine) Open(ctx context.Context, orderID, openedBy int, category, description string, evidence []string) (*models.Dispute, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var openerRole string
	switch openedBy {
	case o.BuyerID:
		openerRole = "buyer"
	case o.SellerID:
		openerRole = "seller"
	default:
		return nil, models.ErrForbidden
	}
	if o.Status != models.OrderDelivered {
		return nil, models.Errf(models.CodeInvalidTransition,
			"disputes require a delivered order, got %s", o.Status)
	}

	hold := &models.LedgerEntry{
		SellerID: o.SellerID,
		OrderID:  &o.ID,
		Kind:     models.EntryHold,
		Amount:   o.Total,
		Status:   models.EntryProcessing,
	}
	d := &models.Dispute{
		OrderID:          orderID,
		OpenedBy:         openedBy,
		OpenerRole:       openerRole,
		Category:         category,
		Description:      description,
		EvidenceRefs:     evidence,
		Status:           models.DisputeAwaitingResponse,
		ResponseDeadline: e.now().Add(e.policy.ResponseWindow),
	}
	if err := e.store.CreateDisputeWithHold(ctx, d, hold); err != nil {
		return nil, err
	}

	e.logger.Info("dispute opened", "dispute_id", d.ID, "order_id", orderID, "opened_by", openedBy, "held", o.Total.String())
	e.notifier.Notify(ctx, e.counterparty(o, openedBy), "dispute.opened", models.PriorityUrgent, map[string]any{
		"disputeId":        d.ID,
		"orderId":          orderID,
		"responseDeadline": d.ResponseDeadline,
	})
	return d, nil
}

func (e *Engine) Get(ctx context.Context, disputeID int) (*models.Dispute, error) {
	return e.store.GetDispute(ctx, disputeID)
}

// Respond records the counterparty's statement before the deadline.
func (e *Engine) Respond(ctx context.Context, disputeID, actorID int, statement string, evidence []string) (*models.Dispute, error) {
	d, o, err := e.load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actorID != e.counterparty(o, d.OpenedBy) {
		return nil, models.ErrForbidden
	}
	if d.Status != models.DisputeAwaitingResponse {
		return nil, e.transitionErr(d, models.DisputeResponded)
	}
	if !d.ResponseDeadline.After(e.now()) {
		return nil, models.ErrDeadlinePassed
	}
	d.Status = models.DisputeResponded
	d.CounterStatement = &statement
	d.CounterEvidence = evidence
	if err := e.store.UpdateDisputeStatus(ctx, d); err != nil {
		return nil, err
	}
	e.notifier.Notify(ctx, d.OpenedBy, "dispute.responded", models.PriorityNormal, map[string]any{
		"disputeId": d.ID,
	})
	return d, nil
}

// ProposeMediation is mediator-only. A repeated call while a proposal is on
// the table replaces it (the revised proposal after a contest).
func (e *Engine) ProposeMediation(ctx context.Context, disputeID, actorID int, amount decimal.Decimal, rationale string) (*models.Dispute, error) {
	mediator, err := e.store.GetUser(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if mediator.Role != "mediator" {
		return nil, models.ErrForbidden
	}
	d, _, err := e.load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	held, err := e.heldAmount(ctx, d)
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() || amount.GreaterThan(held) {
		return nil, models.Errf(models.CodeAmountExceedsHold,
			"proposal %s exceeds held amount %s", amount, held)
	}
	switch d.Status {
	case models.DisputeResponded, models.DisputeTimedOut:
		d.Status = models.DisputeMediationProposed
	case models.DisputeMediationProposed:
		// revised proposal, status unchanged
	default:
		return nil, e.transitionErr(d, models.DisputeMediationProposed)
	}
	d.ProposedAmount = &amount
	d.ProposalRationale = &rationale
	if err := e.store.UpdateDisputeStatus(ctx, d); err != nil {
		return nil, err
	}
	o, err := e.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"disputeId": d.ID, "amount": amount.String()}
	e.notifier.Notify(ctx, o.BuyerID, "dispute.mediation_proposed", models.PriorityUrgent, payload)
	e.notifier.Notify(ctx, o.SellerID, "dispute.mediation_proposed", models.PriorityUrgent, payload)
	return d, nil
}

// Decide lets either party accept or contest the proposal. Contesting is
// bounded: each contest up to the configured limit asks the mediator for a
// revised proposal, and once the limit is spent the next contest forces the
// standing proposal through so the dispute always terminates.
func (e *Engine) Decide(ctx context.Context, disputeID, actorID int, decision string) (*models.Dispute, error) {
	d, o, err := e.load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actorID != o.BuyerID && actorID != o.SellerID {
		return nil, models.ErrForbidden
	}
	if d.Status != models.DisputeMediationProposed {
		return nil, e.transitionErr(d, models.DisputeResolved)
	}
	if d.ProposedAmount == nil {
		return nil, models.Errf(models.CodeInvalidTransition, "dispute %d has no proposal", d.ID)
	}

	switch decision {
	case "accept":
		by := "buyer"
		if actorID == o.SellerID {
			by = "seller"
		}
		return e.resolve(ctx, d, o, *d.ProposedAmount, by)
	case "contest":
		if d.ContestRounds >= e.policy.MaxContestRounds {
			return e.resolve(ctx, d, o, *d.ProposedAmount, "system")
		}
		d.ContestRounds++
		if err := e.store.UpdateDisputeStatus(ctx, d); err != nil {
			return nil, err
		}
		e.notifier.Notify(ctx, e.counterparty(o, actorID), "dispute.contested", models.PriorityNormal, map[string]any{
			"disputeId": d.ID,
			"round":     d.ContestRounds,
		})
		return d, nil
	default:
		return nil, models.Errf(models.CodeValidation, "decision must be accept or contest")
	}
}

// Withdraw is opener-only and only before mediation starts; it voids the
// hold and leaves the order on its normal close path.
func (e *Engine) Withdraw(ctx context.Context, disputeID, actorID int) (*models.Dispute, error) {
	d, _, err := e.load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if actorID != d.OpenedBy {
		return nil, models.ErrForbidden
	}
	if !models.CanDisputeTransition(d.Status, models.DisputeWithdrawn) {
		return nil, e.transitionErr(d, models.DisputeWithdrawn)
	}
	d.Status = models.DisputeWithdrawn
	if err := e.store.WithdrawDispute(ctx, d); err != nil {
		return nil, err
	}
	e.logger.Info("dispute withdrawn", "dispute_id", d.ID)
	return d, nil
}

// TimeOut moves an unanswered dispute past its deadline and, when the policy
// says so, applies the default resolution in favor of the opener.
func (e *Engine) TimeOut(ctx context.Context, disputeID int) (*models.Dispute, error) {
	d, o, err := e.load(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DisputeAwaitingResponse {
		if models.DisputeFinal(d.Status) {
			return nil, models.ErrAlreadyFinal
		}
		return nil, e.transitionErr(d, models.DisputeTimedOut)
	}
	if d.ResponseDeadline.After(e.now()) {
		return nil, models.Errf(models.CodeInvalidTransition, "dispute %d response deadline has not passed", d.ID)
	}
	d.Status = models.DisputeTimedOut
	if err := e.store.UpdateDisputeStatus(ctx, d); err != nil {
		return nil, err
	}
	e.notifier.Notify(ctx, d.OpenedBy, "dispute.response_timed_out", models.PriorityUrgent, map[string]any{
		"disputeId": d.ID,
	})

	if !e.policy.TimeoutFavorsOpener {
		return d, nil
	}
	held, err := e.heldAmount(ctx, d)
	if err != nil {
		return nil, err
	}
	refund := held
	if d.OpenerRole == "seller" {
		// A seller-opened dispute timing out releases everything back to
		// the seller instead of refunding the buyer.
		refund = decimal.Zero
	}
	return e.resolve(ctx, d, o, refund, "system")
}

// SweepTimeouts times out every dispute past its response deadline; races
// with a user response lose the CAS and are skipped.
func (e *Engine) SweepTimeouts(ctx context.Context) error {
	overdue, err := e.store.ListResponseTimeouts(ctx, e.now())
	if err != nil {
		return err
	}
	for i := range overdue {
		if _, err := e.TimeOut(ctx, overdue[i].ID); err != nil {
			switch models.CodeOf(err) {
			case models.CodeAlreadyFinal, models.CodeConflict, models.CodeInvalidTransition:
				continue
			}
			e.logger.Error("dispute timeout failed", "dispute_id", overdue[i].ID, "error", err)
		}
	}
	return nil
}

// resolve finalizes the dispute: Refund(amount) to the buyer, Release of the
// remainder to the seller, hold completed. The two compensating entries
// always sum to the original hold.
func (e *Engine) resolve(ctx context.Context, d *models.Dispute, o *models.Order, refundAmount decimal.Decimal, by string) (*models.Dispute, error) {
	held, err := e.heldAmount(ctx, d)
	if err != nil {
		return nil, err
	}
	if refundAmount.GreaterThan(held) {
		return nil, models.Errf(models.CodeAmountExceedsHold,
			"resolution %s exceeds held amount %s", refundAmount, held)
	}

	var refund, release *models.LedgerEntry
	if refundAmount.IsPositive() {
		refund = &models.LedgerEntry{
			SellerID: o.SellerID,
			OrderID:  &o.ID,
			Kind:     models.EntryRefund,
			Amount:   refundAmount,
			Status:   models.EntryCompleted,
		}
	}
	if remainder := held.Sub(refundAmount); remainder.IsPositive() {
		release = &models.LedgerEntry{
			SellerID: o.SellerID,
			OrderID:  &o.ID,
			Kind:     models.EntryRelease,
			Amount:   remainder,
			Status:   models.EntryCompleted,
		}
	}

	now := e.now()
	d.Status = models.DisputeResolved
	d.ResolutionAmount = &refundAmount
	d.DecidedBy = &by
	d.ResolvedAt = &now
	if err := e.store.ResolveDispute(ctx, d, refund, release); err != nil {
		return nil, err
	}

	e.logger.Info("dispute resolved", "dispute_id", d.ID, "refund", refundAmount.String(), "decided_by", by)
	payload := map[string]any{
		"disputeId": d.ID,
		"refund":    refundAmount.String(),
		"decidedBy": by,
	}
	e.notifier.Notify(ctx, o.BuyerID, "dispute.resolved", models.PriorityUrgent, payload)
	e.notifier.Notify(ctx, o.SellerID, "dispute.resolved", models.PriorityUrgent, payload)
	return d, nil
}

func (e *Engine) load(ctx context.Context, disputeID int) (*models.Dispute, *models.Order, error) {
	d, err := e.store.GetDispute(ctx, disputeID)
	if err != nil {
		return nil, nil, err
	}
	if models.DisputeFinal(d.Status) {
		return nil, nil, models.ErrAlreadyFinal
	}
	o, err := e.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return nil, nil, err
	}
	return d, o, nil
}

func (e *Engine) heldAmount(ctx context.Context, d *models.Dispute) (decimal.Decimal, error) {
	if d.HoldEntryID == nil {
		return decimal.Zero, models.Errf(models.CodeInvalidTransition, "dispute %d has no hold", d.ID)
	}
	hold, err := e.store.GetLedgerEntry(ctx, *d.HoldEntryID)
	if err != nil {
		return decimal.Zero, err
	}
	return hold.Amount, nil
}

func (e *Engine) counterparty(o *models.Order, userID int) int {
	if userID == o.BuyerID {
		return o.SellerID
	}
	return o.BuyerID
}

func (e *Engine) transitionErr(d *models.Dispute, to string) error {
	if models.DisputeFinal(d.Status) {
		return models.ErrAlreadyFinal
	}
	return models.Errf(models.CodeInvalidTransition, "cannot go from %s to %s", d.Status, to)
}
