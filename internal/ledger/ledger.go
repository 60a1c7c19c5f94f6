package ledger

import (
	"context"
	"log/slog"

	"marketplace/models"

	"github.com/shopspring/decimal"
)

// Rates holds the per-category commission percentages applied at Sale posting
// time. Categories mirror the listing tiers (featured/special/premium).
type Rates struct {
	Tiers   map[string]decimal.Decimal
	Default decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{
		Tiers: map[string]decimal.Decimal{
			"featured": decimal.NewFromInt(5),
			"special":  decimal.NewFromInt(8),
			"premium":  decimal.NewFromInt(12),
		},
		Default: decimal.NewFromInt(5),
	}
}

func (r Rates) For(category string) decimal.Decimal {
	if rate, ok := r.Tiers[category]; ok {
		return rate
	}
	return r.Default
}

// Commission returns the platform cut for an order total, rounded to cents.
func (r Rates) Commission(total decimal.Decimal, category string) decimal.Decimal {
	return total.Mul(r.For(category)).Div(decimal.NewFromInt(100)).Round(2)
}

type Storage interface {
	CreateLedgerEntry(ctx context.Context, e *models.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id int64) (*models.LedgerEntry, error)
	SetLedgerEntryStatus(ctx context.Context, id int64, from, to string, reason *string) error
	ListSellerEntries(ctx context.Context, sellerID, limit, offset int) ([]models.LedgerEntry, error)
	ListAllSellerEntries(ctx context.Context, sellerID int) ([]models.LedgerEntry, error)
}

type Service struct {
	store  Storage
	rates  Rates
	logger *slog.Logger
}

func NewService(store Storage, rates Rates, logger *slog.Logger) *Service {
	return &Service{store: store, rates: rates, logger: logger}
}

func (s *Service) Rates() Rates { return s.rates }

// Post appends an entry, assigning the initial status for its kind when the
// caller left it empty: settlements start Pending, holds start Processing.
func (s *Service) Post(ctx context.Context, e *models.LedgerEntry) error {
	if e.Status == "" {
		switch e.Kind {
		case models.EntryHold, models.EntryPayout:
			e.Status = models.EntryProcessing
		default:
			e.Status = models.EntryPending
		}
	}
	return s.store.CreateLedgerEntry(ctx, e)
}

func (s *Service) Settle(ctx context.Context, id int64) error {
	e, err := s.store.GetLedgerEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.Status == models.EntryCompleted {
		return nil
	}
	if e.Status == models.EntryFailed {
		return models.ErrAlreadyFinal
	}
	return s.store.SetLedgerEntryStatus(ctx, id, e.Status, models.EntryCompleted, nil)
}

func (s *Service) Fail(ctx context.Context, id int64, reason string) error {
	e, err := s.store.GetLedgerEntry(ctx, id)
	if err != nil {
		return err
	}
	if e.Status == models.EntryFailed {
		return nil
	}
	if e.Status == models.EntryCompleted {
		return models.ErrAlreadyFinal
	}
	return s.store.SetLedgerEntryStatus(ctx, id, e.Status, models.EntryFailed, &reason)
}

func (s *Service) Entries(ctx context.Context, sellerID, limit, offset int) ([]models.LedgerEntry, error) {
	return s.store.ListSellerEntries(ctx, sellerID, limit, offset)
}

// Balance recomputes the seller balance as a fold over entries; it is never
// stored, so a failed settlement can never corrupt it.
func (s *Service) Balance(ctx context.Context, sellerID int) (*models.SellerBalance, error) {
	entries, err := s.store.ListAllSellerEntries(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	b := Fold(entries)
	b.SellerID = sellerID
	return b, nil
}

// Fold partitions entries by kind and status:
//   - available: completed Sale and Release, plus any non-failed Payout
//     (payouts carry negative amounts and reserve funds while processing);
//   - pendingSettlement: Sale postings not yet settled;
//   - held: holds still in force.
//
// Refund entries are buyer-directed and never enter the seller balance.
func Fold(entries []models.LedgerEntry) *models.SellerBalance {
	b := &models.SellerBalance{
		Available:         decimal.Zero,
		PendingSettlement: decimal.Zero,
		Held:              decimal.Zero,
	}
	for _, e := range entries {
		switch e.Kind {
		case models.EntrySale:
			switch e.Status {
			case models.EntryCompleted:
				b.Available = b.Available.Add(e.Amount)
			case models.EntryPending, models.EntryProcessing:
				b.PendingSettlement = b.PendingSettlement.Add(e.Amount)
			}
		case models.EntryRelease:
			if e.Status == models.EntryCompleted {
				b.Available = b.Available.Add(e.Amount)
			}
		case models.EntryPayout:
			if e.Status != models.EntryFailed {
				b.Available = b.Available.Add(e.Amount)
			}
		case models.EntryHold:
			if e.Status == models.EntryProcessing {
				b.Held = b.Held.Add(e.Amount)
			}
		}
	}
	return b
}

// RequestPayout posts a negative Payout entry capped by the available
// balance. Settlement to the seller's external account happens out-of-band;
// the entry completes (or fails) when the gateway reports back.
func (s *Service) RequestPayout(ctx context.Context, sellerID int, amount decimal.Decimal) (*models.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, models.Errf(models.CodeAmountMismatch, "payout amount must be positive")
	}
	balance, err := s.Balance(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(balance.Available) {
		return nil, models.Errf(models.CodeAmountMismatch,
			"payout %s exceeds available balance %s", amount, balance.Available)
	}
	entry := &models.LedgerEntry{
		SellerID: sellerID,
		Kind:     models.EntryPayout,
		Amount:   amount.Neg(),
		Status:   models.EntryProcessing,
	}
	if err := s.Post(ctx, entry); err != nil {
		return nil, err
	}
	s.logger.Info("payout requested", "seller_id", sellerID, "amount", amount.String())
	return entry, nil
}
