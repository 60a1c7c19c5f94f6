package db

import (
	"context"

	"marketplace/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// LedgerEntry (Журнал проводок) — append-only; статус меняется только вперёд,
// исправления всегда компенсирующей записью.

func decimalFromInt(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

func insertEntry(ctx context.Context, tx *sqlx.Tx, e *models.LedgerEntry) error {
	query := `
        INSERT INTO ledger_entries (seller_id, order_id, kind, amount, status, reason)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at`
	return tx.QueryRowContext(ctx, query,
		e.SellerID, e.OrderID, e.Kind, e.Amount, e.Status, e.Reason).
		Scan(&e.ID, &e.CreatedAt)
}

func (s *Storage) CreateLedgerEntry(ctx context.Context, e *models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return insertEntry(ctx, tx, e)
	})
}

func (s *Storage) GetLedgerEntry(ctx context.Context, id int64) (*models.LedgerEntry, error) {
	e := &models.LedgerEntry{}
	if err := s.db.GetContext(ctx, e, `SELECT * FROM ledger_entries WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// SetLedgerEntryStatus moves an entry forward only from the expected status,
// so a concurrent settle/fail cannot clobber a completed entry.
func (s *Storage) SetLedgerEntryStatus(ctx context.Context, id int64, from, to string, reason *string) error {
	query := `
        UPDATE ledger_entries
        SET status=$1, reason=COALESCE($2, reason)
        WHERE id=$3 AND status=$4`
	res, err := s.db.ExecContext(ctx, query, to, reason, id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrVersionConflict
	}
	return nil
}

func (s *Storage) ListSellerEntries(ctx context.Context, sellerID, limit, offset int) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	query := `
        SELECT * FROM ledger_entries
        WHERE seller_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &entries, query, sellerID, limit, offset)
	return entries, err
}

// ListAllSellerEntries feeds the balance fold; no pagination on purpose.
func (s *Storage) ListAllSellerEntries(ctx context.Context, sellerID int) ([]models.LedgerEntry, error) {
	entries := []models.LedgerEntry{}
	query := `SELECT * FROM ledger_entries WHERE seller_id = $1 ORDER BY id`
	err := s.db.SelectContext(ctx, &entries, query, sellerID)
	return entries, err
}
