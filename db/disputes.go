package db

import (
	"context"
	"time"

	"marketplace/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Dispute (Спор / возврат)

// CreateDisputeWithHold inserts the dispute and posts the Hold against the
// seller in one transaction. The partial unique index on disputes(order_id)
// for non-final statuses guards the one-active-dispute invariant.
func (s *Storage) CreateDisputeWithHold(ctx context.Context, d *models.Dispute, hold *models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertEntry(ctx, tx, hold); err != nil {
			return err
		}
		d.HoldEntryID = &hold.ID
		query := `
            INSERT INTO disputes
                (order_id, opened_by, opener_role, category, description, evidence_refs,
                 status, response_deadline, hold_entry_id, version)
            VALUES
                ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
            RETURNING id, created_at`
		err := tx.QueryRowContext(ctx, query,
			d.OrderID, d.OpenedBy, d.OpenerRole, d.Category, d.Description,
			d.EvidenceRefs, d.Status, d.ResponseDeadline, d.HoldEntryID).
			Scan(&d.ID, &d.CreatedAt)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return models.Errf(models.CodeConflict, "order %d already has an active dispute", d.OrderID)
			}
			return err
		}
		d.Version = 1
		return nil
	})
}

func (s *Storage) GetDispute(ctx context.Context, id int) (*models.Dispute, error) {
	d := &models.Dispute{}
	if err := s.db.GetContext(ctx, d, `SELECT * FROM disputes WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (s *Storage) UpdateDisputeStatus(ctx context.Context, d *models.Dispute) error {
	query := `
        UPDATE disputes
        SET status=$1, counter_statement=$2, counter_evidence=$3,
            proposed_amount=$4, proposal_rationale=$5, contest_rounds=$6,
            resolution_amount=$7, decided_by=$8, resolved_at=$9,
            version=version+1, updated_at=NOW()
        WHERE id=$10 AND version=$11`
	res, err := s.db.ExecContext(ctx, query,
		d.Status, d.CounterStatement, d.CounterEvidence,
		d.ProposedAmount, d.ProposalRationale, d.ContestRounds,
		d.ResolutionAmount, d.DecidedBy, d.ResolvedAt,
		d.ID, d.Version)
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
	d.Version++
	return nil
}

// ResolveDispute finalizes the dispute and settles the hold as a unit: the
// Hold completes, the Refund/Release compensating entries are posted, and the
// order's pending Sale/Commission postings are superseded (Failed).
func (s *Storage) ResolveDispute(ctx context.Context, d *models.Dispute, refund, release *models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE disputes
            SET status=$1, resolution_amount=$2, decided_by=$3, resolved_at=$4,
                contest_rounds=$5, version=version+1, updated_at=NOW()
            WHERE id=$6 AND version=$7`,
			d.Status, d.ResolutionAmount, d.DecidedBy, d.ResolvedAt,
			d.ContestRounds, d.ID, d.Version)
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
		if d.HoldEntryID != nil {
			if _, err := tx.ExecContext(ctx, `
                UPDATE ledger_entries SET status=$1 WHERE id=$2 AND status=$3`,
				models.EntryCompleted, *d.HoldEntryID, models.EntryProcessing); err != nil {
				return err
			}
		}
		for _, e := range []*models.LedgerEntry{refund, release} {
			if e == nil {
				continue
			}
			if err := insertEntry(ctx, tx, e); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
            UPDATE ledger_entries
            SET status=$1
            WHERE order_id=$2 AND kind IN ($3, $4) AND status=$5`,
			models.EntryFailed, d.OrderID, models.EntrySale, models.EntryCommission, models.EntryPending)
		if err != nil {
			return err
		}
		d.Version++
		return nil
	})
}

// WithdrawDispute voids the hold; the order keeps its normal close path.
func (s *Storage) WithdrawDispute(ctx context.Context, d *models.Dispute) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE disputes
            SET status=$1, version=version+1, updated_at=NOW()
            WHERE id=$2 AND version=$3`,
			d.Status, d.ID, d.Version)
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
		if d.HoldEntryID != nil {
			if _, err := tx.ExecContext(ctx, `
                UPDATE ledger_entries SET status=$1 WHERE id=$2 AND status=$3`,
				models.EntryFailed, *d.HoldEntryID, models.EntryProcessing); err != nil {
				return err
			}
		}
		d.Version++
		return nil
	})
}

func (s *Storage) GetDisputesForOrder(ctx context.Context, orderID int) ([]models.Dispute, error) {
	disputes := []models.Dispute{}
	query := `SELECT * FROM disputes WHERE order_id=$1 ORDER BY created_at DESC`
	err := s.db.SelectContext(ctx, &disputes, query, orderID)
	return disputes, err
}

// ListResponseTimeouts returns disputes still awaiting a response past their
// deadline, for the sweep to time out.
func (s *Storage) ListResponseTimeouts(ctx context.Context, now time.Time) ([]models.Dispute, error) {
	disputes := []models.Dispute{}
	query := `
        SELECT * FROM disputes
        WHERE status = $1 AND response_deadline <= $2
        ORDER BY response_deadline ASC`
	err := s.db.SelectContext(ctx, &disputes, query, models.DisputeAwaitingResponse, now)
	return disputes, err
}
