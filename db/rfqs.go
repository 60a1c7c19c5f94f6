package db

import (
	"context"
	"time"

	"marketplace/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RFQ (Запрос котировок) и Offer (Предложение поставщика)

func (s *Storage) CreateRFQ(ctx context.Context, r *models.RFQ) error {
	query := `
        INSERT INTO rfqs
            (buyer_id, type, description, quantity, unit, zone, deadline,
             budget_ceiling, status, proforma_required, deposit_percent, version)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1)
        RETURNING id, created_at`
	err := s.db.QueryRowContext(ctx, query,
		r.BuyerID, r.Type, r.Description, r.Quantity, r.Unit, r.Zone, r.Deadline,
		r.BudgetCeiling, r.Status, r.ProformaRequired, r.DepositPercent).
		Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return err
	}
	r.Version = 1
	return nil
}

func (s *Storage) GetRFQ(ctx context.Context, id int) (*models.RFQ, error) {
	r := &models.RFQ{}
	if err := s.db.GetContext(ctx, r, `SELECT * FROM rfqs WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers,
		`SELECT * FROM offers WHERE rfq_id=$1 ORDER BY submitted_at`, id)
	if err != nil {
		return nil, err
	}
	r.Offers = offers
	return r, nil
}

func (s *Storage) UpdateRFQStatus(ctx context.Context, r *models.RFQ) error {
	query := `
        UPDATE rfqs
        SET status=$1, accepted_offer_id=$2, order_id=$3,
            version=version+1, updated_at=NOW()
        WHERE id=$4 AND version=$5`
	res, err := s.db.ExecContext(ctx, query,
		r.Status, r.AcceptedOfferID, r.OrderID, r.ID, r.Version)
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
	r.Version++
	return nil
}

// CreateOffer relies on the partial unique index (rfq_id, seller_id) WHERE
// status='Active' to reject a second active offer from the same seller.
func (s *Storage) CreateOffer(ctx context.Context, o *models.Offer) error {
	query := `
        INSERT INTO offers (rfq_id, seller_id, price, lead_time_days, terms, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, submitted_at`
	err := s.db.QueryRowContext(ctx, query,
		o.RFQID, o.SellerID, o.Price, o.LeadTimeDays, o.Terms, o.Status).
		Scan(&o.ID, &o.SubmittedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return models.Errf(models.CodeConflict, "seller %d already has an active offer on rfq %d", o.SellerID, o.RFQID)
		}
		return err
	}
	return nil
}

func (s *Storage) GetOffer(ctx context.Context, id int) (*models.Offer, error) {
	o := &models.Offer{}
	if err := s.db.GetContext(ctx, o, `SELECT * FROM offers WHERE id=$1`, id); err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

func (s *Storage) SetOfferStatus(ctx context.Context, offerID int, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET status=$1 WHERE id=$2`, status, offerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// AcceptOffer commits the buyer's choice as a single unit: the RFQ lands in
// its post-acceptance status, the winning offer is marked, every other active
// offer is demoted, and for the direct branch the spawned order with its
// postings is created too. A failure anywhere rolls the whole acceptance
// back, so the RFQ is never left half-accepted. The RFQ version CAS makes
// concurrent acceptances produce exactly one winner.
func (s *Storage) AcceptOffer(ctx context.Context, r *models.RFQ, offerID int, o *models.Order, entries []*models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if o != nil {
			if err := insertOrderWithEntries(ctx, tx, o, entries); err != nil {
				return err
			}
			r.OrderID = &o.ID
		}
		res, err := tx.ExecContext(ctx, `
            UPDATE rfqs
            SET status=$1, accepted_offer_id=$2, order_id=$3,
                version=version+1, updated_at=NOW()
            WHERE id=$4 AND version=$5`,
			r.Status, offerID, r.OrderID, r.ID, r.Version)
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
		if _, err := tx.ExecContext(ctx,
			`UPDATE offers SET status=$1 WHERE id=$2`, models.OfferWinning, offerID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            UPDATE offers SET status=$1
            WHERE rfq_id=$2 AND id<>$3 AND status=$4`,
			models.OfferNonWinning, r.ID, offerID, models.OfferActive); err != nil {
			return err
		}
		r.Version++
		acceptedID := offerID
		r.AcceptedOfferID = &acceptedID
		return nil
	})
}

// CompleteRFQWithOrder ends the production branch: the order and its postings
// are created and the RFQ closes out in the same transaction.
func (s *Storage) CompleteRFQWithOrder(ctx context.Context, r *models.RFQ, o *models.Order, entries []*models.LedgerEntry) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := insertOrderWithEntries(ctx, tx, o, entries); err != nil {
			return err
		}
		r.OrderID = &o.ID
		res, err := tx.ExecContext(ctx, `
            UPDATE rfqs
            SET status=$1, order_id=$2, version=version+1, updated_at=NOW()
            WHERE id=$3 AND version=$4`,
			r.Status, r.OrderID, r.ID, r.Version)
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
		r.Version++
		return nil
	})
}

func (s *Storage) GetBuyerRFQs(ctx context.Context, buyerID, limit, offset int) ([]models.RFQ, error) {
	rfqs := []models.RFQ{}
	query := `
        SELECT * FROM rfqs
        WHERE buyer_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &rfqs, query, buyerID, limit, offset)
	return rfqs, err
}

// ListExpiredRFQs returns RFQs past deadline that the sweep should expire.
func (s *Storage) ListExpiredRFQs(ctx context.Context, now time.Time) ([]models.RFQ, error) {
	rfqs := []models.RFQ{}
	query := `
        SELECT * FROM rfqs
        WHERE status IN ($1, $2) AND deadline <= $3
        ORDER BY deadline ASC`
	err := s.db.SelectContext(ctx, &rfqs, query,
		models.RFQPublished, models.RFQOffersReceived, now)
	return rfqs, err
}
